package chat

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/chattender/analogue"
	"github.com/onnwee/chattender/cache"
	"github.com/onnwee/chattender/telemetry"
	"github.com/onnwee/chattender/users"
	"github.com/onnwee/chattender/weather"
	"github.com/onnwee/chattender/wotd"
)

// Cooldowns, matching how chatty each command is allowed to be per channel.
const (
	weatherCooldown  = time.Minute
	analogueCooldown = time.Minute
	wotdCooldown     = 30 * time.Second
)

// WeatherSource yields a weather report for a location.
type WeatherSource interface {
	Fetch(ctx context.Context, loc users.Location) (*weather.Report, bool)
}

// WotdSource yields the word of the day for a language.
type WotdSource interface {
	Fetch(ctx context.Context, lang wotd.Language) (*wotd.Entry, bool)
}

// StockSource yields the Analogue store stock.
type StockSource interface {
	Fetch(ctx context.Context) (*analogue.Stock, bool)
}

// ChannelResolver resolves a login to its Twitch channel id.
type ChannelResolver interface {
	GetUserID(ctx context.Context, login string) (string, error)
}

// Config wires a Bot. Username and IRCToken are required; every source is
// optional and its commands simply stay silent when absent.
type Config struct {
	Username string
	IRCToken string

	Users    *users.Repository
	Weather  WeatherSource
	Wotd     WotdSource
	Analogue StockSource
	Resolver ChannelResolver

	// OnAuthFailure is called when IRC rejects the bot's credentials,
	// typically auth.Validator.Trigger.
	OnAuthFailure func()
}

// Bot is the IRC chat bot.
type Bot struct {
	cfg    Config
	client *twitch.Client

	weatherTimes  *cache.Cache[string, struct{}]
	analogueTimes *cache.Cache[string, struct{}]
	wotdTimes     *cache.Cache[string, struct{}]
	channelIDs    *cache.Cache[string, string]
}

// NewBot builds a Bot. The IRC token is normalized to the oauth: prefix the
// IRC server expects.
func NewBot(cfg Config) *Bot {
	token := cfg.IRCToken
	if token != "" && !strings.HasPrefix(token, "oauth:") {
		token = "oauth:" + token
	}
	b := &Bot{
		cfg:           cfg,
		client:        twitch.NewClient(cfg.Username, token),
		weatherTimes:  cache.New[string, struct{}](weatherCooldown),
		analogueTimes: cache.New[string, struct{}](analogueCooldown),
		wotdTimes:     cache.New[string, struct{}](wotdCooldown),
		channelIDs:    cache.New[string, string](24 * time.Hour),
	}
	b.client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		if reply, ok := b.handleMessage(context.Background(), msg.Channel, msg.Message); ok {
			b.client.Say(msg.Channel, reply)
		}
	})
	b.client.OnNoticeMessage(func(msg twitch.NoticeMessage) {
		if strings.Contains(strings.ToLower(msg.Message), "login authentication failed") {
			slog.Warn("irc login rejected, requesting credential validation")
			if b.cfg.OnAuthFailure != nil {
				b.cfg.OnAuthFailure()
			}
		}
	})
	return b
}

// Run joins every configured channel and blocks until ctx is done or the
// connection fails.
func (b *Bot) Run(ctx context.Context) error {
	for _, u := range b.cfg.Users.Users() {
		b.client.Join(u.Handle)
		b.logChannelID(ctx, u.Handle)
	}

	errc := make(chan error, 1)
	go func() { errc <- b.client.Connect() }()

	select {
	case <-ctx.Done():
		if err := b.client.Disconnect(); err != nil {
			slog.Warn("irc disconnect", slog.Any("err", err))
		}
		<-errc
		return nil
	case err := <-errc:
		return err
	}
}

// logChannelID resolves and logs the channel's numeric id. Best effort: the
// bot works without it, so failures are only logged.
func (b *Bot) logChannelID(ctx context.Context, handle string) {
	if b.cfg.Resolver == nil {
		return
	}
	if id, ok := b.channelIDs.Get(strings.ToLower(handle)); ok {
		slog.Debug("channel id cached", slog.String("handle", handle), slog.String("id", id))
		return
	}
	rctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	id, err := b.cfg.Resolver.GetUserID(rctx, handle)
	if err != nil {
		slog.Warn("channel id lookup failed", slog.String("handle", handle), slog.Any("err", err))
		return
	}
	b.channelIDs.Set(strings.ToLower(handle), id)
	slog.Info("joined channel", slog.String("handle", handle), slog.String("id", id))
}

// handleMessage dispatches a !command. It returns the reply and whether one
// should be sent.
func (b *Bot) handleMessage(ctx context.Context, channel, text string) (string, bool) {
	if !strings.HasPrefix(text, "!") {
		return "", false
	}
	u, ok := b.cfg.Users.User(channel)
	if !ok {
		return "", false
	}
	command := strings.ToLower(strings.Fields(text)[0])
	if telemetry.CommandsHandled != nil {
		telemetry.CommandsHandled.WithLabelValues(strings.TrimPrefix(command, "!")).Inc()
	}
	switch command {
	case "!weather":
		return b.commandWeather(ctx, u)
	case "!analogue":
		return b.commandAnalogue(ctx, u)
	case "!esword":
		return b.commandWotd(ctx, u, wotd.Spanish, u.EsWotdEnabled)
	case "!jaword":
		return b.commandWotd(ctx, u, wotd.Japanese, u.JaWotdEnabled)
	case "!zhword":
		return b.commandWotd(ctx, u, wotd.Mandarin, u.ZhWotdEnabled)
	case "!discord":
		return formatLink(u.Handle, "discord", u.Discord), true
	case "!twitter":
		return formatLink(u.Handle, "twitter", u.Twitter), true
	case "!pbs":
		return formatLink(u.Handle, "speedrun profile", u.SpeedrunProfile), true
	case "!time":
		return b.commandTime(u), true
	case "!commands":
		return b.commandList(u), true
	}
	return "", false
}

func (b *Bot) commandWeather(ctx context.Context, u *users.User) (string, bool) {
	if !u.WeatherEnabled || u.Location == nil || b.cfg.Weather == nil {
		return "", false
	}
	if _, recent := b.weatherTimes.Get(u.Handle); recent {
		return "", false
	}
	b.weatherTimes.Set(u.Handle, struct{}{})
	rep, ok := b.cfg.Weather.Fetch(ctx, *u.Location)
	if !ok {
		return "Error fetching weather", true
	}
	return formatWeather(rep), true
}

func (b *Bot) commandAnalogue(ctx context.Context, u *users.User) (string, bool) {
	if !u.AnalogueEnabled || b.cfg.Analogue == nil {
		return "", false
	}
	if _, recent := b.analogueTimes.Get(u.Handle); recent {
		return "", false
	}
	b.analogueTimes.Set(u.Handle, struct{}{})
	stock, ok := b.cfg.Analogue.Fetch(ctx)
	if !ok {
		return "Error reading products from Analogue store", true
	}
	if len(stock.InStock) == 0 {
		return "Analogue store has nothing in stock", true
	}
	return "Analogue products in stock: " + strings.Join(stock.InStock, ", "), true
}

func (b *Bot) commandWotd(ctx context.Context, u *users.User, lang wotd.Language, enabled bool) (string, bool) {
	if !enabled || b.cfg.Wotd == nil {
		return "", false
	}
	if _, recent := b.wotdTimes.Get(u.Handle); recent {
		return "", false
	}
	b.wotdTimes.Set(u.Handle, struct{}{})
	entry, ok := b.cfg.Wotd.Fetch(ctx, lang)
	if !ok {
		return "Error fetching " + lang.Name + " word of the day", true
	}
	return formatWotd(entry), true
}

const timeFormat = "Monday, Jan 2, 2006 3:04PM"

func (b *Bot) commandTime(u *users.User) string {
	if loc := u.TimeLocation(); loc != nil {
		return "the local time for " + u.Handle + " is " + time.Now().In(loc).Format(timeFormat)
	}
	return "the system time for " + b.cfg.Username + " is " + time.Now().Format(timeFormat)
}

func (b *Bot) commandList(u *users.User) string {
	commands := []string{"!commands", "!discord", "!pbs", "!time", "!twitter"}
	if u.AnalogueEnabled {
		commands = append(commands, "!analogue")
	}
	if u.WeatherEnabled {
		commands = append(commands, "!weather")
	}
	if u.EsWotdEnabled {
		commands = append(commands, "!esword")
	}
	if u.JaWotdEnabled {
		commands = append(commands, "!jaword")
	}
	if u.ZhWotdEnabled {
		commands = append(commands, "!zhword")
	}
	sort.Strings(commands)
	return "my commands: " + strings.Join(commands, ", ")
}

package chat

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/onnwee/chattender/analogue"
	"github.com/onnwee/chattender/users"
	"github.com/onnwee/chattender/weather"
	"github.com/onnwee/chattender/wotd"
)

type fakeWeather struct {
	rep *weather.Report
	ok  bool
}

func (f *fakeWeather) Fetch(context.Context, users.Location) (*weather.Report, bool) {
	return f.rep, f.ok
}

type fakeWotd struct {
	entry *wotd.Entry
	ok    bool
	calls int
}

func (f *fakeWotd) Fetch(context.Context, wotd.Language) (*wotd.Entry, bool) {
	f.calls++
	return f.entry, f.ok
}

type fakeStock struct {
	stock *analogue.Stock
	ok    bool
}

func (f *fakeStock) Fetch(context.Context) (*analogue.Stock, bool) { return f.stock, f.ok }

func testUsers(t *testing.T) *users.Repository {
	t.Helper()
	contents := `{
	  "users": [
	    {
	      "handle": "streamer",
	      "discord": "https://discord.gg/abc",
	      "weatherEnabled": true,
	      "analogueEnabled": true,
	      "esWordOfTheDayEnabled": true,
	      "location": {"id": "nyc", "latitude": 40.71, "longitude": -74.0}
	    },
	    {"handle": "minimal"}
	  ]
	}`
	path := filepath.Join(t.TempDir(), "users.json")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write users: %v", err)
	}
	repo, err := users.LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	return repo
}

func testBot(t *testing.T, cfg Config) *Bot {
	t.Helper()
	cfg.Username = "chattender"
	cfg.IRCToken = "tok"
	if cfg.Users == nil {
		cfg.Users = testUsers(t)
	}
	return NewBot(cfg)
}

func TestNonCommandIsIgnored(t *testing.T) {
	b := testBot(t, Config{})
	if _, ok := b.handleMessage(context.Background(), "streamer", "hello chat"); ok {
		t.Error("non-command produced a reply")
	}
}

func TestUnknownChannelIsIgnored(t *testing.T) {
	b := testBot(t, Config{})
	if _, ok := b.handleMessage(context.Background(), "stranger", "!time"); ok {
		t.Error("unknown channel produced a reply")
	}
}

func TestWeatherCommand(t *testing.T) {
	rep := &weather.Report{
		Temperature: 21.4, Humidity: 60, Pressure: 1015,
		Conditions:    []string{"🌧 light rain"},
		TomorrowsHigh: 25.5, TomorrowsLow: 14,
		HasAirQuality: true, AirQualityIndex: 2,
		Alerts: []string{"Alert from NWS: Flood Warning."},
	}
	b := testBot(t, Config{Weather: &fakeWeather{rep: rep, ok: true}})

	reply, ok := b.handleMessage(context.Background(), "streamer", "!weather")
	if !ok {
		t.Fatal("no reply")
	}
	for _, want := range []string{"21°C", "humidity 60%", "🌧 light rain", "high 26°C", "low 14°C", "Air quality: fair.", "Flood Warning"} {
		if !strings.Contains(reply, want) {
			t.Errorf("reply %q missing %q", reply, want)
		}
	}
}

func TestWeatherCommandFetchFailure(t *testing.T) {
	b := testBot(t, Config{Weather: &fakeWeather{ok: false}})
	reply, ok := b.handleMessage(context.Background(), "streamer", "!weather")
	if !ok || !strings.Contains(reply, "Error fetching weather") {
		t.Errorf("reply = (%q, %v)", reply, ok)
	}
}

func TestWeatherDisabledChannel(t *testing.T) {
	b := testBot(t, Config{Weather: &fakeWeather{rep: &weather.Report{}, ok: true}})
	if _, ok := b.handleMessage(context.Background(), "minimal", "!weather"); ok {
		t.Error("weather replied on a channel without the feature")
	}
}

func TestWotdCommandAndCooldown(t *testing.T) {
	src := &fakeWotd{entry: &wotd.Entry{Word: "hola", Definition: "hello"}, ok: true}
	b := testBot(t, Config{Wotd: src})

	reply, ok := b.handleMessage(context.Background(), "streamer", "!esword")
	if !ok || !strings.Contains(reply, "hola — hello") {
		t.Fatalf("reply = (%q, %v)", reply, ok)
	}

	// Within the cooldown the command stays silent.
	if _, ok := b.handleMessage(context.Background(), "streamer", "!esword"); ok {
		t.Error("second !esword within cooldown produced a reply")
	}
	if src.calls != 1 {
		t.Errorf("source calls = %d, want 1", src.calls)
	}
}

func TestWotdWithTransliterationAndExamples(t *testing.T) {
	src := &fakeWotd{entry: &wotd.Entry{
		Word: "犬", Definition: "dog", Transliteration: "inu",
		ForeignExample: "犬が好きです。", EnglishExample: "I like dogs.",
	}, ok: true}
	u := testUsers(t)
	streamer, _ := u.User("streamer")
	streamer.JaWotdEnabled = true
	b := testBot(t, Config{Users: u, Wotd: src})

	reply, ok := b.handleMessage(context.Background(), "streamer", "!jaword")
	if !ok {
		t.Fatal("no reply")
	}
	want := "犬 (inu) — dog. Example: 犬が好きです。 I like dogs."
	if reply != want {
		t.Errorf("reply = %q, want %q", reply, want)
	}
}

func TestWotdDisabledLanguage(t *testing.T) {
	src := &fakeWotd{entry: &wotd.Entry{Word: "w", Definition: "d"}, ok: true}
	b := testBot(t, Config{Wotd: src})
	if _, ok := b.handleMessage(context.Background(), "streamer", "!zhword"); ok {
		t.Error("disabled language replied")
	}
}

func TestAnalogueCommand(t *testing.T) {
	tests := []struct {
		name string
		src  *fakeStock
		want string
	}{
		{"in stock", &fakeStock{stock: &analogue.Stock{InStock: []string{"Pocket", "Mega Sg"}}, ok: true}, "Analogue products in stock: Pocket, Mega Sg"},
		{"empty", &fakeStock{stock: &analogue.Stock{}, ok: true}, "Analogue store has nothing in stock"},
		{"error", &fakeStock{ok: false}, "Error reading products from Analogue store"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := testBot(t, Config{Analogue: tt.src})
			reply, ok := b.handleMessage(context.Background(), "streamer", "!analogue")
			if !ok || reply != tt.want {
				t.Errorf("reply = (%q, %v), want %q", reply, ok, tt.want)
			}
		})
	}
}

func TestLinkCommands(t *testing.T) {
	b := testBot(t, Config{})
	reply, ok := b.handleMessage(context.Background(), "streamer", "!discord")
	if !ok || reply != "streamer's discord: https://discord.gg/abc" {
		t.Errorf("!discord = (%q, %v)", reply, ok)
	}
	reply, ok = b.handleMessage(context.Background(), "streamer", "!twitter")
	if !ok || reply != "streamer has no twitter link available" {
		t.Errorf("!twitter = (%q, %v)", reply, ok)
	}
}

func TestTimeCommand(t *testing.T) {
	b := testBot(t, Config{})
	reply, ok := b.handleMessage(context.Background(), "streamer", "!time")
	if !ok || !strings.Contains(reply, "the system time for chattender is ") {
		t.Errorf("!time = (%q, %v)", reply, ok)
	}
}

func TestCommandsListReflectsFlags(t *testing.T) {
	b := testBot(t, Config{})
	reply, ok := b.handleMessage(context.Background(), "streamer", "!commands")
	if !ok {
		t.Fatal("no reply")
	}
	for _, want := range []string{"!analogue", "!esword", "!weather", "!discord", "!time"} {
		if !strings.Contains(reply, want) {
			t.Errorf("commands list %q missing %q", reply, want)
		}
	}
	if strings.Contains(reply, "!jaword") {
		t.Errorf("commands list %q includes disabled !jaword", reply)
	}

	reply, _ = b.handleMessage(context.Background(), "minimal", "!commands")
	if strings.Contains(reply, "!weather") {
		t.Errorf("minimal channel list %q includes !weather", reply)
	}
}

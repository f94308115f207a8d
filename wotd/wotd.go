// Package wotd fetches the word of the day for a configured set of languages
// from the Transparent Language widget feed. Entries are cached per language
// for an hour; an entry missing its word or definition fails the whole fetch
// rather than producing a partial record.
package wotd

import (
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/onnwee/chattender/cache"
	"github.com/onnwee/chattender/telemetry"
)

// DefaultBaseURL is the production widget feed.
const DefaultBaseURL = "https://wotd.transparent.com"

// DefaultTTL matches the upstream's daily cadence loosely; an hour keeps the
// bot responsive to feed corrections without hammering the endpoint.
const DefaultTTL = time.Hour

// Language is a supported word-of-the-day feed.
type Language struct {
	Code string // feed code, e.g. "es"
	Name string // display name, e.g. "Spanish"
}

var (
	Spanish  = Language{Code: "es", Name: "Spanish"}
	Japanese = Language{Code: "ja", Name: "Japanese"}
	Mandarin = Language{Code: "zh", Name: "Mandarin Chinese"}
)

// Entry is one validated word of the day. Word and Definition are always
// non-blank; the rest is optional.
type Entry struct {
	Word            string
	Definition      string
	Transliteration string
	ForeignExample  string
	EnglishExample  string
}

// HasExamples reports whether both example sentences are present.
func (e *Entry) HasExamples() bool {
	return strings.TrimSpace(e.ForeignExample) != "" && strings.TrimSpace(e.EnglishExample) != ""
}

// Repository is a read-through cache over the widget feed, keyed by language
// code.
type Repository struct {
	baseURL string
	http    *http.Client

	cache *cache.Cache[string, *Entry]
	group singleflight.Group
}

// Option adjusts a Repository.
type Option func(*Repository)

// WithBaseURL overrides the feed base URL.
func WithBaseURL(u string) Option { return func(r *Repository) { r.baseURL = u } }

// WithTTL overrides the cache TTL. Must be applied before first use.
func WithTTL(ttl time.Duration) Option {
	return func(r *Repository) { r.cache = cache.New[string, *Entry](ttl) }
}

// New builds a Repository.
func New(opts ...Option) *Repository {
	r := &Repository{
		baseURL: DefaultBaseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		cache:   cache.New[string, *Entry](DefaultTTL),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type widgetFeed struct {
	Words struct {
		Word            string `xml:"word"`
		Translation     string `xml:"translation"`
		Transliteration string `xml:"translit"`
		ForeignPhrase   string `xml:"fnphrase"`
		EnglishPhrase   string `xml:"enphrase"`
	} `xml:"words"`
}

// Fetch returns the cached or freshly fetched entry for lang, or absence on
// any transport or validation failure.
func (r *Repository) Fetch(ctx context.Context, lang Language) (*Entry, bool) {
	if e, ok := r.cache.Get(lang.Code); ok {
		telemetry.CountCache("wotd", true)
		return e, true
	}
	telemetry.CountCache("wotd", false)

	v, err, _ := r.group.Do(lang.Code, func() (any, error) {
		return r.fetchUpstream(ctx, lang)
	})
	if err != nil {
		r.cache.Delete(lang.Code)
		if telemetry.FetchFailures != nil {
			telemetry.FetchFailures.Inc()
		}
		slog.Warn("wotd fetch failed", slog.String("language", lang.Code), slog.Any("err", err))
		return nil, false
	}
	e := v.(*Entry)
	r.cache.Set(lang.Code, e)
	return e, true
}

func (r *Repository) fetchUpstream(ctx context.Context, lang Language) (*Entry, error) {
	ctx, span := telemetry.StartSpan(ctx, "wotd", "wotd.fetch")
	defer span.End()

	var feed widgetFeed
	var err error
	telemetry.TimeFetch("transparent_wotd", func() {
		url := fmt.Sprintf("%s/rss/%s-widget.xml?t=0", r.baseURL, lang.Code)
		var req *http.Request
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return
		}
		var resp *http.Response
		resp, err = r.http.Do(req)
		if err != nil {
			return
		}
		defer func() {
			if cerr := resp.Body.Close(); cerr != nil {
				slog.Warn("failed to close response body", slog.Any("err", cerr))
			}
		}()
		if resp.StatusCode != http.StatusOK {
			err = fmt.Errorf("upstream returned %s", resp.Status)
			return
		}
		err = xml.NewDecoder(resp.Body).Decode(&feed)
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	e := &Entry{
		Word:            strings.TrimSpace(feed.Words.Word),
		Definition:      strings.TrimSpace(feed.Words.Translation),
		Transliteration: strings.TrimSpace(feed.Words.Transliteration),
		ForeignExample:  strings.TrimSpace(feed.Words.ForeignPhrase),
		EnglishExample:  strings.TrimSpace(feed.Words.EnglishPhrase),
	}
	if e.Word == "" || e.Definition == "" {
		err := fmt.Errorf("feed for %s missing word or translation", lang.Code)
		telemetry.RecordError(span, err)
		return nil, err
	}
	return e, nil
}

// Package weather fetches current conditions and a short forecast from the
// OpenWeather One Call API, shaped into a Report for chat display. Reports
// are cached per location for 90 minutes; air quality is a best-effort
// enrichment from the air pollution endpoint and is silently omitted when
// that call fails.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/onnwee/chattender/cache"
	"github.com/onnwee/chattender/telemetry"
	"github.com/onnwee/chattender/users"
)

// DefaultBaseURL is the production OpenWeather API.
const DefaultBaseURL = "https://api.openweathermap.org"

// DefaultTTL bounds how stale a served report may be.
const DefaultTTL = 90 * time.Minute

// conditionIcons maps OpenWeather condition ids to chat-friendly icons.
var conditionIcons = map[int]string{
	200: "⛈", 201: "⛈", 202: "⛈",
	210: "🌩", 211: "🌩", 212: "🌩",
	230: "⛈", 231: "⛈", 232: "⛈",
	300: "☔️", 301: "☔️",
	500: "🌧", 501: "🌧", 502: "🌧", 503: "🌧",
	600: "❅", 601: "❅", 602: "❅",
	741: "🌫",
	781: "🌪",
	802: "☁️", 803: "☁️", 804: "☁️",
}

// Report is a fully validated weather record. A Report is never partially
// constructed: every required numeric field was present and finite.
type Report struct {
	LocationID  string
	Temperature float64
	Humidity    float64
	Pressure    float64
	Conditions  []string

	TomorrowsHigh       float64
	TomorrowsLow        float64
	TomorrowsConditions []string

	Alerts []string

	// AirQualityIndex is 1..5 when HasAirQuality; enrichment is optional and
	// its absence is a defined state, not an error.
	HasAirQuality   bool
	AirQualityIndex int
}

// Repository is a read-through cache over the weather upstream.
type Repository struct {
	apiKey  string
	baseURL string
	http    *http.Client
	ttl     time.Duration

	cache *cache.Cache[string, *Report]
	group singleflight.Group
}

// Option adjusts a Repository; used by tests to point at a mock upstream.
type Option func(*Repository)

// WithBaseURL overrides the upstream base URL.
func WithBaseURL(u string) Option { return func(r *Repository) { r.baseURL = u } }

// WithTTL overrides the cache TTL.
func WithTTL(ttl time.Duration) Option { return func(r *Repository) { r.ttl = ttl } }

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option { return func(r *Repository) { r.http = c } }

// New builds a Repository. The API key must be non-empty.
func New(apiKey string, opts ...Option) (*Repository, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("weather api key is empty")
	}
	r := &Repository{
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		ttl:     DefaultTTL,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.cache = cache.New[string, *Report](r.ttl)
	return r, nil
}

// Fetch returns the cached or freshly fetched report for the location, or
// absence when the upstream is unreachable or returned an unusable payload.
// Concurrent fetches for the same location are collapsed into one upstream
// call.
func (r *Repository) Fetch(ctx context.Context, loc users.Location) (*Report, bool) {
	if rep, ok := r.cache.Get(loc.ID); ok {
		telemetry.CountCache("weather", true)
		return rep, true
	}
	telemetry.CountCache("weather", false)

	v, err, _ := r.group.Do(loc.ID, func() (any, error) {
		return r.fetchUpstream(ctx, loc)
	})
	if err != nil {
		// Drop any stale entry so the next call retries immediately.
		r.cache.Delete(loc.ID)
		if telemetry.FetchFailures != nil {
			telemetry.FetchFailures.Inc()
		}
		slog.Warn("weather fetch failed", slog.String("location", loc.ID), slog.Any("err", err))
		return nil, false
	}
	rep := v.(*Report)
	r.cache.Set(loc.ID, rep)
	return rep, true
}

type oneCallResponse struct {
	Current struct {
		Temp     *float64 `json:"temp"`
		Humidity *float64 `json:"humidity"`
		Pressure *float64 `json:"pressure"`
		Weather  []struct {
			ID          int    `json:"id"`
			Description string `json:"description"`
		} `json:"weather"`
	} `json:"current"`
	Daily []struct {
		Temp struct {
			Max *float64 `json:"max"`
			Min *float64 `json:"min"`
		} `json:"temp"`
		Weather []struct {
			Description string `json:"description"`
		} `json:"weather"`
	} `json:"daily"`
	Alerts []struct {
		Event      string `json:"event"`
		SenderName string `json:"sender_name"`
	} `json:"alerts"`
}

type airPollutionResponse struct {
	List []struct {
		Main struct {
			AQI int `json:"aqi"`
		} `json:"main"`
	} `json:"list"`
}

func (r *Repository) fetchUpstream(ctx context.Context, loc users.Location) (*Report, error) {
	ctx, span := telemetry.StartSpan(ctx, "weather", "weather.fetch")
	defer span.End()

	var oc oneCallResponse
	var err error
	telemetry.TimeFetch("openweather_onecall", func() {
		url := fmt.Sprintf("%s/data/2.5/onecall?appid=%s&lat=%f&lon=%f&exclude=minutely,hourly&units=metric",
			r.baseURL, r.apiKey, loc.Latitude, loc.Longitude)
		err = r.getJSON(ctx, url, &oc)
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	rep, err := buildReport(loc.ID, &oc)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	// Best-effort enrichment: a failed air quality call leaves the report
	// with HasAirQuality unset rather than failing the fetch.
	var ap airPollutionResponse
	var apErr error
	telemetry.TimeFetch("openweather_air_pollution", func() {
		url := fmt.Sprintf("%s/data/2.5/air_pollution?appid=%s&lat=%f&lon=%f",
			r.baseURL, r.apiKey, loc.Latitude, loc.Longitude)
		apErr = r.getJSON(ctx, url, &ap)
	})
	if apErr != nil {
		slog.Debug("air quality fetch failed, omitting", slog.String("location", loc.ID), slog.Any("err", apErr))
	} else if len(ap.List) > 0 && ap.List[0].Main.AQI >= 1 && ap.List[0].Main.AQI <= 5 {
		rep.HasAirQuality = true
		rep.AirQualityIndex = ap.List[0].Main.AQI
	}

	return rep, nil
}

func (r *Repository) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("upstream returned %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// buildReport validates every required numeric field before constructing the
// report. Any missing or non-finite field fails the whole fetch.
func buildReport(locationID string, oc *oneCallResponse) (*Report, error) {
	if len(oc.Daily) < 2 {
		return nil, fmt.Errorf("forecast has %d days, need at least 2", len(oc.Daily))
	}
	tomorrow := oc.Daily[1]
	required := map[string]*float64{
		"current.temp":      oc.Current.Temp,
		"current.humidity":  oc.Current.Humidity,
		"current.pressure":  oc.Current.Pressure,
		"daily[1].temp.max": tomorrow.Temp.Max,
		"daily[1].temp.min": tomorrow.Temp.Min,
	}
	for name, f := range required {
		if f == nil {
			return nil, fmt.Errorf("missing field %s", name)
		}
		if math.IsNaN(*f) || math.IsInf(*f, 0) {
			return nil, fmt.Errorf("field %s is not finite", name)
		}
	}

	rep := &Report{
		LocationID:    locationID,
		Temperature:   *oc.Current.Temp,
		Humidity:      *oc.Current.Humidity,
		Pressure:      *oc.Current.Pressure,
		TomorrowsHigh: *tomorrow.Temp.Max,
		TomorrowsLow:  *tomorrow.Temp.Min,
	}
	for _, w := range oc.Current.Weather {
		rep.Conditions = append(rep.Conditions, prettifyCondition(w.ID, w.Description))
	}
	for _, w := range tomorrow.Weather {
		if w.Description != "" {
			rep.TomorrowsConditions = append(rep.TomorrowsConditions, w.Description)
		}
	}
	for _, a := range oc.Alerts {
		if a.Event == "" {
			continue
		}
		if a.SenderName == "" {
			rep.Alerts = append(rep.Alerts, fmt.Sprintf("Alert: %s.", a.Event))
		} else {
			rep.Alerts = append(rep.Alerts, fmt.Sprintf("Alert from %s: %s.", a.SenderName, a.Event))
		}
	}
	return rep, nil
}

func prettifyCondition(id int, description string) string {
	if icon, ok := conditionIcons[id]; ok {
		return icon + " " + description
	}
	return description
}

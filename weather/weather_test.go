package weather

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/onnwee/chattender/users"
)

const goodOneCall = `{
  "current": {
    "temp": 21.5, "humidity": 60, "pressure": 1015,
    "weather": [{"id": 500, "description": "light rain"}]
  },
  "daily": [
    {"temp": {"max": 22.0, "min": 12.0}},
    {"temp": {"max": 25.5, "min": 14.0}, "weather": [{"description": "scattered clouds"}]}
  ],
  "alerts": [
    {"event": "Flood Warning", "sender_name": "NWS"},
    {"event": "Wind Advisory"}
  ]
}`

const goodAirPollution = `{"list": [{"main": {"aqi": 2}}]}`

var testLoc = users.Location{ID: "nyc", Latitude: 40.71, Longitude: -74.0}

// mockUpstream serves scripted one-call and air pollution responses and
// counts one-call hits.
func mockUpstream(t *testing.T, oneCall func(w http.ResponseWriter), air func(w http.ResponseWriter), calls *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/data/2.5/onecall":
			if calls != nil {
				atomic.AddInt32(calls, 1)
			}
			oneCall(w)
		case "/data/2.5/air_pollution":
			air(w)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func serveJSON(body string) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}
}

func serveStatus(code int) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) { w.WriteHeader(code) }
}

func TestFetchBuildsFullReport(t *testing.T) {
	srv := mockUpstream(t, serveJSON(goodOneCall), serveJSON(goodAirPollution), nil)
	repo, err := New("key", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rep, ok := repo.Fetch(context.Background(), testLoc)
	if !ok {
		t.Fatal("Fetch returned absent")
	}
	if rep.Temperature != 21.5 || rep.Humidity != 60 || rep.Pressure != 1015 {
		t.Errorf("current conditions = %+v", rep)
	}
	if rep.TomorrowsHigh != 25.5 || rep.TomorrowsLow != 14.0 {
		t.Errorf("tomorrow = high %v low %v", rep.TomorrowsHigh, rep.TomorrowsLow)
	}
	if len(rep.Conditions) != 1 || rep.Conditions[0] != "🌧 light rain" {
		t.Errorf("Conditions = %v", rep.Conditions)
	}
	if len(rep.TomorrowsConditions) != 1 || rep.TomorrowsConditions[0] != "scattered clouds" {
		t.Errorf("TomorrowsConditions = %v", rep.TomorrowsConditions)
	}
	if len(rep.Alerts) != 2 || rep.Alerts[0] != "Alert from NWS: Flood Warning." || rep.Alerts[1] != "Alert: Wind Advisory." {
		t.Errorf("Alerts = %v", rep.Alerts)
	}
	if !rep.HasAirQuality || rep.AirQualityIndex != 2 {
		t.Errorf("air quality = (%v, %d), want (true, 2)", rep.HasAirQuality, rep.AirQualityIndex)
	}
}

func TestFetchUsesCache(t *testing.T) {
	var calls int32
	srv := mockUpstream(t, serveJSON(goodOneCall), serveJSON(goodAirPollution), &calls)
	repo, err := New("key", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, ok := repo.Fetch(context.Background(), testLoc); !ok {
		t.Fatal("first Fetch failed")
	}
	if _, ok := repo.Fetch(context.Background(), testLoc); !ok {
		t.Fatal("second Fetch failed")
	}
	if calls != 1 {
		t.Errorf("upstream calls = %d, want 1 (second served from cache)", calls)
	}
}

func TestEnrichmentFailureIsNotFatal(t *testing.T) {
	srv := mockUpstream(t, serveJSON(goodOneCall), serveStatus(http.StatusBadGateway), nil)
	repo, err := New("key", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rep, ok := repo.Fetch(context.Background(), testLoc)
	if !ok {
		t.Fatal("Fetch returned absent; enrichment failure must not fail the fetch")
	}
	if rep.HasAirQuality {
		t.Error("HasAirQuality = true after failed enrichment")
	}
	if rep.AirQualityIndex != 0 {
		t.Errorf("AirQualityIndex = %d, want zero value", rep.AirQualityIndex)
	}
}

func TestFetchRejectsMalformedPayload(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing temp", `{"current": {"humidity": 60, "pressure": 1015}, "daily": [{"temp":{"max":1,"min":0}}, {"temp":{"max":1,"min":0}}]}`},
		{"missing tomorrow", `{"current": {"temp": 20, "humidity": 60, "pressure": 1015}, "daily": [{"temp":{"max":1,"min":0}}]}`},
		{"missing tomorrow max", `{"current": {"temp": 20, "humidity": 60, "pressure": 1015}, "daily": [{"temp":{"max":1,"min":0}}, {"temp":{"min":0}}]}`},
		{"not json", `<html>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := mockUpstream(t, serveJSON(tt.body), serveJSON(goodAirPollution), nil)
			repo, err := New("key", WithBaseURL(srv.URL))
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if _, ok := repo.Fetch(context.Background(), testLoc); ok {
				t.Error("Fetch returned a record from a malformed payload")
			}
		})
	}
}

func TestFetchFailureEvictsCachedEntry(t *testing.T) {
	var fail atomic.Bool
	srv := mockUpstream(t, func(w http.ResponseWriter) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		serveJSON(goodOneCall)(w)
	}, serveJSON(goodAirPollution), nil)

	// Tiny TTL so the second fetch misses the cache and hits the upstream.
	repo, err := New("key", WithBaseURL(srv.URL), WithTTL(time.Nanosecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, ok := repo.Fetch(context.Background(), testLoc); !ok {
		t.Fatal("seed fetch failed")
	}
	fail.Store(true)
	if _, ok := repo.Fetch(context.Background(), testLoc); ok {
		t.Fatal("Fetch succeeded against failing upstream")
	}
	// Still failing and nothing cached: stays absent.
	if _, ok := repo.Fetch(context.Background(), testLoc); ok {
		t.Fatal("Fetch returned residue after eviction")
	}
}

func TestFetchTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()
	repo, err := New("key", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := repo.Fetch(context.Background(), testLoc); ok {
		t.Error("Fetch succeeded against closed upstream")
	}
}

func TestNewRequiresKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("New(\"\") succeeded, want error")
	}
}

// Package analogue scrapes the Analogue store page and reports which
// products are currently in stock. The page is parsed with goquery; product
// headers carry a "(Sold Out)" marker when unavailable. Results are cached
// under a single key since there is only one store.
package analogue

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/singleflight"

	"github.com/onnwee/chattender/cache"
	"github.com/onnwee/chattender/telemetry"
)

// DefaultStoreURL is the production store page.
const DefaultStoreURL = "https://www.analogue.co/store"

// DefaultTTL bounds how stale the served stock list may be.
const DefaultTTL = 15 * time.Minute

// productHeaderSelector matches the hashed CSS-module class the store uses
// for product headers. The hash suffix changes across deploys, hence the
// substring match.
const productHeaderSelector = `div[class*="store_product-header"]`

const soldOutMarker = "sold out"

const storeKey = "store"

// Stock is the validated scrape result: the product names currently
// purchasable. Empty is a valid state (everything sold out).
type Stock struct {
	InStock []string
}

// Repository is a read-through cache over the store page.
type Repository struct {
	storeURL string
	http     *http.Client

	cache *cache.Cache[string, *Stock]
	group singleflight.Group
}

// Option adjusts a Repository.
type Option func(*Repository)

// WithStoreURL overrides the store page URL.
func WithStoreURL(u string) Option { return func(r *Repository) { r.storeURL = u } }

// WithTTL overrides the cache TTL. Must be applied before first use.
func WithTTL(ttl time.Duration) Option {
	return func(r *Repository) { r.cache = cache.New[string, *Stock](ttl) }
}

// New builds a Repository.
func New(opts ...Option) *Repository {
	r := &Repository{
		storeURL: DefaultStoreURL,
		http:     &http.Client{Timeout: 15 * time.Second},
		cache:    cache.New[string, *Stock](DefaultTTL),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Fetch returns the cached or freshly scraped stock list, or absence when the
// page is unreachable or carries no recognizable products.
func (r *Repository) Fetch(ctx context.Context) (*Stock, bool) {
	if s, ok := r.cache.Get(storeKey); ok {
		telemetry.CountCache("analogue", true)
		return s, true
	}
	telemetry.CountCache("analogue", false)

	v, err, _ := r.group.Do(storeKey, func() (any, error) {
		return r.scrape(ctx)
	})
	if err != nil {
		r.cache.Delete(storeKey)
		if telemetry.FetchFailures != nil {
			telemetry.FetchFailures.Inc()
		}
		slog.Warn("store stock fetch failed", slog.Any("err", err))
		return nil, false
	}
	s := v.(*Stock)
	r.cache.Set(storeKey, s)
	return s, true
}

func (r *Repository) scrape(ctx context.Context) (*Stock, error) {
	ctx, span := telemetry.StartSpan(ctx, "analogue", "analogue.scrape")
	defer span.End()

	var doc *goquery.Document
	var err error
	telemetry.TimeFetch("analogue_store", func() {
		var req *http.Request
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, r.storeURL, nil)
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
			err = fmt.Errorf("store page returned %s", resp.Status)
			return
		}
		doc, err = goquery.NewDocumentFromReader(resp.Body)
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	headers := doc.Find(productHeaderSelector)
	if headers.Length() == 0 {
		// Page layout changed or an error page: don't cache an empty store.
		err := fmt.Errorf("no product headers found on store page")
		telemetry.RecordError(span, err)
		return nil, err
	}

	stock := &Stock{}
	headers.Each(func(_ int, sel *goquery.Selection) {
		name := strings.Join(strings.Fields(sel.Text()), " ")
		if name == "" {
			return
		}
		if strings.Contains(strings.ToLower(name), soldOutMarker) {
			return
		}
		stock.InStock = append(stock.InStock, name)
	})
	return stock, nil
}

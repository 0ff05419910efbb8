// Package exchangerate fetches daily reference rates from a
// Frankfurter-compatible API (https://www.frankfurter.app) and caches them.
package exchangerate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/lotledger/internal/clientdata"
	"github.com/aristath/lotledger/internal/domain"
)

// DefaultBaseURL is the public Frankfurter endpoint.
const DefaultBaseURL = "https://api.frankfurter.app"

// Client for the Frankfurter API
type Client struct {
	baseURL   string
	client    *http.Client
	log       zerolog.Logger
	cacheRepo *clientdata.Repository
}

// NewClient creates a new Frankfurter client.
// cacheRepo is optional - if nil, caching is disabled
func NewClient(baseURL string, cacheRepo *clientdata.Repository, log zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    &http.Client{Timeout: 10 * time.Second},
		log:       log.With().Str("client", "frankfurter").Logger(),
		cacheRepo: cacheRepo,
	}
}

// cachedRates is the structure stored in the cache
type cachedRates struct {
	Rates []domain.FxRate `msgpack:"rates"`
}

type timeseriesResponse struct {
	Base  string                                `json:"base"`
	Rates map[string]map[string]decimal.Decimal `json:"rates"`
}

// Timeseries returns one rate per published day between from and to for
// each quote, as 1 base = rate quote. Days without publication (weekends,
// holidays) are absent.
// If the API fails, stale cached data is returned when available.
func (c *Client) Timeseries(ctx context.Context, base string, quotes []string, from, to time.Time) ([]domain.FxRate, error) {
	if len(quotes) == 0 {
		return nil, nil
	}
	if to.Before(from) {
		return nil, fmt.Errorf("invalid range %s..%s", from.Format(domain.DateLayout), to.Format(domain.DateLayout))
	}

	sorted := append([]string(nil), quotes...)
	sort.Strings(sorted)
	cacheKey := fmt.Sprintf("%s:%s:%s:%s", base, strings.Join(sorted, ","),
		from.Format(domain.DateLayout), to.Format(domain.DateLayout))

	if rates, ok := c.fromCache(cacheKey, true); ok {
		c.log.Debug().Str("key", cacheKey).Int("rates", len(rates)).Msg("Cache hit")
		return rates, nil
	}

	q := url.Values{}
	q.Set("from", base)
	q.Set("to", strings.Join(sorted, ","))
	endpoint := fmt.Sprintf("%s/%s..%s?%s", c.baseURL,
		from.Format(domain.DateLayout), to.Format(domain.DateLayout), q.Encode())

	rates, err := c.fetch(ctx, endpoint)
	if err != nil {
		// Stale data beats no data
		if stale, ok := c.fromCache(cacheKey, false); ok {
			c.log.Warn().Err(err).Str("key", cacheKey).Msg("API failed, using stale cached rates")
			return stale, nil
		}
		return nil, err
	}

	if c.cacheRepo != nil {
		if err := c.cacheRepo.Store(clientdata.TableExchangeRate, cacheKey, cachedRates{Rates: rates}, clientdata.TTLExchangeRate); err != nil {
			c.log.Warn().Err(err).Str("key", cacheKey).Msg("Failed to cache exchange rates")
		}
	}

	c.log.Info().
		Str("base", base).
		Strs("quotes", sorted).
		Int("rates", len(rates)).
		Msg("Fetched rates")

	return rates, nil
}

func (c *Client) fetch(ctx context.Context, endpoint string) ([]domain.FxRate, error) {
	c.log.Debug().Str("url", endpoint).Msg("Fetching rates")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d", resp.StatusCode)
	}

	var result timeseriesResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	rates := make([]domain.FxRate, 0)
	for day, byQuote := range result.Rates {
		date, err := domain.ParseDate("date", day)
		if err != nil {
			return nil, fmt.Errorf("unexpected date in response: %w", err)
		}
		for quote, rate := range byQuote {
			rates = append(rates, domain.FxRate{
				Pair: domain.CurrencyPair{Base: result.Base, Quote: quote},
				Date: date,
				Rate: rate,
			})
		}
	}

	sort.Slice(rates, func(i, j int) bool {
		if !rates[i].Date.Equal(rates[j].Date) {
			return rates[i].Date.Before(rates[j].Date)
		}
		return rates[i].Pair.Quote < rates[j].Pair.Quote
	})
	return rates, nil
}

// fromCache reads cached rates, honoring expiry only when fresh is set.
func (c *Client) fromCache(cacheKey string, fresh bool) ([]domain.FxRate, bool) {
	if c.cacheRepo == nil {
		return nil, false
	}

	var cached cachedRates
	var found bool
	var err error
	if fresh {
		found, err = c.cacheRepo.GetIfFresh(clientdata.TableExchangeRate, cacheKey, &cached)
	} else {
		found, err = c.cacheRepo.Get(clientdata.TableExchangeRate, cacheKey, &cached)
	}
	if err != nil || !found {
		return nil, false
	}

	for i := range cached.Rates {
		cached.Rates[i].Date = cached.Rates[i].Date.UTC()
	}
	return cached.Rates, true
}

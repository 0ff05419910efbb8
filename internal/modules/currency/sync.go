package currency

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/lotledger/internal/domain"
	"github.com/aristath/lotledger/internal/money"
)

// RateSource fetches published daily rates, 1 base = rate quote.
type RateSource interface {
	Timeseries(ctx context.Context, base string, quotes []string, from, to time.Time) ([]domain.FxRate, error)
}

// SyncResult summarizes one sync run.
type SyncResult struct {
	Stored int
	Pairs  []string
}

// RateSync pulls missing days for a fixed set of pairs into the repository.
type RateSync struct {
	repo     *Repository
	source   RateSource
	pairs    []domain.CurrencyPair
	lookback time.Duration
	log      zerolog.Logger
}

// NewRateSync creates a sync for pairs. Pairs with no stored history are
// backfilled over lookback.
func NewRateSync(repo *Repository, source RateSource, pairs []domain.CurrencyPair, lookback time.Duration, log zerolog.Logger) *RateSync {
	return &RateSync{
		repo:     repo,
		source:   source,
		pairs:    pairs,
		lookback: lookback,
		log:      log.With().Str("service", "fx_sync").Logger(),
	}
}

// Sync fetches every day after the latest stored date up to today for each
// configured pair. Pairs sharing a base are fetched in one request. A
// failing base is logged and skipped; the first such error is returned after
// the remaining bases have been tried.
func (s *RateSync) Sync(ctx context.Context, today time.Time) (SyncResult, error) {
	today = domain.StartOfDay(today)

	type window struct {
		from   time.Time
		quotes []string
	}
	byBase := make(map[string]*window)
	for _, pair := range s.pairs {
		latest, err := s.repo.LatestDate(ctx, pair)
		if err != nil {
			return SyncResult{}, err
		}
		from := today.Add(-s.lookback)
		if !latest.IsZero() {
			from = latest.AddDate(0, 0, 1)
		}
		if from.After(today) {
			continue
		}

		w, ok := byBase[pair.Base]
		if !ok {
			w = &window{from: from}
			byBase[pair.Base] = w
		}
		if from.Before(w.from) {
			w.from = from
		}
		w.quotes = append(w.quotes, pair.Quote)
	}

	bases := make([]string, 0, len(byBase))
	for base := range byBase {
		bases = append(bases, base)
	}
	sort.Strings(bases)

	var result SyncResult
	var firstErr error
	for _, base := range bases {
		w := byBase[base]
		rates, err := s.source.Timeseries(ctx, base, w.quotes, w.from, today)
		if err == nil && len(rates) > 0 {
			_, err = s.repo.Upsert(ctx, rates, "frankfurter")
		}
		if err != nil {
			s.log.Error().Err(err).Str("base", base).Msg("FX sync failed")
			if firstErr == nil {
				firstErr = fmt.Errorf("fx sync for %s: %w", base, err)
			}
			continue
		}

		result.Stored += len(rates)
		for _, q := range w.quotes {
			result.Pairs = append(result.Pairs, base+"/"+q)
		}
	}

	s.log.Info().Int("stored", result.Stored).Strs("pairs", result.Pairs).Msg("FX sync completed")
	return result, firstErr
}

// ParsePair parses "BASE/QUOTE" (case-insensitive).
func ParsePair(s string) (domain.CurrencyPair, error) {
	base, quote, ok := strings.Cut(s, "/")
	if !ok {
		return domain.CurrencyPair{}, domain.NewValidationError("", "pair", "invalid pair %q, expected BASE/QUOTE", s)
	}
	pair := domain.CurrencyPair{Base: money.NormalizeCurrency(base), Quote: money.NormalizeCurrency(quote)}
	for _, code := range []string{pair.Base, pair.Quote} {
		if err := money.ValidateCurrency(code); err != nil {
			return domain.CurrencyPair{}, domain.NewValidationError("", "pair", "%v", err)
		}
	}
	if pair.Base == pair.Quote {
		return domain.CurrencyPair{}, domain.NewValidationError("", "pair", "base and quote must differ")
	}
	return pair, nil
}

// Package currency converts trade-currency amounts into a portfolio's base
// currency using dated FX rates.
package currency

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aristath/lotledger/internal/domain"
)

// RateTable is an in-memory, already-resolved set of FX rates.
// Lookups return the nearest rate on or before the requested date and never
// look ahead. A RateTable is immutable after construction and safe for
// concurrent readers.
type RateTable struct {
	series map[domain.CurrencyPair][]domain.FxRate
}

// NewRateTable builds a table from rates in any order. When two rates share a
// pair and a day, the later one in the input wins.
func NewRateTable(rates []domain.FxRate) *RateTable {
	byPair := make(map[domain.CurrencyPair]map[time.Time]domain.FxRate)
	for _, r := range rates {
		day := domain.StartOfDay(r.Date)
		if byPair[r.Pair] == nil {
			byPair[r.Pair] = make(map[time.Time]domain.FxRate)
		}
		byPair[r.Pair][day] = domain.FxRate{Pair: r.Pair, Date: day, Rate: r.Rate}
	}

	series := make(map[domain.CurrencyPair][]domain.FxRate, len(byPair))
	for pair, days := range byPair {
		list := make([]domain.FxRate, 0, len(days))
		for _, r := range days {
			list = append(list, r)
		}
		sort.Slice(list, func(i, j int) bool { return list[i].Date.Before(list[j].Date) })
		series[pair] = list
	}

	return &RateTable{series: series}
}

// Rate returns the rate for pair on the nearest date on or before on.
func (t *RateTable) Rate(pair domain.CurrencyPair, on time.Time) (decimal.Decimal, error) {
	if r, ok := t.lookup(pair, on); ok {
		return r.Rate, nil
	}
	return decimal.Zero, &domain.RateUnavailableError{Pair: pair, Date: on}
}

// Pairs returns the pairs known to the table, sorted.
func (t *RateTable) Pairs() []domain.CurrencyPair {
	pairs := make([]domain.CurrencyPair, 0, len(t.series))
	for p := range t.series {
		pairs = append(pairs, p)
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].String() < pairs[j].String() })
	return pairs
}

// Len returns the number of stored rates.
func (t *RateTable) Len() int {
	n := 0
	for _, s := range t.series {
		n += len(s)
	}
	return n
}

func (t *RateTable) lookup(pair domain.CurrencyPair, on time.Time) (domain.FxRate, bool) {
	list := t.series[pair]
	if len(list) == 0 {
		return domain.FxRate{}, false
	}
	// First index whose date is after on; the one before it is the answer.
	i := sort.Search(len(list), func(i int) bool { return list[i].Date.After(on) })
	if i == 0 {
		return domain.FxRate{}, false
	}
	return list[i-1], true
}

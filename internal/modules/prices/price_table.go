// Package prices stores instrument closing prices and serves them to the
// engine as an as-of lookup.
package prices

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aristath/lotledger/internal/domain"
)

// PriceTable is an immutable, in-memory price history keyed by instrument.
// Price returns the latest close on or before the requested date.
type PriceTable struct {
	series map[string][]domain.Price
}

// NewPriceTable builds a table from prices in any order. Later duplicates for
// the same instrument and day replace earlier ones.
func NewPriceTable(prices []domain.Price) *PriceTable {
	byInstrument := make(map[string]map[time.Time]domain.Price)
	for _, p := range prices {
		day := domain.StartOfDay(p.Date)
		if byInstrument[p.InstrumentID] == nil {
			byInstrument[p.InstrumentID] = make(map[time.Time]domain.Price)
		}
		p.Date = day
		byInstrument[p.InstrumentID][day] = p
	}

	series := make(map[string][]domain.Price, len(byInstrument))
	for id, days := range byInstrument {
		list := make([]domain.Price, 0, len(days))
		for _, p := range days {
			list = append(list, p)
		}
		sort.Slice(list, func(i, j int) bool { return list[i].Date.Before(list[j].Date) })
		series[id] = list
	}

	return &PriceTable{series: series}
}

// Price implements domain.PriceLookup.
func (t *PriceTable) Price(instrumentID string, on time.Time) (decimal.Decimal, error) {
	list := t.series[instrumentID]
	i := sort.Search(len(list), func(i int) bool { return list[i].Date.After(on) })
	if i == 0 {
		return decimal.Zero, &domain.PriceUnavailableError{InstrumentID: instrumentID, Date: on}
	}
	return list[i-1].Price, nil
}

// Instruments returns the instruments with at least one price, sorted.
func (t *PriceTable) Instruments() []string {
	ids := make([]string, 0, len(t.series))
	for id := range t.series {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

package main

import (
	"bytes"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/aristath/lotledger/internal/domain"
	"github.com/aristath/lotledger/internal/money"
)

// Fixture is a self-contained portfolio history with its market data.
// Price, rate and period dates are YYYY-MM-DD. Trade dates are RFC3339
// timestamps with an explicit offset.
// Amounts are decimal strings so no precision is lost in YAML floats.
type Fixture struct {
	Portfolio    FixturePortfolio     `yaml:"portfolio"`
	Transactions []FixtureTransaction `yaml:"transactions"`
	Prices       []FixturePrice       `yaml:"prices"`
	Rates        []FixtureRate        `yaml:"rates"`
	Period       *FixturePeriod       `yaml:"period"`
}

type FixturePortfolio struct {
	ID           string `yaml:"id"`
	Name         string `yaml:"name"`
	BaseCurrency string `yaml:"base_currency"`
}

type FixtureTransaction struct {
	ID           string `yaml:"id"`
	InstrumentID string `yaml:"instrument_id"`
	Kind         string `yaml:"kind"`
	TradeDate    string `yaml:"trade_date"`
	Quantity     string `yaml:"quantity"`
	PricePerUnit string `yaml:"price_per_unit"`
	Fees         string `yaml:"fees"`
	Currency     string `yaml:"currency"`
}

type FixturePrice struct {
	InstrumentID string `yaml:"instrument_id"`
	Date         string `yaml:"date"`
	Price        string `yaml:"price"`
	Currency     string `yaml:"currency"`
}

type FixtureRate struct {
	Base  string `yaml:"base"`
	Quote string `yaml:"quote"`
	Date  string `yaml:"date"`
	Rate  string `yaml:"rate"`
}

type FixturePeriod struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

// ReadFixture reads and strictly decodes a YAML fixture file.
func ReadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f Fixture
	yamlDecoder := yaml.NewDecoder(bytes.NewReader(data))
	// Reject unknown fields.
	yamlDecoder.KnownFields(true)
	if err := yamlDecoder.Decode(&f); err != nil {
		return nil, fmt.Errorf("could not unmarshal %s as YAML: %w", path, err)
	}
	if f.Portfolio.ID == "" {
		f.Portfolio.ID = "replay"
	}
	if f.Portfolio.Name == "" {
		f.Portfolio.Name = f.Portfolio.ID
	}
	return &f, nil
}

// DomainTransactions converts the fixture transactions, in file order.
func (f *Fixture) DomainTransactions() ([]domain.Transaction, error) {
	txs := make([]domain.Transaction, 0, len(f.Transactions))
	for i, t := range f.Transactions {
		tradeDate, err := domain.ParseTimestamp("trade_date", t.TradeDate)
		if err != nil {
			return nil, fmt.Errorf("transaction %d: %w", i+1, err)
		}
		quantity, err := parseDecimal(t.Quantity)
		if err != nil {
			return nil, fmt.Errorf("transaction %d: quantity: %w", i+1, err)
		}
		price, err := parseDecimal(t.PricePerUnit)
		if err != nil {
			return nil, fmt.Errorf("transaction %d: price_per_unit: %w", i+1, err)
		}
		fees, err := parseDecimal(t.Fees)
		if err != nil {
			return nil, fmt.Errorf("transaction %d: fees: %w", i+1, err)
		}
		txs = append(txs, domain.Transaction{
			ID:           t.ID,
			PortfolioID:  f.Portfolio.ID,
			InstrumentID: t.InstrumentID,
			Kind:         domain.TransactionKind(t.Kind),
			TradeDate:    tradeDate,
			Quantity:     quantity,
			PricePerUnit: price,
			Fees:         fees,
			Currency:     t.Currency,
		})
	}
	return txs, nil
}

// DomainPrices converts the fixture prices.
func (f *Fixture) DomainPrices() ([]domain.Price, error) {
	prices := make([]domain.Price, 0, len(f.Prices))
	for i, p := range f.Prices {
		date, err := domain.ParseDate("date", p.Date)
		if err != nil {
			return nil, fmt.Errorf("price %d: %w", i+1, err)
		}
		value, err := decimal.NewFromString(p.Price)
		if err != nil {
			return nil, fmt.Errorf("price %d: %w", i+1, err)
		}
		prices = append(prices, domain.Price{
			InstrumentID: p.InstrumentID,
			Date:         date,
			Price:        value,
			Currency:     money.NormalizeCurrency(p.Currency),
		})
	}
	return prices, nil
}

// DomainRates converts the fixture FX rates.
func (f *Fixture) DomainRates() ([]domain.FxRate, error) {
	rates := make([]domain.FxRate, 0, len(f.Rates))
	for i, r := range f.Rates {
		date, err := domain.ParseDate("date", r.Date)
		if err != nil {
			return nil, fmt.Errorf("rate %d: %w", i+1, err)
		}
		value, err := decimal.NewFromString(r.Rate)
		if err != nil {
			return nil, fmt.Errorf("rate %d: %w", i+1, err)
		}
		rates = append(rates, domain.FxRate{
			Pair: domain.CurrencyPair{
				Base:  money.NormalizeCurrency(r.Base),
				Quote: money.NormalizeCurrency(r.Quote),
			},
			Date: date,
			Rate: value,
		})
	}
	return rates, nil
}

// parseDecimal treats an empty string as zero.
func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

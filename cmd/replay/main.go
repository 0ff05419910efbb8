// Package main implements the replay command: it loads a portfolio history
// and its market data from a YAML fixture, runs the accounting engine over a
// scratch database set and prints the derived state and returns as JSON.
//
// Usage:
//
//	replay --input fixture.yaml [--as-of 2024-06-28] [--base EUR] [--start D --end D]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"

	"github.com/aristath/lotledger/internal/config"
	"github.com/aristath/lotledger/internal/di"
	"github.com/aristath/lotledger/internal/domain"
	"github.com/aristath/lotledger/internal/modules/portfolio"
	"github.com/aristath/lotledger/internal/modules/positions"
	"github.com/aristath/lotledger/internal/modules/recompute"
	"github.com/aristath/lotledger/internal/modules/returns"
	"github.com/aristath/lotledger/internal/money"
	"github.com/aristath/lotledger/pkg/logger"
)

const (
	inputFlagName    = "input"
	asOfFlagName     = "as-of"
	baseFlagName     = "base"
	startFlagName    = "start"
	endFlagName      = "end"
	dataDirFlagName  = "data-dir"
	logLevelFlagName = "log-level"
)

type flags struct {
	Input    string
	AsOf     string
	Base     string
	Start    string
	End      string
	DataDir  string
	LogLevel string
}

func (f *flags) Bind(flagSet *pflag.FlagSet) {
	flagSet.StringVarP(&f.Input, inputFlagName, "i", "", "The YAML fixture to replay (required)")
	flagSet.StringVar(&f.AsOf, asOfFlagName, "", "Position snapshot date, YYYY-MM-DD (defaults to the period end or the last trade date)")
	flagSet.StringVar(&f.Base, baseFlagName, "", "Override the fixture's base currency")
	flagSet.StringVar(&f.Start, startFlagName, "", "Return period start, YYYY-MM-DD (overrides the fixture period)")
	flagSet.StringVar(&f.End, endFlagName, "", "Return period end, YYYY-MM-DD (overrides the fixture period)")
	flagSet.StringVar(&f.DataDir, dataDirFlagName, "", "Keep the replay databases in this directory instead of a temporary one")
	flagSet.StringVar(&f.LogLevel, logLevelFlagName, "warn", "Log level (debug, info, warn, error)")
}

// Report is the JSON document printed by replay.
type Report struct {
	Recompute   *recompute.Result    `json:"recompute"`
	Positions   *portfolio.Snapshot  `json:"positions,omitempty"`
	Returns     *ReturnsReport       `json:"returns,omitempty"`
	Performance *returns.Performance `json:"performance,omitempty"`
	Errors      map[string]string    `json:"errors,omitempty"`
}

// ReturnsReport holds the period returns. A return the engine could not
// determine is omitted and its error is listed in Report.Errors.
type ReturnsReport struct {
	Start                  string           `json:"start"`
	End                    string           `json:"end"`
	MoneyWeighted          *decimal.Decimal `json:"money_weighted,omitempty"`
	TimeWeighted           *decimal.Decimal `json:"time_weighted,omitempty"`
	TimeWeightedAnnualized *decimal.Decimal `json:"time_weighted_annualized,omitempty"`
}

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	f := &flags{}
	flagSet := pflag.NewFlagSet("replay", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	f.Bind(flagSet)
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if f.Input == "" {
		return fmt.Errorf("--%s is required", inputFlagName)
	}

	fixture, err := ReadFixture(f.Input)
	if err != nil {
		return err
	}
	if f.Base != "" {
		fixture.Portfolio.BaseCurrency = f.Base
	}

	dataDir := f.DataDir
	if dataDir == "" {
		dataDir, err = os.MkdirTemp("", "lotledger-replay-*")
		if err != nil {
			return err
		}
		defer os.RemoveAll(dataDir)
	}

	log := logger.New(logger.Config{
		Level:  f.LogLevel,
		Pretty: true,
		Output: stderr,
	})

	cfg := config.Defaults()
	cfg.DataDir = dataDir
	container, _, err := di.Wire(cfg, log)
	if err != nil {
		return err
	}
	defer container.Close()

	if err := load(ctx, container, fixture); err != nil {
		return err
	}

	report, err := replay(ctx, container.PortfolioService, fixture, f, log)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(report)
}

// load writes the fixture into the scratch databases.
func load(ctx context.Context, c *di.Container, fixture *Fixture) error {
	p, err := c.LedgerRepo.CreatePortfolio(ctx, domain.Portfolio{
		ID:           fixture.Portfolio.ID,
		Name:         fixture.Portfolio.Name,
		BaseCurrency: fixture.Portfolio.BaseCurrency,
	})
	if err != nil {
		return err
	}
	fixture.Portfolio.BaseCurrency = p.BaseCurrency

	txs, err := fixture.DomainTransactions()
	if err != nil {
		return err
	}
	if _, err := c.LedgerRepo.Append(ctx, p.ID, txs); err != nil {
		return err
	}

	prices, err := fixture.DomainPrices()
	if err != nil {
		return err
	}
	if _, err := c.PriceRepo.Upsert(ctx, prices, "replay"); err != nil {
		return err
	}

	rates, err := fixture.DomainRates()
	if err != nil {
		return err
	}
	_, err = c.RateRepo.Upsert(ctx, rates, "replay")
	return err
}

// replay runs the engine. Recompute failures abort the replay; position and
// return failures are reported next to whatever did succeed.
func replay(ctx context.Context, svc *portfolio.PortfolioService, fixture *Fixture, f *flags, log zerolog.Logger) (*Report, error) {
	id := fixture.Portfolio.ID
	base := fixture.Portfolio.BaseCurrency

	result, err := svc.Recompute(ctx, id)
	if err != nil {
		return nil, err
	}
	report := &Report{Recompute: result, Errors: map[string]string{}}

	period, hasPeriod, err := resolvePeriod(fixture, f)
	if err != nil {
		return nil, err
	}

	asOf, err := resolveAsOf(fixture, f, period, hasPeriod)
	if err != nil {
		return nil, err
	}
	if !asOf.IsZero() {
		snap, err := svc.PositionSnapshot(ctx, id, asOf)
		if err != nil {
			report.Errors["positions"] = err.Error()
		} else {
			for i, p := range snap.Positions {
				snap.Positions[i] = positions.Round(p, base)
			}
			snap.Summary = positions.RoundSummary(snap.Summary, base)
			report.Positions = snap
		}
	}

	if hasPeriod {
		rr := &ReturnsReport{
			Start: period.Start.Format(domain.DateLayout),
			End:   period.End.Format(domain.DateLayout),
		}
		if mwr, err := svc.MoneyWeightedReturn(ctx, id, period); err != nil {
			report.Errors["money_weighted"] = err.Error()
		} else {
			rr.MoneyWeighted = rounded(mwr)
		}
		if twr, err := svc.TimeWeightedReturn(ctx, id, period); err != nil {
			report.Errors["time_weighted"] = err.Error()
		} else {
			rr.TimeWeighted = rounded(twr)
			if annual, ok := returns.Annualize(twr, domain.DaysBetween(period.Start, period.End)); ok {
				rr.TimeWeightedAnnualized = rounded(annual)
			}
		}
		report.Returns = rr

		if perf, err := svc.Performance(ctx, id, period); err != nil {
			report.Errors["performance"] = err.Error()
		} else {
			r := perf.Round(base)
			report.Performance = &r
		}
	}

	if len(report.Errors) == 0 {
		report.Errors = nil
	} else {
		log.Warn().Int("errors", len(report.Errors)).Msg("Replay finished with errors")
	}
	return report, nil
}

func resolvePeriod(fixture *Fixture, f *flags) (domain.Period, bool, error) {
	start, end := f.Start, f.End
	if fixture.Period != nil {
		if start == "" {
			start = fixture.Period.Start
		}
		if end == "" {
			end = fixture.Period.End
		}
	}
	if start == "" && end == "" {
		return domain.Period{}, false, nil
	}
	if start == "" || end == "" {
		return domain.Period{}, false, errors.New("a return period needs both a start and an end")
	}

	startDay, err := domain.ParseDate("start", start)
	if err != nil {
		return domain.Period{}, false, err
	}
	endDay, err := domain.ParseDate("end", end)
	if err != nil {
		return domain.Period{}, false, err
	}
	period, err := portfolio.NewPeriod(startDay, endDay)
	if err != nil {
		return domain.Period{}, false, err
	}
	return period, true, nil
}

// resolveAsOf picks the snapshot date: the flag, then the period end day,
// then the day of the last transaction.
func resolveAsOf(fixture *Fixture, f *flags, period domain.Period, hasPeriod bool) (time.Time, error) {
	if f.AsOf != "" {
		return domain.ParseDate(asOfFlagName, f.AsOf)
	}
	if hasPeriod {
		return domain.StartOfDay(period.End), nil
	}

	var last time.Time
	txs, err := fixture.DomainTransactions()
	if err != nil {
		return time.Time{}, err
	}
	for _, tx := range txs {
		if tx.TradeDate.After(last) {
			last = tx.TradeDate
		}
	}
	if last.IsZero() {
		return time.Time{}, nil
	}
	return domain.StartOfDay(last), nil
}

func rounded(d decimal.Decimal) *decimal.Decimal {
	r := money.Round(d, money.ReturnPlaces)
	return &r
}

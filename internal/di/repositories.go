// Package di provides dependency injection for repository implementations.
package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/lotledger/internal/clientdata"
	"github.com/aristath/lotledger/internal/modules/cash_flows"
	"github.com/aristath/lotledger/internal/modules/currency"
	"github.com/aristath/lotledger/internal/modules/ledger"
	"github.com/aristath/lotledger/internal/modules/portfolio"
	"github.com/aristath/lotledger/internal/modules/prices"
)

// InitializeRepositories creates all repositories and stores them in the container
func InitializeRepositories(container *Container, log zerolog.Logger) error {
	if container == nil {
		return fmt.Errorf("container cannot be nil")
	}

	container.LedgerRepo = ledger.NewRepository(container.LedgerDB.Conn(), log)

	container.PriceRepo = prices.NewRepository(container.HistoryDB.Conn(), log)
	container.RateRepo = currency.NewRepository(container.HistoryDB.Conn(), log)

	container.CashFlowRepo = cash_flows.NewRepository(container.PortfolioDB.Conn(), log)
	container.DerivedRepo = portfolio.NewDerivedRepository(container.PortfolioDB.Conn(), container.CashFlowRepo, log)

	container.ClientDataRepo = clientdata.NewRepository(container.CacheDB.Conn())

	log.Info().Msg("All repositories initialized")
	return nil
}

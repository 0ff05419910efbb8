// Package events provides the in-process event bus used to notify the API
// stream and background jobs about ledger and recompute activity.
package events

import (
	"time"
)

// EventType represents different event types
type EventType string

const (
	PortfolioCreated     EventType = "PORTFOLIO_CREATED"
	TransactionsAppended EventType = "TRANSACTIONS_APPENDED"
	RecomputeCompleted   EventType = "RECOMPUTE_COMPLETED"
	RecomputeFailed      EventType = "RECOMPUTE_FAILED"
	PricesUpdated        EventType = "PRICES_UPDATED"
	RatesUpdated         EventType = "RATES_UPDATED"
	BackupCompleted      EventType = "BACKUP_COMPLETED"
	ErrorOccurred        EventType = "ERROR_OCCURRED"
)

// AllTypes lists every event type, in declaration order.
var AllTypes = []EventType{
	PortfolioCreated,
	TransactionsAppended,
	RecomputeCompleted,
	RecomputeFailed,
	PricesUpdated,
	RatesUpdated,
	BackupCompleted,
	ErrorOccurred,
}

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
	Module    string                 `json:"module"`
}

package events

import (
	"encoding/json"
)

// EventData is the interface that all event data types must implement
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// PortfolioCreatedData contains data for PortfolioCreated events
type PortfolioCreatedData struct {
	PortfolioID  string `json:"portfolio_id"`
	BaseCurrency string `json:"base_currency"`
}

// EventType returns the event type for PortfolioCreatedData
func (d *PortfolioCreatedData) EventType() EventType {
	return PortfolioCreated
}

// TransactionsAppendedData contains data for TransactionsAppended events
type TransactionsAppendedData struct {
	PortfolioID    string   `json:"portfolio_id"`
	TransactionIDs []string `json:"transaction_ids"`
	Count          int      `json:"count"`
}

// EventType returns the event type for TransactionsAppendedData
func (d *TransactionsAppendedData) EventType() EventType {
	return TransactionsAppended
}

// RecomputeCompletedData contains data for RecomputeCompleted events
type RecomputeCompletedData struct {
	PortfolioID        string `json:"portfolio_id"`
	Fingerprint        string `json:"fingerprint"`
	TransactionCount   int    `json:"transaction_count"`
	LotCount           int    `json:"lot_count"`
	InstrumentFailures int    `json:"instrument_failures"`
	DurationMs         int64  `json:"duration_ms"`
}

// EventType returns the event type for RecomputeCompletedData
func (d *RecomputeCompletedData) EventType() EventType {
	return RecomputeCompleted
}

// RecomputeFailedData contains data for RecomputeFailed events
type RecomputeFailedData struct {
	PortfolioID   string `json:"portfolio_id"`
	TransactionID string `json:"transaction_id,omitempty"`
	Error         string `json:"error"`
}

// EventType returns the event type for RecomputeFailedData
func (d *RecomputeFailedData) EventType() EventType {
	return RecomputeFailed
}

// PricesUpdatedData contains data for PricesUpdated events
type PricesUpdatedData struct {
	Count  int    `json:"count"`
	Source string `json:"source"`
}

// EventType returns the event type for PricesUpdatedData
func (d *PricesUpdatedData) EventType() EventType {
	return PricesUpdated
}

// RatesUpdatedData contains data for RatesUpdated events
type RatesUpdatedData struct {
	Count  int      `json:"count"`
	Pairs  []string `json:"pairs,omitempty"`
	Source string   `json:"source"`
}

// EventType returns the event type for RatesUpdatedData
func (d *RatesUpdatedData) EventType() EventType {
	return RatesUpdated
}

// BackupCompletedData contains data for BackupCompleted events
type BackupCompletedData struct {
	Keys       []string `json:"keys"`
	TotalBytes int64    `json:"total_bytes"`
	Pruned     int      `json:"pruned"`
}

// EventType returns the event type for BackupCompletedData
func (d *BackupCompletedData) EventType() EventType {
	return BackupCompleted
}

// ErrorEventData contains data for ErrorOccurred events
type ErrorEventData struct {
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// EventType returns the event type for ErrorEventData
func (d *ErrorEventData) EventType() EventType {
	return ErrorOccurred
}

// GetTypedData converts the event's Data map back into its typed form.
// Returns nil for unknown types or undecodable data.
func (e *Event) GetTypedData() EventData {
	if e.Data == nil {
		return nil
	}

	var data EventData
	switch e.Type {
	case PortfolioCreated:
		data = &PortfolioCreatedData{}
	case TransactionsAppended:
		data = &TransactionsAppendedData{}
	case RecomputeCompleted:
		data = &RecomputeCompletedData{}
	case RecomputeFailed:
		data = &RecomputeFailedData{}
	case PricesUpdated:
		data = &PricesUpdatedData{}
	case RatesUpdated:
		data = &RatesUpdatedData{}
	case BackupCompleted:
		data = &BackupCompletedData{}
	case ErrorOccurred:
		data = &ErrorEventData{}
	default:
		return nil
	}

	if err := convertMapToStruct(e.Data, data); err != nil {
		return nil
	}
	return data
}

// convertMapToStruct converts a map[string]interface{} to a struct
func convertMapToStruct(m map[string]interface{}, v interface{}) error {
	jsonBytes, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(jsonBytes, v)
}

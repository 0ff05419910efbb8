package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ValidationError reports a malformed, out-of-order or timezone-naive input.
type ValidationError struct {
	TransactionID string
	Field         string
	Reason        string
}

func (e *ValidationError) Error() string {
	if e.TransactionID != "" {
		return fmt.Sprintf("invalid transaction %s: %s: %s", e.TransactionID, e.Field, e.Reason)
	}
	if e.Field != "" {
		return fmt.Sprintf("invalid input: %s: %s", e.Field, e.Reason)
	}
	return "invalid input: " + e.Reason
}

// NewValidationError creates a ValidationError for the given field.
func NewValidationError(txID, field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{TransactionID: txID, Field: field, Reason: fmt.Sprintf(format, args...)}
}

// InsufficientQuantityError is returned when a sale exceeds the open quantity.
// No lot is modified when it is returned.
type InsufficientQuantityError struct {
	Requested     decimal.Decimal
	Available     decimal.Decimal
	TransactionID string
	InstrumentID  string
}

func (e *InsufficientQuantityError) Error() string {
	return fmt.Sprintf("transaction %s: cannot sell %s of %s, only %s open",
		e.TransactionID, e.Requested, e.InstrumentID, e.Available)
}

// InvalidCorporateActionError is returned for a non-positive ratio or when the
// instrument has no open lots on the effective date.
type InvalidCorporateActionError struct {
	TransactionID string
	InstrumentID  string
	Kind          TransactionKind
	Reason        string
}

func (e *InvalidCorporateActionError) Error() string {
	return fmt.Sprintf("transaction %s: invalid %s for %s: %s", e.TransactionID, e.Kind, e.InstrumentID, e.Reason)
}

// RateUnavailableError is returned when no FX rate exists on or before the date.
type RateUnavailableError struct {
	Date          time.Time
	Pair          CurrencyPair
	TransactionID string
}

func (e *RateUnavailableError) Error() string {
	msg := fmt.Sprintf("no %s rate on or before %s", e.Pair, e.Date.Format(DateLayout))
	if e.TransactionID != "" {
		return fmt.Sprintf("transaction %s: %s", e.TransactionID, msg)
	}
	return msg
}

// PriceUnavailableError is returned when no price exists on or before the date.
type PriceUnavailableError struct {
	Date         time.Time
	InstrumentID string
}

func (e *PriceUnavailableError) Error() string {
	return fmt.Sprintf("no price for %s on or before %s", e.InstrumentID, e.Date.Format(DateLayout))
}

// NoConvergenceError is returned when a money-weighted return is undefined for
// the supplied flows or the solver exhausted its iterations.
type NoConvergenceError struct {
	Reason     string
	Iterations int
}

func (e *NoConvergenceError) Error() string {
	if e.Iterations > 0 {
		return fmt.Sprintf("return did not converge after %d iterations: %s", e.Iterations, e.Reason)
	}
	return "return undefined: " + e.Reason
}

// RecomputeError wraps the error that aborted a portfolio recompute.
type RecomputeError struct {
	Err           error
	PortfolioID   string
	TransactionID string
}

func (e *RecomputeError) Error() string {
	return fmt.Sprintf("recompute of portfolio %s failed at transaction %s: %v", e.PortfolioID, e.TransactionID, e.Err)
}

func (e *RecomputeError) Unwrap() error {
	return e.Err
}

// AttachTransaction records txID on lookup errors that were raised without
// knowing which transaction triggered them.
func AttachTransaction(err error, txID string) error {
	var rateErr *RateUnavailableError
	if errors.As(err, &rateErr) && rateErr.TransactionID == "" {
		rateErr.TransactionID = txID
	}
	return err
}

// IsInstrumentScoped reports whether err should only abort the affected
// instrument instead of the whole portfolio.
func IsInstrumentScoped(err error) bool {
	var rateErr *RateUnavailableError
	var priceErr *PriceUnavailableError
	return errors.As(err, &rateErr) || errors.As(err, &priceErr)
}

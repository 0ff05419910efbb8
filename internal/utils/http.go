package utils

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/lotledger/internal/domain"
)

// Error codes carried in error envelopes.
const (
	CodeValidation           = "VALIDATION_ERROR"
	CodeInsufficientQuantity = "INSUFFICIENT_QUANTITY"
	CodeInvalidAction        = "INVALID_CORPORATE_ACTION"
	CodeMissingMarketData    = "MARKET_DATA_UNAVAILABLE"
	CodeReturnUndefined      = "RETURN_UNDEFINED"
	CodeNotFound             = "NOT_FOUND"
	CodeUnavailable          = "UNAVAILABLE"
	CodeInternal             = "INTERNAL_ERROR"
)

// ErrNotFound is returned by repositories and services for unknown ids.
var ErrNotFound = errors.New("not found")

// ErrUnavailable is returned for features that are not configured.
var ErrUnavailable = errors.New("unavailable")

// StatusFor maps an error from the engine or a repository to an HTTP status
// and an error code.
func StatusFor(err error) (int, string) {
	var (
		validation   *domain.ValidationError
		insufficient *domain.InsufficientQuantityError
		action       *domain.InvalidCorporateActionError
		rate         *domain.RateUnavailableError
		price        *domain.PriceUnavailableError
		noConverge   *domain.NoConvergenceError
	)

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable, CodeUnavailable
	case errors.As(err, &validation):
		return http.StatusBadRequest, CodeValidation
	case errors.As(err, &insufficient):
		return http.StatusConflict, CodeInsufficientQuantity
	case errors.As(err, &action):
		return http.StatusConflict, CodeInvalidAction
	case errors.As(err, &rate), errors.As(err, &price):
		return http.StatusFailedDependency, CodeMissingMarketData
	case errors.As(err, &noConverge):
		return http.StatusUnprocessableEntity, CodeReturnUndefined
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}, log zerolog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// WriteData wraps data in the {"data", "metadata"} envelope.
func WriteData(w http.ResponseWriter, status int, data interface{}, log zerolog.Logger) {
	WriteJSON(w, status, map[string]interface{}{
		"data": data,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	}, log)
}

// WriteError maps err to a status and writes an error envelope. Server-side
// failures are logged with their cause and reported without internal detail.
func WriteError(w http.ResponseWriter, err error, log zerolog.Logger) {
	status, code := StatusFor(err)

	message := err.Error()
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("Request failed")
		message = "internal error"
	} else if code == CodeReturnUndefined {
		message = "return undefined for this period: " + message
	}

	WriteJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"code":    code,
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	}, log)
}

// DecodeJSON decodes the request body into v, rejecting unknown fields.
// Decode failures are reported as validation errors.
func DecodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return domain.NewValidationError("", "body", "invalid request body: %v", err)
	}
	return nil
}

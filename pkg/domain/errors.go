package domain

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrNoPricing is returned when no pricing table matches a backend/model.
	ErrNoPricing = errors.New("no pricing information")
	// ErrNotCacheable is returned when grounding is below the cacheable threshold
	// or the backend cannot cache.
	ErrNotCacheable = errors.New("grounding is not cacheable")
)

// UnsupportedBackendError is returned for identifiers with no registered adapter.
type UnsupportedBackendError struct {
	Backend   string
	Available []string
}

func (e *UnsupportedBackendError) Error() string {
	if len(e.Available) == 0 {
		return fmt.Sprintf("unsupported backend %q", e.Backend)
	}
	return fmt.Sprintf("unsupported backend %q (available: %s)", e.Backend, strings.Join(e.Available, ", "))
}

// UnsupportedPayloadError is returned when the payload cannot be interpreted.
type UnsupportedPayloadError struct {
	Kind   string
	Reason string
}

func (e *UnsupportedPayloadError) Error() string {
	if e.Kind == "" {
		return "unsupported payload: " + e.Reason
	}
	return fmt.Sprintf("unsupported payload %s: %s", e.Kind, e.Reason)
}

// VendorError carries the status of a failed vendor call.
type VendorError struct {
	Backend    string
	StatusCode int
	Message    string
	Err        error
}

func (e *VendorError) describe(kind string) string {
	var b strings.Builder
	b.WriteString(kind)
	if e.Backend != "" {
		b.WriteString(" from ")
		b.WriteString(e.Backend)
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *VendorError) Unwrap() error { return e.Err }

// AuthError signals rejected or missing credentials.
type AuthError struct{ VendorError }

func (e *AuthError) Error() string { return e.describe("authentication failed") }

// RateLimitError signals quota exhaustion. It is never retried automatically.
type RateLimitError struct{ VendorError }

func (e *RateLimitError) Error() string { return e.describe("rate limited") }

// ValidationError signals a malformed request or payload.
type ValidationError struct{ VendorError }

func (e *ValidationError) Error() string { return e.describe("invalid request") }

// BackendError is any other vendor failure.
type BackendError struct{ VendorError }

func (e *BackendError) Error() string { return e.describe("backend error") }

// CacheError is a cache lookup or creation failure.
type CacheError struct {
	Backend string
	Model   string
	Op      string
	Err     error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("cache %s failed for %s/%s: %v", e.Op, e.Backend, e.Model, e.Err)
}

func (e *CacheError) Unwrap() error { return e.Err }

// TokenLimitError is returned when the token guard rejects a request or
// the request does not fit the model's context window.
type TokenLimitError struct {
	Tokens   int
	Limit    int
	Declined bool
	// ContextWindow is set when Limit is the model's context window.
	ContextWindow bool
}

func (e *TokenLimitError) Error() string {
	if e.Declined {
		return fmt.Sprintf("request of ~%d tokens was not approved", e.Tokens)
	}
	if e.ContextWindow {
		return fmt.Sprintf("request of ~%d tokens exceeds the model context window of %d", e.Tokens, e.Limit)
	}
	return fmt.Sprintf("request of ~%d tokens exceeds limit of %d", e.Tokens, e.Limit)
}

// NewAuthError builds an AuthError without a vendor status, e.g. for missing keys.
func NewAuthError(backend, message string) error {
	return &AuthError{VendorError{Backend: backend, Message: message}}
}

// NewValidationError builds a ValidationError raised before any vendor call.
func NewValidationError(backend, message string) error {
	return &ValidationError{VendorError{Backend: backend, Message: message}}
}

// ClassifyStatus maps a vendor HTTP status to the error taxonomy.
func ClassifyStatus(backend string, status int, message string, err error) error {
	ve := VendorError{Backend: backend, StatusCode: status, Message: message, Err: err}
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &AuthError{ve}
	case http.StatusTooManyRequests:
		return &RateLimitError{ve}
	case http.StatusBadRequest, http.StatusNotFound, http.StatusRequestEntityTooLarge,
		http.StatusUnsupportedMediaType, http.StatusUnprocessableEntity:
		return &ValidationError{ve}
	default:
		return &BackendError{ve}
	}
}

// StatusCode extracts the vendor status from any taxonomy error, 0 if none.
func StatusCode(err error) int {
	var ae *AuthError
	var re *RateLimitError
	var ve *ValidationError
	var be *BackendError
	switch {
	case errors.As(err, &ae):
		return ae.StatusCode
	case errors.As(err, &re):
		return re.StatusCode
	case errors.As(err, &ve):
		return ve.StatusCode
	case errors.As(err, &be):
		return be.StatusCode
	}
	return 0
}

package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrorTypeSiteIdentification means no site key could be derived from the URL
	ErrorTypeSiteIdentification ErrorType = "site_identification"
	// ErrorTypeNetwork represents network-related errors and unexpected statuses
	ErrorTypeNetwork ErrorType = "network"
	// ErrorTypeTimeout represents fetches that ran past their deadline
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeRateLimit represents rate limiting errors
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeBrowser represents headless browser failures
	ErrorTypeBrowser ErrorType = "browser"
	// ErrorTypeLedgerConflict represents a ledger write that kept losing races
	ErrorTypeLedgerConflict ErrorType = "ledger_conflict"
	// ErrorTypeValidation represents validation errors
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeConfiguration represents configuration errors
	ErrorTypeConfiguration ErrorType = "configuration"
	// ErrorTypeInternal represents a recovered panic or other programming error
	ErrorTypeInternal ErrorType = "internal"
)

// ProbeError represents a failure while probing or recording a shop price
type ProbeError struct {
	Type    ErrorType
	Site    string
	Message string
	Err     error
	Time    time.Time
}

// Error implements the error interface
func (e *ProbeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s - %v", e.Type, e.Site, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Type, e.Site, e.Message)
}

// Unwrap returns the underlying error
func (e *ProbeError) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if the error is retryable
func (e *ProbeError) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeLedgerConflict:
		return true
	default:
		return false
	}
}

// Reason returns the failure category of err for run summaries.
// Errors that are not ProbeErrors are reported as "unknown".
func Reason(err error) string {
	var pe *ProbeError
	if stderrors.As(err, &pe) {
		return string(pe.Type)
	}
	return "unknown"
}

// Is reports whether err is a ProbeError of type t
func Is(err error, t ErrorType) bool {
	var pe *ProbeError
	return stderrors.As(err, &pe) && pe.Type == t
}

// New creates a new ProbeError
func New(errType ErrorType, site, message string, err error) *ProbeError {
	return &ProbeError{
		Type:    errType,
		Site:    site,
		Message: message,
		Err:     err,
		Time:    time.Now(),
	}
}

// NewSiteIdentification creates a new site identification error
func NewSiteIdentification(rawURL, message string) *ProbeError {
	return New(ErrorTypeSiteIdentification, rawURL, message, nil)
}

// NewNetwork creates a new network error
func NewNetwork(site, message string, err error) *ProbeError {
	return New(ErrorTypeNetwork, site, message, err)
}

// NewTimeout creates a new timeout error
func NewTimeout(site, message string, err error) *ProbeError {
	return New(ErrorTypeTimeout, site, message, err)
}

// NewRateLimit creates a new rate limit error
func NewRateLimit(site string, duration time.Duration) *ProbeError {
	message := fmt.Sprintf("rate limited for %v", duration)
	return New(ErrorTypeRateLimit, site, message, nil)
}

// NewBrowser creates a new browser error
func NewBrowser(site, message string, err error) *ProbeError {
	return New(ErrorTypeBrowser, site, message, err)
}

// NewLedgerConflict creates a new ledger conflict error
func NewLedgerConflict(site, message string, err error) *ProbeError {
	return New(ErrorTypeLedgerConflict, site, message, err)
}

// NewValidation creates a new validation error
func NewValidation(site, message string) *ProbeError {
	return New(ErrorTypeValidation, site, message, nil)
}

// NewConfiguration creates a new configuration error
func NewConfiguration(message string, err error) *ProbeError {
	return New(ErrorTypeConfiguration, "", message, err)
}

// NewInternal creates a new internal error
func NewInternal(site, message string, err error) *ProbeError {
	return New(ErrorTypeInternal, site, message, err)
}

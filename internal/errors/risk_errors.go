package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies where in the risk pipeline an error originated.
type ErrorCategory string

const (
	// Critical categories that must halt the affected operation
	ErrorCategoryBreaker ErrorCategory = "BREAKER"
	ErrorCategoryConfig  ErrorCategory = "CONFIG"
	ErrorCategoryState   ErrorCategory = "STATE"

	// Operational categories
	ErrorCategoryValidation ErrorCategory = "VALIDATION"
	ErrorCategoryProtection ErrorCategory = "PROTECTION"
	ErrorCategoryPortfolio  ErrorCategory = "PORTFOLIO"
	ErrorCategoryExchange   ErrorCategory = "EXCHANGE"
	ErrorCategoryMarketData ErrorCategory = "MARKET_DATA"
)

// Sentinel errors used for errors.Is checks across package boundaries.
var (
	ErrInvalidResetToken    = errors.New("invalid circuit breaker reset token")
	ErrBreakerOpen          = errors.New("circuit breaker does not allow trading")
	ErrPositionNotFound     = errors.New("position not found")
	ErrDuplicatePosition    = errors.New("position already registered")
	ErrProtectionExists     = errors.New("protection already active for position")
	ErrInsufficientHistory  = errors.New("insufficient trade history")
	ErrPortfolioLimitBreach = errors.New("portfolio limit breached")
)

// RiskError is a categorized error with enough context to decide whether the
// operation may be retried. Protection and breaker failures are never
// retryable: the caller must fail closed instead.
type RiskError struct {
	Category   ErrorCategory
	Component  string
	Operation  string
	Message    string
	Underlying error
	Context    map[string]interface{}
	Retryable  bool
}

// Error implements the error interface
func (e *RiskError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("[%s:%s] %s: %s: %v", e.Category, e.Component, e.Operation, e.Message, e.Underlying)
	}
	return fmt.Sprintf("[%s:%s] %s: %s", e.Category, e.Component, e.Operation, e.Message)
}

// Unwrap returns the underlying error for error unwrapping
func (e *RiskError) Unwrap() error {
	return e.Underlying
}

// IsRetryable returns whether the failed operation may be attempted again
func (e *RiskError) IsRetryable() bool {
	return e.Retryable
}

// IsCritical returns whether this error must halt the subsystem rather than
// a single operation
func (e *RiskError) IsCritical() bool {
	return e.Category == ErrorCategoryBreaker ||
		e.Category == ErrorCategoryConfig ||
		e.Category == ErrorCategoryState
}

// New creates a categorized risk error
func New(category ErrorCategory, component, operation, message string) *RiskError {
	return &RiskError{
		Category:  category,
		Component: component,
		Operation: operation,
		Message:   message,
		Context:   make(map[string]interface{}),
		Retryable: isRetryableCategory(category),
	}
}

// Wrap wraps an existing error with risk error context
func Wrap(err error, category ErrorCategory, component, operation string) *RiskError {
	if err == nil {
		return nil
	}
	return &RiskError{
		Category:   category,
		Component:  component,
		Operation:  operation,
		Message:    "operation failed",
		Underlying: err,
		Context:    make(map[string]interface{}),
		Retryable:  isRetryableCategory(category),
	}
}

// WithContext adds context information to the error
func (e *RiskError) WithContext(key string, value interface{}) *RiskError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithRetryable sets the retryable flag
func (e *RiskError) WithRetryable(retryable bool) *RiskError {
	e.Retryable = retryable
	return e
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// isRetryableCategory maps categories to their default retry policy. Market
// data failures are retried on the next monitor tick; everything that guards
// capital is not retried.
func isRetryableCategory(category ErrorCategory) bool {
	switch category {
	case ErrorCategoryMarketData, ErrorCategoryExchange:
		return true
	default:
		return false
	}
}

// Constructors for the common cases.

func NewValidationError(component, operation, message string) *RiskError {
	return New(ErrorCategoryValidation, component, operation, message)
}

func NewProtectionError(component, operation string, err error) *RiskError {
	return Wrap(err, ErrorCategoryProtection, component, operation)
}

func NewBreakerError(component, operation, message string) *RiskError {
	return New(ErrorCategoryBreaker, component, operation, message)
}

func NewPortfolioError(component, operation, message string) *RiskError {
	return New(ErrorCategoryPortfolio, component, operation, message)
}

func NewExchangeError(component, operation string, err error) *RiskError {
	return Wrap(err, ErrorCategoryExchange, component, operation)
}

func NewMarketDataError(component, operation string, err error) *RiskError {
	return Wrap(err, ErrorCategoryMarketData, component, operation)
}

func NewStateError(component, operation string, err error) *RiskError {
	return Wrap(err, ErrorCategoryState, component, operation)
}

func NewConfigError(component, operation, message string) *RiskError {
	return New(ErrorCategoryConfig, component, operation, message)
}

package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// NetworkError represents a network-related error that may be retriable
type NetworkError struct {
	Op        string // Operation that failed (e.g., "connect", "read", "write")
	Err       error  // Underlying error
	Retriable bool   // Whether this error is retriable
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) IsRetriable() bool {
	return e.Retriable
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new retriable network error
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: true}
}

// NewFatalNetworkError creates a non-retriable network error
func NewFatalNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: false}
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ValidationError is returned when a quote pair fails pre-trade checks.
// Never sent to the exchange. The suggested prices carry the nearest
// acceptable values when the validator can compute them.
type ValidationError struct {
	Reason       string
	SuggestedBid decimal.Decimal
	SuggestedAsk decimal.Decimal
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

func (e *ValidationError) IsRetriable() bool {
	return false
}

// ExchangeError is a business-level reject carried in an exchange response.
type ExchangeError struct {
	Code int
	Msg  string
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("exchange error %d: %s", e.Code, e.Msg)
}

func (e *ExchangeError) IsRetriable() bool {
	return false
}

var (
	// ErrConnectionFailed is returned when a websocket connection fails. It's usually retriable.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrConnectionClosed is returned for in-flight requests cut off by a disconnect.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrNotConnected is returned when an operation needs a live connection.
	ErrNotConnected = errors.New("not connected")

	// ErrRequestTimeout is returned when the exchange does not answer in time.
	ErrRequestTimeout = errors.New("request timeout")

	// ErrShuttingDown is returned for work refused during shutdown.
	ErrShuttingDown = errors.New("shutting down")

	// ErrCrossedBook is returned when best bid >= best ask.
	ErrCrossedBook = errors.New("crossed book")

	// ErrEmptyBook is returned when a book side has no levels.
	ErrEmptyBook = errors.New("empty book")

	// ErrInvalidSymbol is returned when a symbol is not supported or malformed. Not retriable.
	ErrInvalidSymbol = errors.New("invalid symbol")

	// ErrConfigNotFound is returned when configuration file is missing
	ErrConfigNotFound = errors.New("configuration not found")
)

// Package errors provides the error taxonomy shared by the redispool packages.
//
// This package provides:
//   - Sentinel errors for pool and connection conditions
//   - Typed errors carrying the failed connection's identity
//   - Error codes used by the command line tool as exit statuses
//   - Safe error messages that don't leak connection credentials
package errors

import (
	"errors"
	"fmt"

	"github.com/go-i2p/logger"
)

var log = logger.GetGoI2PLogger()

// Error codes for categorizing errors. The redispool binary exits with
// these values.
const (
	CodeOK            = 0
	CodeInternal      = 1 // Unclassified failure
	CodeConfiguration = 2 // Invalid or unreadable configuration
	CodeConnection    = 3 // Could not establish a session
	CodePoolEnded     = 4 // Operation after drain/end
	CodeTimeout       = 5 // Acquire or shutdown timed out
	CodeInvalidHandle = 6 // Release/destroy of an untracked connection
	CodeUnavailable   = 7 // Circuit breaker open
	CodeState         = 8 // Invalid lifecycle transition
)

// Sentinel errors for common error conditions.
// Use errors.Is() to check for these conditions.
var (
	// ErrClosed indicates a resource is closed.
	ErrClosed = errors.New("closed")

	// ErrTimeout indicates an operation timed out.
	ErrTimeout = errors.New("operation timed out")

	// ErrInvalidInput indicates invalid input was provided.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidState indicates an invalid state transition.
	ErrInvalidState = errors.New("invalid state")

	// ErrConnection indicates a connection error.
	ErrConnection = errors.New("connection error")

	// ErrUnavailable indicates a service is unavailable.
	ErrUnavailable = errors.New("service unavailable")

	// ErrConfiguration indicates a configuration error.
	ErrConfiguration = errors.New("configuration error")

	// ErrCircuitOpen indicates the circuit breaker is open.
	ErrCircuitOpen = fmt.Errorf("circuit breaker is open: %w", ErrUnavailable)
)

// Pool errors
var (
	// ErrPoolEnded is returned by every pool operation once the pool has
	// left the running state.
	ErrPoolEnded = fmt.Errorf("pool: ended: %w", ErrClosed)

	// ErrInvalidHandle is returned when release or destroy is called with a
	// connection the pool does not track as in use.
	ErrInvalidHandle = fmt.Errorf("pool: connection not in use: %w", ErrInvalidInput)

	// ErrAcquireTimeout is returned when a queued acquisition exceeds the
	// configured maximum wait.
	ErrAcquireTimeout = fmt.Errorf("pool: acquire: %w", ErrTimeout)

	// ErrNotDraining is returned by Clear when Drain has not been called.
	ErrNotDraining = fmt.Errorf("pool: clear before drain: %w", ErrInvalidState)

	// ErrConnectionCreate matches every *CreateError.
	ErrConnectionCreate = fmt.Errorf("pool: create connection: %w", ErrConnection)

	// ErrDestroy matches every *DestroyError.
	ErrDestroy = errors.New("pool: destroy connection")
)

// Configuration errors
var (
	// ErrInvalidSize indicates min/max pool bounds are inconsistent.
	ErrInvalidSize = fmt.Errorf("config: pool size: %w", ErrConfiguration)

	// ErrNoFactory indicates a pool was built without a connection factory.
	ErrNoFactory = fmt.Errorf("config: factory is required: %w", ErrConfiguration)
)

// CreateError reports a failed attempt to open a connection. It is returned
// only to the caller whose acquisition triggered the attempt.
type CreateError struct {
	// ConnID identifies the attempt in logs.
	ConnID string
	// Err is the driver error.
	Err error
}

// NewCreateError wraps a driver failure.
func NewCreateError(connID string, err error) *CreateError {
	log.WithField("conn", connID).WithError(err).Debug("wrapping create error")
	return &CreateError{ConnID: connID, Err: err}
}

func (e *CreateError) Error() string {
	if e.ConnID == "" {
		return fmt.Sprintf("pool: create connection: %v", e.Err)
	}
	return fmt.Sprintf("pool: create connection %s: %v", e.ConnID, e.Err)
}

func (e *CreateError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrConnectionCreate) true for any CreateError.
func (e *CreateError) Is(target error) bool {
	return target == ErrConnectionCreate || target == ErrConnection
}

// DestroyError reports a session that reported an error while closing.
// It is logged and notified, never returned from Destroy or End.
type DestroyError struct {
	ConnID string
	Err    error
}

// NewDestroyError wraps a close failure.
func NewDestroyError(connID string, err error) *DestroyError {
	log.WithField("conn", connID).WithError(err).Debug("wrapping destroy error")
	return &DestroyError{ConnID: connID, Err: err}
}

func (e *DestroyError) Error() string {
	return fmt.Sprintf("pool: destroy connection %s: %v", e.ConnID, e.Err)
}

func (e *DestroyError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrDestroy) true for any DestroyError.
func (e *DestroyError) Is(target error) bool {
	return target == ErrDestroy
}

// Error is a structured error with a code and safe message.
// The command line tool prints SafeMessage and exits with Code.
type Error struct {
	// Code is the error code for categorization
	Code int `json:"code"`
	// Message is a safe, user-facing error message
	Message string `json:"message"`
	// Err is the underlying error (not exposed to users)
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// SafeMessage returns a message without internal details such as
// addresses or credentials embedded in driver errors.
func (e *Error) SafeMessage() string {
	return e.Message
}

// FromSentinel creates a structured error from any error in the taxonomy.
// The message is derived from the category, not from the wrapped text.
func FromSentinel(err error) *Error {
	if err == nil {
		return nil
	}

	code := codeFromError(err)
	return &Error{
		Code:    code,
		Message: messageForCode(code),
		Err:     err,
	}
}

// codeFromError maps sentinel errors to error codes.
func codeFromError(err error) int {
	switch {
	case errors.Is(err, ErrConfiguration):
		return CodeConfiguration
	case errors.Is(err, ErrPoolEnded):
		return CodePoolEnded
	case errors.Is(err, ErrInvalidHandle):
		return CodeInvalidHandle
	case errors.Is(err, ErrCircuitOpen), errors.Is(err, ErrUnavailable):
		return CodeUnavailable
	case errors.Is(err, ErrConnection):
		return CodeConnection
	case errors.Is(err, ErrTimeout):
		return CodeTimeout
	case errors.Is(err, ErrInvalidState):
		return CodeState
	default:
		return CodeInternal
	}
}

func messageForCode(code int) string {
	switch code {
	case CodeConfiguration:
		return "invalid configuration"
	case CodePoolEnded:
		return "pool has ended"
	case CodeInvalidHandle:
		return "connection is not in use"
	case CodeUnavailable:
		return "redis unavailable"
	case CodeConnection:
		return "could not connect to redis"
	case CodeTimeout:
		return "timed out"
	case CodeState:
		return "invalid pool state"
	default:
		return "internal error"
	}
}

// IsPoolEnded returns true if the error indicates the pool has ended.
func IsPoolEnded(err error) bool {
	return errors.Is(err, ErrPoolEnded)
}

// IsInvalidHandle returns true if the error reports an untracked connection.
func IsInvalidHandle(err error) bool {
	return errors.Is(err, ErrInvalidHandle)
}

// IsCreate returns true if the error reports a failed connection attempt.
func IsCreate(err error) bool {
	return errors.Is(err, ErrConnectionCreate)
}

// IsTimeout returns true if the error indicates a timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsClosed returns true if the error indicates a resource is closed.
func IsClosed(err error) bool {
	return errors.Is(err, ErrClosed)
}

// Join combines multiple errors into a single error.
// Returns nil if all errors are nil.
func Join(errs ...error) error {
	return errors.Join(errs...)
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target,
// and if so, sets target to that error value and returns true.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// New returns an error that formats as the given text.
func New(text string) error {
	return errors.New(text)
}

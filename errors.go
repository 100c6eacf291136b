package storefront

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Sentinel errors for common storage operations.
var (
	// Connection errors
	ErrConnectionFailed  = errors.New("connection failed")
	ErrConnectionTimeout = errors.New("connection timeout")
	ErrConnectionClosed  = errors.New("connection closed")
	ErrStoreUnavailable  = errors.New("store unavailable")

	// Driver errors
	ErrDriverNotFound = errors.New("driver not found")

	// Record errors
	ErrRecordNotFound   = errors.New("record not found")
	ErrUniqueConstraint = errors.New("unique constraint violation")
	ErrVersionConflict  = errors.New("version conflict")

	// Validation errors
	ErrValidationFailed = errors.New("validation failed")
	ErrUnknownKind      = errors.New("unknown kind")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ConnectionError represents connection-related errors.
type ConnectionError struct {
	Operation string
	Driver    string
	Host      string
	Err       error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error during %s with %s driver at %s: %v",
		e.Operation, e.Driver, e.Host, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// RecordNotFoundError represents a record not found error.
type RecordNotFoundError struct {
	Kind Kind
	ID   string
}

func (e *RecordNotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *RecordNotFoundError) Unwrap() error {
	return ErrRecordNotFound
}

// ValidationError represents validation errors raised before any store access.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error for field %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

// SchemaError is raised by the mapped access path when fields do not satisfy
// the kind's schema. The raw path validates less strictly, so a SchemaError
// may be retried there.
type SchemaError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema error for %s: %s", e.Kind, e.Message)
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}

// DuplicateError reports a unique index rejection. Field names the index
// that rejected the write ("slug", "unique_key" or "id").
type DuplicateError struct {
	Kind  Kind
	Field string
	Value string
	Err   error
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate %s %q for %s", e.Field, e.Value, e.Kind)
}

func (e *DuplicateError) Unwrap() error {
	if e.Err != nil {
		return errors.Join(ErrUniqueConstraint, e.Err)
	}
	return ErrUniqueConstraint
}

// VersionConflictError reports an optimistic concurrency mismatch.
type VersionConflictError struct {
	Kind     Kind
	ID       string
	Expected int64
	Actual   int64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict on %s %s: expected %d, stored %d",
		e.Kind, e.ID, e.Expected, e.Actual)
}

func (e *VersionConflictError) Unwrap() error {
	return ErrVersionConflict
}

// ConfigError represents configuration errors.
type ConfigError struct {
	Field   string
	Value   any
	Message string
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config error for field %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("config error: %s", e.Message)
}

func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfig
}

// RepositoryError represents repository operation errors.
type RepositoryError struct {
	Path      string
	Kind      Kind
	Operation string
	Context   map[string]any
	Err       error
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("repository error in %s %s.%s: %v", e.Path, e.Kind, e.Operation, e.Err)
}

func (e *RepositoryError) Unwrap() error {
	return e.Err
}

// Constructor functions for custom errors

// NewConnectionError creates a new connection error.
func NewConnectionError(err error, operation, driver, host string) *ConnectionError {
	return &ConnectionError{
		Operation: operation,
		Driver:    driver,
		Host:      host,
		Err:       err,
	}
}

// NewRecordNotFoundError creates a new record not found error.
func NewRecordNotFoundError(kind Kind, id string) *RecordNotFoundError {
	return &RecordNotFoundError{Kind: kind, ID: id}
}

// NewValidationError creates a new validation error.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{Message: message}
}

// NewValidationErrorForField creates a new validation error for a specific field.
func NewValidationErrorForField(field string, value any, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// NewConfigError creates a new config error.
func NewConfigError(message string) *ConfigError {
	return &ConfigError{Message: message}
}

// NewConfigErrorForField creates a new config error for a specific field.
func NewConfigErrorForField(field string, value any, message string) *ConfigError {
	return &ConfigError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// Wrapper functions for adding context to errors

// WrapConnectionError wraps an error as a connection error.
func WrapConnectionError(err error, operation, driver, host string) error {
	if err == nil {
		return nil
	}
	return NewConnectionError(err, operation, driver, host)
}

// WrapRepositoryError wraps an error with repository context.
func WrapRepositoryError(err error, path string, kind Kind, operation string, context map[string]any) error {
	if err == nil {
		return nil
	}
	return &RepositoryError{
		Path:      path,
		Kind:      kind,
		Operation: operation,
		Context:   context,
		Err:       err,
	}
}

// Error checking functions

// IsConnectionError checks if an error is a connection error.
func IsConnectionError(err error) bool {
	var connErr *ConnectionError
	return errors.As(err, &connErr)
}

// IsRecordNotFoundError checks if an error is a record not found error.
func IsRecordNotFoundError(err error) bool {
	return errors.Is(err, ErrRecordNotFound)
}

// IsValidationError checks if an error is a validation error.
func IsValidationError(err error) bool {
	var validationErr *ValidationError
	return errors.As(err, &validationErr)
}

// IsSchemaError checks if an error is a schema error from the mapped path.
func IsSchemaError(err error) bool {
	var schemaErr *SchemaError
	return errors.As(err, &schemaErr)
}

// IsDuplicateError checks if an error is a unique index rejection.
func IsDuplicateError(err error) bool {
	var dupErr *DuplicateError
	return errors.As(err, &dupErr)
}

// DuplicateField returns the rejecting index of a duplicate error, or "".
func DuplicateField(err error) string {
	var dupErr *DuplicateError
	if errors.As(err, &dupErr) {
		return dupErr.Field
	}
	return ""
}

// IsVersionConflict checks if an error is an optimistic concurrency conflict.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// IsConfigError checks if an error is a config error.
func IsConfigError(err error) bool {
	var configErr *ConfigError
	return errors.As(err, &configErr)
}

// IsDefinitive reports whether err is an answer every access path would
// give alike: invalid input, a missing row, a unique index rejection or a
// stale version. Such errors are never worth asking another path about.
// Schema errors are not definitive, the raw path validates less.
func IsDefinitive(err error) bool {
	return IsValidationError(err) || IsRecordNotFoundError(err) ||
		IsDuplicateError(err) || IsVersionConflict(err) || errors.Is(err, ErrUnknownKind)
}

// transientPatterns are driver messages that indicate a retryable fault.
var transientPatterns = []string{
	"connection refused",
	"connection reset",
	"connection closed",
	"broken pipe",
	"network is unreachable",
	"no route to host",
	"i/o timeout",
	"timeout",
	"server selection",
	"too many connections",
	"database is locked",
	"database table is locked",
	"driver: bad connection",
	"invalid connection",
}

// IsTransient reports whether err is a retryable fault: timeouts, deadline
// expiry, connection loss. Everything else, including errors this function
// does not recognise, is terminal.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	// Typed terminal errors win over message sniffing.
	if IsValidationError(err) || IsSchemaError(err) || IsDuplicateError(err) ||
		IsVersionConflict(err) || IsRecordNotFoundError(err) || IsConfigError(err) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, ErrConnectionFailed) ||
		errors.Is(err, ErrConnectionTimeout) ||
		errors.Is(err, ErrConnectionClosed) ||
		errors.Is(err, ErrStoreUnavailable) {
		return true
	}
	if IsConnectionError(err) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

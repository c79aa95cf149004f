// Package errors defines the error taxonomy shared by the index and geo
// managers. Sentinels classify the failure; OpError carries the table,
// operation, and offending document so callers can act without a stack trace.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNoTableConfig means no search configuration is registered for the
	// table. Configuration errors are never retried.
	ErrNoTableConfig = errors.New("no search configuration for table")
	// ErrGeoNotConfigured means a geo operation was requested on a table whose
	// configuration has no geo section.
	ErrGeoNotConfigured = errors.New("geo search not configured for table")
	// ErrEmptyTable means a build was attempted on a table with zero rows.
	ErrEmptyTable = errors.New("table has no rows to index")
	// ErrStoreUnavailable means the key-value store could not be reached.
	// Builds abort leaving the prior index untouched; queries surface this
	// instead of returning empty results.
	ErrStoreUnavailable = errors.New("key-value store unavailable")
	// ErrInvalidCoordinate means a document carried a latitude/longitude
	// outside [-90,90]/[-180,180] or NaN.
	ErrInvalidCoordinate = errors.New("invalid coordinate")
	// ErrUnresolvableLocation means the normalizer could not map a location
	// name to coordinates or a bucket.
	ErrUnresolvableLocation = errors.New("unresolvable location name")
	// ErrIndexNotFound means no build has been run for the table.
	ErrIndexNotFound = errors.New("index not found")
	// ErrBucketNotFound means the requested geo bucket id does not exist.
	ErrBucketNotFound = errors.New("geo bucket not found")
	// ErrInvalidGeoQuery means the geo option did not select exactly one of
	// the radius/name/bucket modes.
	ErrInvalidGeoQuery = errors.New("invalid geo query")
)

// OpError wraps a sentinel with the table, operation, and (where applicable)
// document that failed.
type OpError struct {
	Table string
	Op    string
	Doc   string
	Err   error
}

func (e *OpError) Error() string {
	if e.Doc != "" {
		return fmt.Sprintf("%s %s: doc %s: %s", e.Op, e.Table, e.Doc, e.Err.Error())
	}
	return fmt.Sprintf("%s %s: %s", e.Op, e.Table, e.Err.Error())
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// New wraps err with table and operation context.
func New(op string, table string, err error) *OpError {
	return &OpError{Table: table, Op: op, Err: err}
}

// NewDoc wraps err with table, operation, and document context.
func NewDoc(op string, table string, doc string, err error) *OpError {
	return &OpError{Table: table, Op: op, Doc: doc, Err: err}
}

// Hint appends a human-readable hint to an error message while preserving the
// sentinel for errors.Is.
func Hint(err error, hint string) error {
	return fmt.Errorf("%w (%s)", err, hint)
}

// HTTPStatusCode maps the taxonomy to HTTP statuses for the admin layer.
func HTTPStatusCode(err error) int {
	switch {
	case errors.Is(err, ErrIndexNotFound), errors.Is(err, ErrBucketNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNoTableConfig),
		errors.Is(err, ErrGeoNotConfigured),
		errors.Is(err, ErrEmptyTable),
		errors.Is(err, ErrInvalidCoordinate),
		errors.Is(err, ErrUnresolvableLocation),
		errors.Is(err, ErrInvalidGeoQuery):
		return http.StatusBadRequest
	case errors.Is(err, ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

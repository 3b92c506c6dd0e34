package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnrecognizedSchema  = errors.New("unrecognized_schema")
	ErrColumnCountMismatch = errors.New("column_count_mismatch")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidDate         = errors.New("invalid_date")
	ErrNoFinancialData     = errors.New("no_financial_data")
	ErrNoValidData         = errors.New("no_valid_data")
	ErrStoreWriteFailed    = errors.New("store_write_failed")
	ErrEmptyDocument       = errors.New("empty_document")
	ErrImportInProgress    = errors.New("import_in_progress")
	ErrNotFound            = errors.New("not_found")
	ErrInvalidID           = errors.New("invalid_id")
	ErrSourceNotStored     = errors.New("source_not_stored")
	ErrInvalidQuery        = errors.New("invalid_query")
)

// SchemaError reports the logical columns a header failed to provide.
type SchemaError struct {
	Format  Format
	Missing []string
}

func (e *SchemaError) Error() string {
	if len(e.Missing) == 0 {
		return ErrUnrecognizedSchema.Error()
	}
	return fmt.Sprintf("%s: missing columns: %s", ErrUnrecognizedSchema, strings.Join(e.Missing, ", "))
}

func (e *SchemaError) Is(target error) bool { return target == ErrUnrecognizedSchema }

// StoreError wraps a rejected write. Nothing from the batch is durable.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrStoreWriteFailed, e.Op, e.Err)
}

func (e *StoreError) Is(target error) bool { return target == ErrStoreWriteFailed }

func (e *StoreError) Unwrap() error { return e.Err }

// RowError describes why a single line was rejected or skipped.
type RowError struct {
	Line   int
	Reason error
	Detail string
}

func (e *RowError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
	}
	return fmt.Sprintf("line %d: %s: %s", e.Line, e.Reason, e.Detail)
}

func (e *RowError) Unwrap() error { return e.Reason }

// IsSkip reports whether a row outcome is a benign skip rather than an error.
func IsSkip(err error) bool { return errors.Is(err, ErrNoFinancialData) }

// ReasonOf returns the sentinel label used for error and skip buckets.
func ReasonOf(err error) string {
	for _, sentinel := range []error{ErrColumnCountMismatch, ErrInvalidAmount, ErrInvalidDate, ErrNoFinancialData} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return "unknown"
}

package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	csvdomain "github.com/smallbiznis/finledger/internal/csvimport/domain"
)

// ImportConfig is persisted under the "daily_csv_import" setting key.
type ImportConfig struct {
	Enabled     bool       `json:"enabled"`
	SourceURL   string     `json:"source_url"`
	LastImport  *time.Time `json:"last_import,omitempty"`
	ImportCount int        `json:"import_count"`
}

// UpdateConfigRequest changes the operator-controlled fields. Nil leaves a field as is.
type UpdateConfigRequest struct {
	Enabled   *bool   `json:"enabled"`
	SourceURL *string `json:"source_url"`
}

// Result is what one trigger invocation reports back.
type Result struct {
	Success bool                    `json:"success"`
	Reason  string                  `json:"reason,omitempty"`
	Error   string                  `json:"error,omitempty"`
	Stats   *csvdomain.ImportReport `json:"stats,omitempty"`
	Config  *ImportConfig           `json:"config,omitempty"`
}

const ReasonDisabled = "disabled"

var (
	ErrFetchFailed    = errors.New("fetch_failed")
	ErrAlreadyRunning = errors.New("already_running")
	ErrInvalidURL     = errors.New("invalid_source_url")
)

// FetchError wraps a network error, timeout or non-2xx status.
type FetchError struct {
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: unexpected status %d", ErrFetchFailed, e.StatusCode)
	}
	return fmt.Sprintf("%s: %v", ErrFetchFailed, e.Err)
}

func (e *FetchError) Is(target error) bool { return target == ErrFetchFailed }

func (e *FetchError) Unwrap() error { return e.Err }

//go:generate mockgen -destination=../mock/fetcher_mock.go -package=mock github.com/smallbiznis/finledger/internal/dailyimport/domain Fetcher

// Fetcher retrieves CSV text from a URL with a plain GET.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

type Service interface {
	// Run invokes the trigger now. Disabled configs return a no-op Result and no error.
	Run(ctx context.Context, source csvdomain.RunSource) (*Result, error)
	// RunIfDue runs only when no import happened yet on the current UTC day.
	RunIfDue(ctx context.Context) (*Result, bool, error)
	// ImportURL runs a one-off import from url without touching the stored config.
	ImportURL(ctx context.Context, url string) (*csvdomain.ImportReport, error)

	GetConfig(ctx context.Context) (*ImportConfig, error)
	UpdateConfig(ctx context.Context, req UpdateConfigRequest) (*ImportConfig, error)
}

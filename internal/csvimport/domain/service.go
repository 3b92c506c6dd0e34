package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	RunImport(ctx context.Context, req ImportRequest) (*ImportReport, error)
	Replay(ctx context.Context, id string) (*ImportReport, error)

	GetRun(ctx context.Context, id string) (*RunResponse, error)
	ListRuns(ctx context.Context, req ListRunsRequest) (*ListRunsResponse, error)
	RenderRunReport(ctx context.Context, id string) ([]byte, error)
	PruneRuns(ctx context.Context, before time.Time, batchSize int) (int, error)

	QueryLedger(ctx context.Context, req LedgerQuery) ([]LedgerEntry, error)
	ChannelStatistics(ctx context.Context) (*ChannelStatistics, error)
}

// ImportRequest carries raw CSV text. Uploads and fetched bodies are handled identically.
type ImportRequest struct {
	Content string
	Source  RunSource
}

type ListRunsRequest struct {
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size"`
}

type ListRunsResponse struct {
	Runs          []RunResponse `json:"runs"`
	NextPageToken string        `json:"next_page_token,omitempty"`
	HasMore       bool          `json:"has_more"`
}

type RunResponse struct {
	ID            string        `json:"id"`
	CorrelationID string        `json:"correlation_id"`
	Source        RunSource     `json:"source"`
	Status        RunStatus     `json:"status"`
	Format        string        `json:"format,omitempty"`
	Delimiter     string        `json:"delimiter,omitempty"`
	Stats         *ImportReport `json:"stats,omitempty"`
	Error         string        `json:"error,omitempty"`
	SourceStored  bool          `json:"source_stored"`
	SourceSize    int64         `json:"source_size"`
	StartedAt     time.Time     `json:"started_at"`
	FinishedAt    *time.Time    `json:"finished_at,omitempty"`
}

// LedgerQuery is the HTTP-facing ledger filter; dates are YYYY-MM-DD.
type LedgerQuery struct {
	From  string `form:"from"`
	To    string `form:"to"`
	Order string `form:"order"`
	Limit int    `form:"limit"`
}

const (
	DefaultLedgerLimit = 100
	MaxLedgerLimit     = 1000
)

func ParseID(value string) (snowflake.ID, error) {
	return snowflake.ParseString(value)
}

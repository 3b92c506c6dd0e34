package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// LedgerFilter bounds a ledger query. Empty From/To are open ends.
type LedgerFilter struct {
	From  string
	To    string
	Order SortOrder
	Limit int
}

// RunFilter pages import runs newest first, strictly after the given cursor.
type RunFilter struct {
	Limit         int
	BeforeStarted *time.Time
	BeforeID      snowflake.ID
}

type Repository interface {
	UpsertLedgerEntries(ctx context.Context, db *gorm.DB, entries []LedgerEntry) (int, error)
	QueryLedgerEntries(ctx context.Context, db *gorm.DB, filter LedgerFilter) ([]LedgerEntry, error)

	GetSetting(ctx context.Context, db *gorm.DB, key string) (*AppSetting, error)
	UpsertSetting(ctx context.Context, db *gorm.DB, setting *AppSetting) error

	InsertRun(ctx context.Context, db *gorm.DB, run *ImportRun) error
	FindRun(ctx context.Context, db *gorm.DB, id snowflake.ID) (*ImportRun, error)
	ListRuns(ctx context.Context, db *gorm.DB, filter RunFilter) ([]ImportRun, error)
	DeleteRunsBefore(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) (int64, error)
}

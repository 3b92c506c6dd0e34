package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/finledger/internal/csvimport/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

var ledgerUpdateColumns = []string{
	"revenue",
	"costs",
	"margin",
	"margin_percentage",
	"discounts",
	"cashback",
	"updated_at",
}

// UpsertLedgerEntries writes every entry, replacing any existing row for the same date.
func (r *repo) UpsertLedgerEntries(ctx context.Context, db *gorm.DB, entries []domain.LedgerEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	err := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "entry_date"}},
			DoUpdates: clause.AssignmentColumns(ledgerUpdateColumns),
		}).
		CreateInBatches(&entries, 500).Error
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

func (r *repo) QueryLedgerEntries(ctx context.Context, db *gorm.DB, filter domain.LedgerFilter) ([]domain.LedgerEntry, error) {
	stmt := db.WithContext(ctx).Model(&domain.LedgerEntry{})
	if filter.From != "" {
		stmt = stmt.Where("entry_date >= ?", filter.From)
	}
	if filter.To != "" {
		stmt = stmt.Where("entry_date <= ?", filter.To)
	}
	stmt = stmt.Order(clause.OrderByColumn{
		Column: clause.Column{Name: "entry_date"},
		Desc:   filter.Order == domain.SortDesc,
	})
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit)
	}

	var entries []domain.LedgerEntry
	if err := stmt.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repo) GetSetting(ctx context.Context, db *gorm.DB, key string) (*domain.AppSetting, error) {
	var setting domain.AppSetting
	err := db.WithContext(ctx).Where("setting_key = ?", key).Take(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &setting, nil
}

func (r *repo) UpsertSetting(ctx context.Context, db *gorm.DB, setting *domain.AppSetting) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "setting_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"setting_value", "updated_at"}),
		}).
		Create(setting).Error
}

func (r *repo) InsertRun(ctx context.Context, db *gorm.DB, run *domain.ImportRun) error {
	return db.WithContext(ctx).Create(run).Error
}

func (r *repo) FindRun(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.ImportRun, error) {
	var run domain.ImportRun
	err := db.WithContext(ctx).Where("id = ?", id).Take(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns returns runs newest first. The source blob is not loaded.
func (r *repo) ListRuns(ctx context.Context, db *gorm.DB, filter domain.RunFilter) ([]domain.ImportRun, error) {
	stmt := db.WithContext(ctx).
		Model(&domain.ImportRun{}).
		Select("id", "correlation_id", "source", "status", "format", "delimiter", "stats", "error_message", "source_size", "started_at", "finished_at")
	if filter.BeforeStarted != nil {
		stmt = stmt.Where("(started_at < ?) OR (started_at = ? AND id < ?)", *filter.BeforeStarted, *filter.BeforeStarted, filter.BeforeID)
	}
	stmt = stmt.Order("started_at DESC").Order("id DESC")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit)
	}

	var runs []domain.ImportRun
	if err := stmt.Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

// DeleteRunsBefore removes at most limit runs started before cutoff, oldest first.
func (r *repo) DeleteRunsBefore(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) (int64, error) {
	var ids []snowflake.ID
	err := db.WithContext(ctx).
		Model(&domain.ImportRun{}).
		Where("started_at < ?", cutoff).
		Order("started_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	res := db.WithContext(ctx).Where("id IN ?", ids).Delete(&domain.ImportRun{})
	return res.RowsAffected, res.Error
}

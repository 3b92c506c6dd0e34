package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

func init() {
	// Amounts leave the API as JSON numbers, not quoted strings.
	decimal.MarshalJSONWithoutQuotes = true
}

// Format is the detected CSV schema.
type Format string

const (
	FormatAggregate Format = "aggregate"
	FormatOrderLine Format = "order_line"
)

// Field names a logical column the parser can resolve from a header.
type Field string

const (
	FieldDate              Field = "date"
	FieldChannel           Field = "channel"
	FieldOrderNumber       Field = "order_number"
	FieldRevenue           Field = "revenue"
	FieldCosts             Field = "costs"
	FieldQuantity          Field = "quantity"
	FieldUnitSellingPrice  Field = "unit_selling_price"
	FieldUnitPurchasePrice Field = "unit_purchase_price"
	FieldDiscount          Field = "discount"
	FieldCashback          Field = "cashback"
	FieldTotalSales        Field = "total_sales"
	FieldTotalCost         Field = "total_cost"
)

// LineRecord is one accepted CSV line in canonical form. Date is YYYY-MM-DD.
type LineRecord struct {
	Line        int
	Date        string
	Channel     string
	OrderNumber string
	Revenue     decimal.Decimal
	Cost        decimal.Decimal
	Discount    decimal.Decimal
	Cashback    decimal.Decimal
}

// LedgerEntry is the canonical per-day financial row. A re-import of a date replaces it.
type LedgerEntry struct {
	Date             string          `json:"date" gorm:"column:entry_date;type:varchar(10);primaryKey"`
	Revenue          decimal.Decimal `json:"revenue" gorm:"type:numeric(14,2);not null"`
	Costs            decimal.Decimal `json:"costs" gorm:"type:numeric(14,2);not null"`
	Margin           decimal.Decimal `json:"margin" gorm:"type:numeric(14,2);not null"`
	MarginPercentage decimal.Decimal `json:"margin_percentage" gorm:"type:numeric(12,1);not null"`
	Discounts        decimal.Decimal `json:"discounts" gorm:"type:numeric(14,2);not null"`
	Cashback         decimal.Decimal `json:"cashback" gorm:"type:numeric(14,2);not null"`
	CreatedAt        time.Time       `json:"created_at" gorm:"not null"`
	UpdatedAt        time.Time       `json:"updated_at" gorm:"not null"`
}

// TableName sets the database table name.
func (LedgerEntry) TableName() string { return "ledger_entries" }

// AppSetting is a keyed JSON document.
type AppSetting struct {
	SettingKey   string         `gorm:"column:setting_key;type:varchar(64);primaryKey"`
	SettingValue datatypes.JSON `gorm:"column:setting_value;not null"`
	UpdatedAt    time.Time      `gorm:"not null"`
}

// TableName sets the database table name.
func (AppSetting) TableName() string { return "app_settings" }

const (
	SettingKeyChannelStatistics = "channel_statistics"
	SettingKeyDailyImport       = "daily_csv_import"
)

// ChannelStatistics is the single blob rewritten on every successful import.
type ChannelStatistics struct {
	Channels      map[string]ChannelStat `json:"channels"`
	LastUpdate    time.Time              `json:"last_update"`
	TotalChannels int                    `json:"total_channels"`
	ImportSummary ImportSummary          `json:"import_summary"`
}

type ChannelStat struct {
	Key               string          `json:"key"`
	Revenue           decimal.Decimal `json:"revenue"`
	Costs             decimal.Decimal `json:"costs"`
	Margin            decimal.Decimal `json:"margin"`
	MarginRate        decimal.Decimal `json:"margin_rate"`
	OrderCount        int             `json:"order_count"`
	AverageOrderValue decimal.Decimal `json:"average_order_value"`
	Dates             []string        `json:"dates"`
}

type ImportSummary struct {
	TotalLines     int `json:"total_lines"`
	SuccessCount   int `json:"success_count"`
	ErrorCount     int `json:"error_count"`
	SkippedCount   int `json:"skipped_count"`
	DatesProcessed int `json:"dates_processed"`
}

type RunSource string

const (
	RunSourceUpload    RunSource = "upload"
	RunSourceURL       RunSource = "url"
	RunSourceScheduled RunSource = "scheduled"
	RunSourceReplay    RunSource = "replay"
)

type RunStatus string

const (
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// ImportRun records one pipeline invocation.
type ImportRun struct {
	ID            snowflake.ID   `gorm:"primaryKey;autoIncrement:false"`
	CorrelationID string         `gorm:"type:varchar(32);not null"`
	Source        RunSource      `gorm:"type:varchar(16);not null"`
	Status        RunStatus      `gorm:"type:varchar(16);not null"`
	Format        string         `gorm:"type:varchar(16);not null;default:''"`
	Delimiter     string         `gorm:"type:varchar(4);not null;default:''"`
	Stats         datatypes.JSON `gorm:"column:stats"`
	ErrorMessage  string         `gorm:"column:error_message;type:text;not null;default:''"`
	SourceBlob    []byte         `gorm:"column:source_blob"`
	SourceSize    int64          `gorm:"not null;default:0"`
	StartedAt     time.Time      `gorm:"not null;index:idx_import_runs_started_at"`
	FinishedAt    *time.Time
}

// TableName sets the database table name.
func (ImportRun) TableName() string { return "import_runs" }

// HasSource reports whether the run kept its compressed CSV.
func (r *ImportRun) HasSource() bool { return r != nil && len(r.SourceBlob) > 0 }

package domain

import "github.com/shopspring/decimal"

// ImportReport is the per-invocation summary returned to callers.
type ImportReport struct {
	RunID        string         `json:"run_id,omitempty"`
	Format       Format         `json:"format,omitempty"`
	Delimiter    string         `json:"delimiter,omitempty"`
	TotalLines   int            `json:"total_lines"`
	Processed    int            `json:"processed"`
	Errors       int            `json:"errors"`
	Skipped      int            `json:"skipped"`
	DatesWritten int            `json:"dates_written"`
	Channels     []string       `json:"channels"`
	ChannelCount int            `json:"channel_count"`
	ErrorReasons map[string]int `json:"error_reasons,omitempty"`
	SkipReasons  map[string]int `json:"skip_reasons,omitempty"`
	Totals       *Totals        `json:"totals,omitempty"`
}

// Totals sums the ledger entries written by a run.
type Totals struct {
	Revenue   decimal.Decimal `json:"revenue"`
	Costs     decimal.Decimal `json:"costs"`
	Margin    decimal.Decimal `json:"margin"`
	Discounts decimal.Decimal `json:"discounts"`
	Cashback  decimal.Decimal `json:"cashback"`
}

// Summary projects the report into the blob stored with channel statistics.
func (r ImportReport) Summary() ImportSummary {
	return ImportSummary{
		TotalLines:     r.TotalLines,
		SuccessCount:   r.Processed,
		ErrorCount:     r.Errors,
		SkippedCount:   r.Skipped,
		DatesProcessed: r.DatesWritten,
	}
}

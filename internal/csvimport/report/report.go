package report

import (
	"sort"

	"github.com/smallbiznis/finledger/internal/csvimport/domain"
)

// Builder accumulates counters from every pipeline stage.
type Builder struct {
	report domain.ImportReport
}

func NewBuilder() *Builder {
	return &Builder{report: domain.ImportReport{
		Channels:     []string{},
		ErrorReasons: map[string]int{},
		SkipReasons:  map[string]int{},
	}}
}

func (b *Builder) SetRunID(id string) { b.report.RunID = id }

func (b *Builder) SetFormat(format domain.Format, delimiter string) {
	b.report.Format = format
	b.report.Delimiter = delimiter
}

// Record counts one non-blank data line by its outcome. A nil error is a success.
func (b *Builder) Record(err error) {
	b.report.TotalLines++
	switch {
	case err == nil:
		b.report.Processed++
	case domain.IsSkip(err):
		b.report.Skipped++
		b.report.SkipReasons[domain.ReasonOf(err)]++
	default:
		b.report.Errors++
		b.report.ErrorReasons[domain.ReasonOf(err)]++
	}
}

func (b *Builder) SetWritten(dates int, channels []string, totals *domain.Totals) {
	b.report.DatesWritten = dates
	names := append([]string(nil), channels...)
	sort.Strings(names)
	if names == nil {
		names = []string{}
	}
	b.report.Channels = names
	b.report.ChannelCount = len(names)
	b.report.Totals = totals
}

func (b *Builder) Processed() int { return b.report.Processed }

// Build returns a copy of the report; empty reason maps are dropped.
func (b *Builder) Build() domain.ImportReport {
	out := b.report
	out.Channels = append([]string{}, b.report.Channels...)
	out.ErrorReasons = copyCounts(b.report.ErrorReasons)
	out.SkipReasons = copyCounts(b.report.SkipReasons)
	return out
}

func copyCounts(in map[string]int) map[string]int {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

package render

import (
	"fmt"
	"sort"
	"time"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"
	"github.com/smallbiznis/finledger/internal/csvimport/domain"
)

var (
	labelStyle = props.Text{Size: 9, Style: fontstyle.Bold}
	valueStyle = props.Text{Size: 9, Align: align.Right}
)

// RunReportPDF renders one import run and its report as a single-page PDF.
func RunReportPDF(run domain.RunResponse) ([]byte, error) {
	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(20,
		text.NewCol(8, "Import report", props.Text{
			Size:  18,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		text.NewCol(4, string(run.Status), props.Text{
			Size:  12,
			Style: fontstyle.Bold,
			Align: align.Right,
			Top:   4,
		}),
	)

	m.AddRow(24,
		col.New(6).Add(
			text.New("Run: "+run.ID, props.Text{Size: 9}),
			text.New("Correlation: "+run.CorrelationID, props.Text{Size: 9, Top: 5}),
			text.New("Source: "+string(run.Source), props.Text{Size: 9, Top: 10}),
		),
		col.New(6).Add(
			text.New("Started: "+run.StartedAt.UTC().Format(time.RFC3339), props.Text{Size: 9, Align: align.Right}),
			text.New("Finished: "+finishedAt(run.FinishedAt), props.Text{Size: 9, Align: align.Right, Top: 5}),
			text.New("Format: "+formatLabel(run), props.Text{Size: 9, Align: align.Right, Top: 10}),
		),
	)

	if run.Error != "" {
		m.AddRow(14,
			text.NewCol(12, "Error: "+run.Error, props.Text{Size: 9, Style: fontstyle.Bold, Top: 3}),
		)
	}

	stats := run.Stats
	if stats == nil {
		stats = &domain.ImportReport{}
	}

	m.AddRow(10, text.NewCol(12, "Lines", props.Text{Size: 11, Style: fontstyle.Bold, Top: 2}))
	for _, line := range [][2]string{
		{"Total lines", fmt.Sprintf("%d", stats.TotalLines)},
		{"Processed", fmt.Sprintf("%d", stats.Processed)},
		{"Errors", fmt.Sprintf("%d", stats.Errors)},
		{"Skipped", fmt.Sprintf("%d", stats.Skipped)},
		{"Dates written", fmt.Sprintf("%d", stats.DatesWritten)},
		{"Channels", fmt.Sprintf("%d", stats.ChannelCount)},
	} {
		addPair(m, line[0], line[1])
	}

	if len(stats.ErrorReasons) > 0 || len(stats.SkipReasons) > 0 {
		m.AddRow(10, text.NewCol(12, "Rejected lines", props.Text{Size: 11, Style: fontstyle.Bold, Top: 2}))
		for _, reason := range sortedKeys(stats.ErrorReasons) {
			addPair(m, reason, fmt.Sprintf("%d", stats.ErrorReasons[reason]))
		}
		for _, reason := range sortedKeys(stats.SkipReasons) {
			addPair(m, reason+" (skipped)", fmt.Sprintf("%d", stats.SkipReasons[reason]))
		}
	}

	if stats.Totals != nil {
		m.AddRow(10, text.NewCol(12, "Totals written", props.Text{Size: 11, Style: fontstyle.Bold, Top: 2}))
		addPair(m, "Revenue", stats.Totals.Revenue.StringFixed(2))
		addPair(m, "Costs", stats.Totals.Costs.StringFixed(2))
		addPair(m, "Margin", stats.Totals.Margin.StringFixed(2))
		addPair(m, "Discounts", stats.Totals.Discounts.StringFixed(2))
		addPair(m, "Cashback", stats.Totals.Cashback.StringFixed(2))
	}

	if len(stats.Channels) > 0 {
		m.AddRow(10, text.NewCol(12, "Channels", props.Text{Size: 11, Style: fontstyle.Bold, Top: 2}))
		for _, channel := range stats.Channels {
			m.AddRow(6, text.NewCol(12, channel, props.Text{Size: 9}))
		}
	}

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return doc.GetBytes(), nil
}

func addPair(m core.Maroto, label, value string) {
	m.AddRow(6,
		text.NewCol(8, label, labelStyle),
		text.NewCol(4, value, valueStyle),
	)
}

func finishedAt(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func formatLabel(run domain.RunResponse) string {
	if run.Format == "" {
		return "-"
	}
	if run.Delimiter == "" {
		return run.Format
	}
	return fmt.Sprintf("%s (%q)", run.Format, run.Delimiter)
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

package reconcile

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/finledger/internal/csvimport/aggregate"
	"github.com/smallbiznis/finledger/internal/csvimport/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 1, 20, 9, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestLedgerEntryScenario(t *testing.T) {
	entry := LedgerEntryFor(&aggregate.DayBucket{
		Date:    "2024-01-15",
		Revenue: d("150.00"),
		Costs:   d("80.00"),
	}, now)

	assert.Equal(t, "150", entry.Revenue.String())
	assert.Equal(t, "80", entry.Costs.String())
	assert.Equal(t, "70", entry.Margin.String())
	assert.Equal(t, "46.7", entry.MarginPercentage.String())
}

func TestRoundCentsHalfUp(t *testing.T) {
	cases := map[string]string{
		"10.005":  "10.01",
		"10.004":  "10",
		"0.125":   "0.13",
		"2.675":   "2.68",
		"99.9949": "99.99",
	}
	for in, want := range cases {
		if got := RoundCents(d(in)).String(); got != want {
			t.Fatalf("RoundCents(%s) = %s, want %s", in, got, want)
		}
	}
}

func TestMarginPercentageZeroRevenue(t *testing.T) {
	entry := LedgerEntryFor(&aggregate.DayBucket{Date: "2024-01-15", Costs: d("12")}, now)
	assert.True(t, entry.MarginPercentage.IsZero())
	assert.Equal(t, "-12", entry.Margin.String())
}

func TestBuildChannelStatistics(t *testing.T) {
	agg := aggregate.New()
	agg.Add(domain.LineRecord{Date: "2024-01-16", Channel: "Web Shop", OrderNumber: "A1", Revenue: d("45"), Cost: d("36")})
	agg.Add(domain.LineRecord{Date: "2024-01-15", Channel: "Web Shop", OrderNumber: "A1", Revenue: d("15"), Cost: d("4")})
	agg.Add(domain.LineRecord{Date: "2024-01-15", Channel: "Web Shop", OrderNumber: "A2", Revenue: d("30"), Cost: d("20")})
	agg.Add(domain.LineRecord{Date: "2024-01-15", Channel: "amazon", Revenue: d("10"), Cost: d("0")})

	plan := Build(agg.Days(), agg.Channels(), now)

	require.Len(t, plan.Entries, 2)
	assert.Equal(t, "2024-01-15", plan.Entries[0].Date)
	assert.Equal(t, "55", plan.Entries[0].Revenue.String())

	stats := plan.ChannelStatistics
	assert.Equal(t, 2, stats.TotalChannels)
	assert.Equal(t, now, stats.LastUpdate)

	web := stats.Channels["Web Shop"]
	assert.Equal(t, "web-shop", web.Key)
	assert.Equal(t, "90", web.Revenue.String())
	assert.Equal(t, "30", web.Margin.String())
	assert.Equal(t, "0.3333", web.MarginRate.String())
	assert.Equal(t, 2, web.OrderCount)
	assert.Equal(t, "45", web.AverageOrderValue.String())
	assert.Equal(t, []string{"2024-01-15", "2024-01-16"}, web.Dates)

	amazon := stats.Channels["amazon"]
	assert.Equal(t, 0, amazon.OrderCount)
	assert.True(t, amazon.AverageOrderValue.IsZero())

	totals := plan.Totals()
	assert.Equal(t, "100", totals.Revenue.String())
	assert.Equal(t, "40", totals.Margin.String())
}

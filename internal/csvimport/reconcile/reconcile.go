package reconcile

import (
	"sort"
	"time"

	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/finledger/internal/csvimport/aggregate"
	"github.com/smallbiznis/finledger/internal/csvimport/domain"
)

var hundred = decimal.NewFromInt(100)

// Plan is the write batch for one import: one replace-on-conflict row per date
// and a whole-document replacement of the channel statistics.
type Plan struct {
	Entries           []domain.LedgerEntry
	ChannelStatistics domain.ChannelStatistics
}

// Totals sums the planned entries.
func (p Plan) Totals() domain.Totals {
	var t domain.Totals
	for _, e := range p.Entries {
		t.Revenue = t.Revenue.Add(e.Revenue)
		t.Costs = t.Costs.Add(e.Costs)
		t.Margin = t.Margin.Add(e.Margin)
		t.Discounts = t.Discounts.Add(e.Discounts)
		t.Cashback = t.Cashback.Add(e.Cashback)
	}
	return t
}

// Build rounds the buckets to cents and derives margins.
func Build(days []*aggregate.DayBucket, channels []*aggregate.ChannelBucket, now time.Time) Plan {
	entries := make([]domain.LedgerEntry, 0, len(days))
	for _, day := range days {
		entries = append(entries, LedgerEntryFor(day, now))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Date < entries[j].Date })

	return Plan{
		Entries:           entries,
		ChannelStatistics: channelStatistics(channels, now),
	}
}

func LedgerEntryFor(day *aggregate.DayBucket, now time.Time) domain.LedgerEntry {
	revenue := RoundCents(day.Revenue)
	costs := RoundCents(day.Costs)
	margin := revenue.Sub(costs)
	return domain.LedgerEntry{
		Date:             day.Date,
		Revenue:          revenue,
		Costs:            costs,
		Margin:           margin,
		MarginPercentage: MarginPercentage(margin, revenue),
		Discounts:        RoundCents(day.Discounts),
		Cashback:         RoundCents(day.Cashback),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// RoundCents rounds half-up to two decimals. Amounts are never negative here,
// where half-away-from-zero and half-up agree.
func RoundCents(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// MarginPercentage is margin / revenue × 100 to one decimal, or 0 without revenue.
func MarginPercentage(margin, revenue decimal.Decimal) decimal.Decimal {
	if revenue.IsZero() {
		return decimal.Zero
	}
	return margin.Div(revenue).Mul(hundred).Round(1)
}

type channelTotals struct {
	revenue decimal.Decimal
	costs   decimal.Decimal
	orders  map[string]struct{}
	dates   []string
}

func channelStatistics(buckets []*aggregate.ChannelBucket, now time.Time) domain.ChannelStatistics {
	byChannel := map[string]*channelTotals{}
	for _, b := range buckets {
		t, ok := byChannel[b.Key.Channel]
		if !ok {
			t = &channelTotals{orders: map[string]struct{}{}}
			byChannel[b.Key.Channel] = t
		}
		t.revenue = t.revenue.Add(b.Revenue)
		t.costs = t.costs.Add(b.Costs)
		for order := range b.OrderNumbers {
			t.orders[order] = struct{}{}
		}
		t.dates = append(t.dates, b.Key.Date)
	}

	stats := domain.ChannelStatistics{
		Channels:      make(map[string]domain.ChannelStat, len(byChannel)),
		LastUpdate:    now,
		TotalChannels: len(byChannel),
	}
	for name, t := range byChannel {
		revenue := RoundCents(t.revenue)
		costs := RoundCents(t.costs)
		margin := revenue.Sub(costs)

		marginRate := decimal.Zero
		if !revenue.IsZero() {
			marginRate = margin.Div(revenue).Round(4)
		}
		aov := decimal.Zero
		if n := len(t.orders); n > 0 {
			aov = revenue.Div(decimal.NewFromInt(int64(n))).Round(2)
		}
		sort.Strings(t.dates)

		stats.Channels[name] = domain.ChannelStat{
			Key:               slug.Make(name),
			Revenue:           revenue,
			Costs:             costs,
			Margin:            margin,
			MarginRate:        marginRate,
			OrderCount:        len(t.orders),
			AverageOrderValue: aov,
			Dates:             t.dates,
		}
	}
	return stats
}

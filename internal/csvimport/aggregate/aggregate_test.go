package aggregate

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/finledger/internal/csvimport/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(date, channel, order, revenue, cost string) domain.LineRecord {
	return domain.LineRecord{
		Date:        date,
		Channel:     channel,
		OrderNumber: order,
		Revenue:     decimal.RequireFromString(revenue),
		Cost:        decimal.RequireFromString(cost),
	}
}

func sample() []domain.LineRecord {
	return []domain.LineRecord{
		rec("2024-01-15", "web", "A1", "20.10", "10.05"),
		rec("2024-01-15", "web", "A1", "5.20", "1.10"),
		rec("2024-01-15", "shop", "B7", "30", "12.333"),
		rec("2024-01-16", "web", "A2", "0.1", "0.2"),
		rec("2024-01-16", "", "", "7", "3"),
	}
}

func snapshot(a *Aggregator) map[string]string {
	out := map[string]string{}
	for _, day := range a.Days() {
		out[day.Date] = day.Revenue.String() + "/" + day.Costs.String()
	}
	for _, ch := range a.Channels() {
		out[ch.Key.Date+"|"+ch.Key.Channel] = ch.Revenue.String() + "/" + ch.Costs.String()
	}
	return out
}

func TestAggregateIsOrderIndependent(t *testing.T) {
	records := sample()

	forward := New()
	for _, r := range records {
		forward.Add(r)
	}

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		shuffled := append([]domain.LineRecord(nil), records...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		other := New()
		for _, r := range shuffled {
			other.Add(r)
		}
		assert.Equal(t, snapshot(forward), snapshot(other))
	}
}

func TestAggregateCountsDistinctOrders(t *testing.T) {
	a := New()
	for _, r := range sample() {
		a.Add(r)
	}

	days := a.Days()
	require.Len(t, days, 2)
	assert.Len(t, days[0].OrderNumbers, 2)
	assert.Equal(t, "55.3", days[0].Revenue.String())

	channels := a.Channels()
	require.Len(t, channels, 3)
	assert.Equal(t, "shop", channels[0].Key.Channel)
	assert.Len(t, channels[1].OrderNumbers, 1)
}

func TestAggregateChannellessRecordsOnlyHitDays(t *testing.T) {
	a := New()
	a.Add(rec("2024-02-01", "", "", "10", "4"))

	assert.Len(t, a.Days(), 1)
	assert.Empty(t, a.Channels())
	assert.Empty(t, a.ChannelNames())
	assert.False(t, a.Empty())
}

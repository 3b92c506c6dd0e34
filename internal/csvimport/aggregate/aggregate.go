// Package aggregate folds line records into per-day and per-channel buckets.
// The fold is additive and keyed, so the input order never changes the result.
package aggregate

import (
	"sort"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/finledger/internal/csvimport/domain"
)

type DayBucket struct {
	Date         string
	Revenue      decimal.Decimal
	Costs        decimal.Decimal
	Discounts    decimal.Decimal
	Cashback     decimal.Decimal
	OrderNumbers map[string]struct{}
	ChannelsSeen map[string]struct{}
}

type ChannelKey struct {
	Date    string
	Channel string
}

type ChannelBucket struct {
	Key          ChannelKey
	Revenue      decimal.Decimal
	Costs        decimal.Decimal
	OrderNumbers map[string]struct{}
}

type Aggregator struct {
	days     map[string]*DayBucket
	channels map[ChannelKey]*ChannelBucket
}

func New() *Aggregator {
	return &Aggregator{
		days:     map[string]*DayBucket{},
		channels: map[ChannelKey]*ChannelBucket{},
	}
}

// Add folds one record into its day bucket and, when it names a channel, its channel bucket.
func (a *Aggregator) Add(rec domain.LineRecord) {
	day, ok := a.days[rec.Date]
	if !ok {
		day = &DayBucket{
			Date:         rec.Date,
			OrderNumbers: map[string]struct{}{},
			ChannelsSeen: map[string]struct{}{},
		}
		a.days[rec.Date] = day
	}
	day.Revenue = day.Revenue.Add(rec.Revenue)
	day.Costs = day.Costs.Add(rec.Cost)
	day.Discounts = day.Discounts.Add(rec.Discount)
	day.Cashback = day.Cashback.Add(rec.Cashback)
	if rec.OrderNumber != "" {
		day.OrderNumbers[rec.OrderNumber] = struct{}{}
	}

	if rec.Channel == "" {
		return
	}
	day.ChannelsSeen[rec.Channel] = struct{}{}

	key := ChannelKey{Date: rec.Date, Channel: rec.Channel}
	bucket, ok := a.channels[key]
	if !ok {
		bucket = &ChannelBucket{Key: key, OrderNumbers: map[string]struct{}{}}
		a.channels[key] = bucket
	}
	bucket.Revenue = bucket.Revenue.Add(rec.Revenue)
	bucket.Costs = bucket.Costs.Add(rec.Cost)
	if rec.OrderNumber != "" {
		bucket.OrderNumbers[rec.OrderNumber] = struct{}{}
	}
}

// Days returns the day buckets sorted by date.
func (a *Aggregator) Days() []*DayBucket {
	out := make([]*DayBucket, 0, len(a.days))
	for _, day := range a.days {
		out = append(out, day)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

// Channels returns the channel buckets sorted by channel, then date.
func (a *Aggregator) Channels() []*ChannelBucket {
	out := make([]*ChannelBucket, 0, len(a.channels))
	for _, bucket := range a.channels {
		out = append(out, bucket)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.Channel != out[j].Key.Channel {
			return out[i].Key.Channel < out[j].Key.Channel
		}
		return out[i].Key.Date < out[j].Key.Date
	})
	return out
}

// ChannelNames lists the distinct channels seen, sorted.
func (a *Aggregator) ChannelNames() []string {
	seen := map[string]struct{}{}
	for key := range a.channels {
		seen[key.Channel] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (a *Aggregator) Empty() bool { return len(a.days) == 0 }

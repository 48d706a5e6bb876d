package transform

import (
	"github.com/taxiflow/taxiflow/internal/model"
)

type hourBucket struct {
	distance float64
	amount   float64
	count    int64
}

// HourlyAggregator groups trips by pickup hour and computes per-hour means.
// Sums are accumulated in input order, so the result is deterministic for
// a given file.
type HourlyAggregator struct {
	buckets [24]hourBucket
	skipped int64
}

// NewHourlyAggregator creates an empty aggregator.
func NewHourlyAggregator() *HourlyAggregator {
	return &HourlyAggregator{}
}

// Add folds rec into its hour. Records that are not aggregatable are
// counted as skipped and otherwise ignored.
func (a *HourlyAggregator) Add(rec *model.TripRecord) bool {
	if !rec.Aggregatable() {
		a.skipped++
		return false
	}
	b := &a.buckets[rec.PickupHour()]
	b.distance += rec.Distance
	b.amount += rec.Amount
	b.count++
	return true
}

// Summaries returns one record per hour that has at least one trip, in
// ascending hour order.
func (a *HourlyAggregator) Summaries() []model.HourlySummary {
	out := make([]model.HourlySummary, 0, 24)
	for hour, b := range a.buckets {
		if b.count == 0 {
			continue
		}
		out = append(out, model.HourlySummary{
			PickupHour:  hour,
			AvgDistance: b.distance / float64(b.count),
			AvgAmount:   b.amount / float64(b.count),
			TotalTrips:  b.count,
		})
	}
	return out
}

// Aggregated returns the number of records folded into a bucket.
func (a *HourlyAggregator) Aggregated() int64 {
	var n int64
	for _, b := range a.buckets {
		n += b.count
	}
	return n
}

// Skipped returns the number of records left out.
func (a *HourlyAggregator) Skipped() int64 {
	return a.skipped
}

package marketdata

import (
	"sort"
	"time"

	"MarketPulse/internal/domain/models"
	"MarketPulse/internal/domain/repository"
)

// aggregateBars rolls observations into boundary-aligned OHLCV buckets.
// Buckets align to multiples of the interval from the unix epoch (UTC), so a
// 5-minute bucket always starts at a multiple-of-5 minute mark. Observations
// must be in chronological order (per-symbol rings append in arrival order).
func aggregateBars(symbol string, obs []*models.PriceObservation, iv repository.Interval) []models.HistoricalBar {
	if len(obs) == 0 {
		return nil
	}
	d := iv.Duration()

	byBucket := make(map[int64]*models.HistoricalBar)
	vwapNum := make(map[int64]float64)
	var order []int64

	for _, o := range obs {
		start := o.Timestamp.UTC().Truncate(d)
		key := start.UnixNano()
		bar, ok := byBucket[key]
		if !ok {
			bar = &models.HistoricalBar{
				Symbol: symbol,
				Start:  start,
				Open:   o.Price,
				High:   o.Price,
				Low:    o.Price,
			}
			byBucket[key] = bar
			order = append(order, key)
		}
		if o.Price > bar.High {
			bar.High = o.Price
		}
		if o.Price < bar.Low {
			bar.Low = o.Price
		}
		bar.Close = o.Price
		bar.Volume += o.Volume
		bar.Samples++
		vwapNum[key] += o.Price * o.Volume
	}

	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	out := make([]models.HistoricalBar, 0, len(order))
	for _, key := range order {
		bar := byBucket[key]
		if bar.Volume > 0 {
			bar.VWAP = vwapNum[key] / bar.Volume
		}
		out = append(out, *bar)
	}
	return out
}

// bucketStart returns the aligned bucket start for a timestamp.
func bucketStart(t time.Time, iv repository.Interval) time.Time {
	return t.UTC().Truncate(iv.Duration())
}

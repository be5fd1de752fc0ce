package condition

import "math"

// pctReturns converts a price series into period-over-period percent returns.
func pctReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] == 0 {
			continue
		}
		out = append(out, (prices[i]-prices[i-1])/prices[i-1]*100)
	}
	return out
}

// volatilityScore is the sample standard deviation of percent returns.
func volatilityScore(prices []float64) float64 {
	r := pctReturns(prices)
	if len(r) < 2 {
		return 0
	}
	var sum float64
	for _, x := range r {
		sum += x
	}
	m := sum / float64(len(r))
	var ss float64
	for _, x := range r {
		d := x - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(r)-1))
}

// trendStrength fits a least-squares line through the price window and
// normalizes the slope by price scale and sample count into [-1,1]. The
// projected change over the whole window, as a fraction of the mean price,
// is scaled so that a ~10% move across the window saturates the range.
func trendStrength(prices []float64) float64 {
	n := len(prices)
	if n < 3 {
		return 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, p := range prices {
		x := float64(i)
		sumX += x
		sumY += p
		sumXY += x * p
		sumXX += x * x
	}
	fn := float64(n)
	denom := fn*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	slope := (fn*sumXY - sumX*sumY) / denom
	meanPrice := sumY / fn
	if meanPrice == 0 {
		return 0
	}
	projected := slope * fn / meanPrice // fractional change over the window
	return clamp(projected*10, -1, 1)
}

// percentileRank returns the percentage of historical values <= v.
func percentileRank(history []float64, v float64) float64 {
	if len(history) == 0 {
		return 50
	}
	le := 0
	for _, h := range history {
		if h <= v {
			le++
		}
	}
	return float64(le) / float64(len(history)) * 100
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func minMax(xs []float64) (float64, float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	mn, mx := xs[0], xs[0]
	for _, x := range xs[1:] {
		if x < mn {
			mn = x
		}
		if x > mx {
			mx = x
		}
	}
	return mn, mx
}

func meanOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// floatRing is a bounded score history used for percentile ranking.
type floatRing struct {
	buf   []float64
	head  int
	count int
}

func newFloatRing(capacity int) *floatRing {
	return &floatRing{buf: make([]float64, capacity)}
}

func (r *floatRing) add(v float64) {
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

func (r *floatRing) values() []float64 {
	out := make([]float64, 0, r.count)
	start := (r.head - r.count + len(r.buf)) % len(r.buf)
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}

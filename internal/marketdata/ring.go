package marketdata

import "MarketPulse/internal/domain/models"

// obsRing is a fixed-capacity, append-only observation buffer. The oldest
// entry is evicted when full; snapshot returns entries oldest first.
type obsRing struct {
	buf   []*models.PriceObservation
	head  int
	count int
}

func newObsRing(capacity int) *obsRing {
	return &obsRing{buf: make([]*models.PriceObservation, capacity)}
}

func (r *obsRing) add(o *models.PriceObservation) {
	r.buf[r.head] = o
	r.head = (r.head + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

func (r *obsRing) snapshot() []*models.PriceObservation {
	out := make([]*models.PriceObservation, 0, r.count)
	start := (r.head - r.count + len(r.buf)) % len(r.buf)
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}

func (r *obsRing) len() int { return r.count }

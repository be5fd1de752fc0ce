package condition

import "MarketPulse/internal/domain/models"

// snapRing is a fixed-capacity snapshot buffer; oldest evicted when full.
type snapRing struct {
	buf   []*models.ConditionSnapshot
	head  int
	count int
}

func newSnapRing(capacity int) *snapRing {
	return &snapRing{buf: make([]*models.ConditionSnapshot, capacity)}
}

func (r *snapRing) add(s *models.ConditionSnapshot) {
	r.buf[r.head] = s
	r.head = (r.head + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

func (r *snapRing) snapshot() []*models.ConditionSnapshot {
	out := make([]*models.ConditionSnapshot, 0, r.count)
	start := (r.head - r.count + len(r.buf)) % len(r.buf)
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}

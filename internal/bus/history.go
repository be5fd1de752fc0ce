package bus

import "MarketPulse/internal/domain/models"

// historyRing is a fixed-capacity ring over published events. The oldest
// entry is evicted when full. Entries share the live *Event so that history
// reflects final states; query copies them out.
type historyRing struct {
	buf   []*models.Event
	head  int
	count int
}

func newHistoryRing(capacity int) *historyRing {
	return &historyRing{buf: make([]*models.Event, capacity)}
}

func (r *historyRing) add(e *models.Event) {
	r.buf[r.head] = e
	r.head = (r.head + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

func (r *historyRing) query(f HistoryFilter, limit int) []models.Event {
	if limit <= 0 || limit > r.count {
		limit = r.count
	}
	out := make([]models.Event, 0, limit)
	// walk newest to oldest
	for i := 1; i <= r.count && len(out) < limit; i++ {
		idx := (r.head - i + len(r.buf)) % len(r.buf)
		e := r.buf[idx]
		if e == nil {
			break
		}
		if f.Kind != "" && e.Kind != f.Kind {
			continue
		}
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		if f.Source != "" && e.Source != f.Source {
			continue
		}
		out = append(out, *e)
	}
	return out
}

package bus

import "MarketPulse/internal/domain/models"

// KindStats counts outcomes for one event kind.
type KindStats struct {
	Published int64 `json:"published"`
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
}

// Statistics is the bus counter snapshot exposed to callers.
type Statistics struct {
	Published int64 `json:"published"`
	Processed int64 `json:"processed"`
	Retried   int64 `json:"retried"`
	Failed    int64 `json:"failed"`

	ByKind        map[models.EventKind]*KindStats `json:"byKind,omitempty"`
	HandlerErrors map[string]int64                `json:"handlerErrors,omitempty"`
}

func (s *Statistics) byKind(kind models.EventKind) *KindStats {
	if s.ByKind == nil {
		s.ByKind = make(map[models.EventKind]*KindStats)
	}
	ks, ok := s.ByKind[kind]
	if !ok {
		ks = &KindStats{}
		s.ByKind[kind] = ks
	}
	return ks
}

func (s *Statistics) handlerErr(name string) {
	if s.HandlerErrors == nil {
		s.HandlerErrors = make(map[string]int64)
	}
	s.HandlerErrors[name]++
}

func (s *Statistics) clone() Statistics {
	out := Statistics{
		Published: s.Published,
		Processed: s.Processed,
		Retried:   s.Retried,
		Failed:    s.Failed,
	}
	if s.ByKind != nil {
		out.ByKind = make(map[models.EventKind]*KindStats, len(s.ByKind))
		for k, v := range s.ByKind {
			c := *v
			out.ByKind[k] = &c
		}
	}
	if s.HandlerErrors != nil {
		out.HandlerErrors = make(map[string]int64, len(s.HandlerErrors))
		for k, v := range s.HandlerErrors {
			out.HandlerErrors[k] = v
		}
	}
	return out
}

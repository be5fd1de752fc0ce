package marketdata

import (
	"fmt"
	"math"
	"sort"
	"time"

	"MarketPulse/internal/domain/models"
)

// ValidatorConfig holds the ingestion validation thresholds.
type ValidatorConfig struct {
	Staleness    time.Duration // reject ticks older than this
	MinPrice     float64
	MaxPrice     float64
	ZScoreMax    float64 // outlier ceiling in standard deviations
	MaxChangePct float64 // outlier ceiling on percent change vs last admitted
	Window       int     // rolling window of admitted prices per symbol
}

// Validator applies the ordered validation rules to raw ticks. It is
// stateless; the per-symbol rolling window and last observation are owned
// by the Processor and passed in per call.
type Validator struct {
	cfg ValidatorConfig
}

func NewValidator(cfg ValidatorConfig) *Validator {
	return &Validator{cfg: cfg}
}

// Validate classifies one raw tick. Rules run in order and the first
// decisive rule wins; non-fatal findings accumulate as issues that lower
// the confidence of an otherwise VALID outcome.
func (v *Validator) Validate(raw *models.RawTick, now time.Time, recent []float64, last *models.PriceObservation) *models.ValidationOutcome {
	// 1. Required fields.
	if raw == nil || raw.Symbol == "" {
		return &models.ValidationOutcome{
			Result:     models.ValidationMissingData,
			Quality:    models.QualityInvalid,
			Confidence: 0,
			Issues:     []string{"symbol missing"},
		}
	}
	if raw.Price <= 0 || math.IsNaN(raw.Price) || raw.Timestamp <= 0 {
		return &models.ValidationOutcome{
			Result:     models.ValidationInvalidFormat,
			Quality:    models.QualityInvalid,
			Confidence: 0,
			Issues:     []string{"price or timestamp missing"},
		}
	}

	var issues []string

	// 2. Range check degrades quality but does not reject on its own.
	if raw.Price < v.cfg.MinPrice || raw.Price > v.cfg.MaxPrice {
		issues = append(issues, fmt.Sprintf("price %.4f outside [%.2f, %.2f]",
			raw.Price, v.cfg.MinPrice, v.cfg.MaxPrice))
	}

	// 3. Staleness.
	if age := now.Sub(raw.Time()); age > v.cfg.Staleness {
		return &models.ValidationOutcome{
			Result:     models.ValidationStale,
			Quality:    models.QualityLow,
			Confidence: 0.3,
			Issues:     append(issues, fmt.Sprintf("tick is %s old", age.Truncate(time.Millisecond))),
		}
	}

	// 4. Outlier vs the rolling window of admitted prices.
	if len(recent) >= 2 {
		m := mean(recent)
		sd := sampleStddev(recent, m)
		z := 0.0
		if sd > 0 {
			z = math.Abs(raw.Price-m) / sd
		}
		changePct := 0.0
		if last != nil && last.Price > 0 {
			changePct = (raw.Price - last.Price) / last.Price * 100
		}
		if z > v.cfg.ZScoreMax || math.Abs(changePct) > v.cfg.MaxChangePct {
			corrected := median(recent)
			return &models.ValidationOutcome{
				Result:         models.ValidationOutlier,
				Quality:        models.QualityLow,
				Confidence:     0.4,
				Issues:         append(issues, fmt.Sprintf("outlier: z=%.2f change=%.2f%%", z, changePct)),
				CorrectedPrice: &corrected,
			}
		}
	}

	// 5. Duplicate of the last admitted observation.
	if last != nil && raw.Price == last.Price && raw.Time().Equal(last.Timestamp) {
		return &models.ValidationOutcome{
			Result:     models.ValidationDuplicate,
			Quality:    models.QualityMedium,
			Confidence: 0.8,
			Issues:     issues,
		}
	}

	// 6. Valid; accumulated issues lower quality and confidence.
	out := &models.ValidationOutcome{
		Result:     models.ValidationValid,
		Quality:    models.QualityHigh,
		Confidence: 1.0,
		Issues:     issues,
	}
	if len(issues) > 0 {
		out.Quality = models.QualityLow
		out.Confidence = math.Max(0.5, 1.0-0.2*float64(len(issues)))
	}
	return out
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// sampleStddev is the n-1 standard deviation.
func sampleStddev(xs []float64, m float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var ss float64
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

func median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

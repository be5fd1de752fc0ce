package marketdata

import (
	"testing"
	"time"

	"MarketPulse/internal/domain/models"
)

func testValidator() *Validator {
	return NewValidator(ValidatorConfig{
		Staleness:    5 * time.Second,
		MinPrice:     0.01,
		MaxPrice:     1000000,
		ZScoreMax:    3.0,
		MaxChangePct: 10.0,
		Window:       10,
	})
}

func tick(symbol string, price float64, at time.Time) *models.RawTick {
	return &models.RawTick{Symbol: symbol, Price: price, Volume: 100, Timestamp: at.UnixMilli()}
}

func TestValidateMissingAndMalformed(t *testing.T) {
	v := testValidator()
	now := time.Now()

	out := v.Validate(&models.RawTick{Price: 100, Timestamp: now.UnixMilli()}, now, nil, nil)
	if out.Result != models.ValidationMissingData || out.Confidence != 0 {
		t.Fatalf("missing symbol: got %s conf=%v", out.Result, out.Confidence)
	}

	out = v.Validate(&models.RawTick{Symbol: "AAPL", Price: -1, Timestamp: now.UnixMilli()}, now, nil, nil)
	if out.Result != models.ValidationInvalidFormat {
		t.Fatalf("negative price: got %s", out.Result)
	}

	out = v.Validate(&models.RawTick{Symbol: "AAPL", Price: 100}, now, nil, nil)
	if out.Result != models.ValidationInvalidFormat {
		t.Fatalf("zero timestamp: got %s", out.Result)
	}
}

func TestValidateStale(t *testing.T) {
	v := testValidator()
	now := time.Now()
	out := v.Validate(tick("AAPL", 100, now.Add(-10*time.Second)), now, nil, nil)
	if out.Result != models.ValidationStale {
		t.Fatalf("got %s, want STALE", out.Result)
	}
	if out.Confidence != 0.3 {
		t.Fatalf("stale confidence = %v, want 0.3", out.Confidence)
	}
	if out.Admissible() {
		t.Fatalf("stale tick must not be admissible")
	}
}

func TestValidateOutlierCorrectedToMedian(t *testing.T) {
	v := testValidator()
	now := time.Now()
	recent := []float64{100, 101, 102, 101, 100}
	last := &models.PriceObservation{Symbol: "AAPL", Price: 100, Timestamp: now.Add(-time.Second)}

	out := v.Validate(tick("AAPL", 150, now), now, recent, last)
	if out.Result != models.ValidationOutlier {
		t.Fatalf("got %s, want OUTLIER", out.Result)
	}
	if out.CorrectedPrice == nil || *out.CorrectedPrice != 101 {
		t.Fatalf("corrected price = %v, want median 101", out.CorrectedPrice)
	}
	if out.Confidence != 0.4 {
		t.Fatalf("outlier confidence = %v, want 0.4", out.Confidence)
	}
	if !out.Admissible() {
		t.Fatalf("outlier must be admissible with corrected price")
	}
}

func TestValidateOutlierNeedsWindow(t *testing.T) {
	v := testValidator()
	now := time.Now()
	// a single prior price is not enough to call an outlier
	out := v.Validate(tick("AAPL", 150, now), now, []float64{100}, nil)
	if out.Result != models.ValidationValid {
		t.Fatalf("got %s, want VALID with insufficient window", out.Result)
	}
}

func TestValidateDuplicate(t *testing.T) {
	v := testValidator()
	now := time.Now().Truncate(time.Millisecond)
	last := &models.PriceObservation{Symbol: "AAPL", Price: 100, Timestamp: now}

	out := v.Validate(tick("AAPL", 100, now), now, []float64{100, 100}, last)
	if out.Result != models.ValidationDuplicate {
		t.Fatalf("got %s, want DUPLICATE", out.Result)
	}
	if out.Confidence != 0.8 {
		t.Fatalf("duplicate confidence = %v, want 0.8", out.Confidence)
	}

	// same price, later timestamp is not a duplicate
	out = v.Validate(tick("AAPL", 100, now.Add(time.Second)), now.Add(time.Second), []float64{100, 100}, last)
	if out.Result != models.ValidationValid {
		t.Fatalf("got %s, want VALID for same price at new time", out.Result)
	}
}

func TestValidateRangeIssueDegradesConfidence(t *testing.T) {
	v := testValidator()
	now := time.Now()

	out := v.Validate(tick("AAPL", 2000000, now), now, nil, nil)
	if out.Result != models.ValidationValid {
		t.Fatalf("got %s, want VALID (range is not fatal)", out.Result)
	}
	if out.Quality != models.QualityLow {
		t.Fatalf("quality = %s, want LOW", out.Quality)
	}
	if out.Confidence != 0.8 {
		t.Fatalf("confidence = %v, want 0.8 (one issue)", out.Confidence)
	}
	if out.Confidence < 0.5 {
		t.Fatalf("confidence must never drop below 0.5 for admitted ticks")
	}
}

func TestValidateClean(t *testing.T) {
	v := testValidator()
	now := time.Now()
	out := v.Validate(tick("AAPL", 187.23, now), now, []float64{186.9, 187.1, 187.0}, nil)
	if out.Result != models.ValidationValid || out.Quality != models.QualityHigh || out.Confidence != 1.0 {
		t.Fatalf("clean tick: got %s/%s/%v", out.Result, out.Quality, out.Confidence)
	}
	if len(out.Issues) != 0 {
		t.Fatalf("clean tick has issues: %v", out.Issues)
	}
}

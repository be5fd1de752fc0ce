package models

import "time"

// RawTick is the inbound tick shape as delivered by a feed. Only Price and
// Timestamp are mandatory; everything else is best-effort from the source.
type RawTick struct {
	Symbol        string  `json:"symbol"`
	Price         float64 `json:"price"`
	Bid           float64 `json:"bid,omitempty"`
	Ask           float64 `json:"ask,omitempty"`
	Volume        float64 `json:"volume,omitempty"`
	Timestamp     int64   `json:"timestamp"` // unix milliseconds
	Change        float64 `json:"change,omitempty"`
	ChangePercent float64 `json:"changePercent,omitempty"`
	High          float64 `json:"high,omitempty"`
	Low           float64 `json:"low,omitempty"`
	Open          float64 `json:"open,omitempty"`
	Source        string  `json:"source,omitempty"`
}

// Time returns the tick timestamp as time.Time. Sources disagree on
// seconds vs milliseconds; anything above 1e11 is treated as ms.
func (t *RawTick) Time() time.Time {
	ts := t.Timestamp
	if ts > 1e11 {
		return time.UnixMilli(ts)
	}
	return time.Unix(ts, 0)
}

// PriceObservation is a validated tick admitted to history. Never mutated
// after creation. When an outlier was corrected, Corrected is set and
// RawPrice holds the observed (pre-correction) price.
type PriceObservation struct {
	Symbol        string    `json:"symbol"`
	Price         float64   `json:"price"`
	Bid           float64   `json:"bid"`
	Ask           float64   `json:"ask"`
	Volume        float64   `json:"volume"`
	Timestamp     time.Time `json:"timestamp"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"changePercent"`
	SessionHigh   float64   `json:"sessionHigh"`
	SessionLow    float64   `json:"sessionLow"`
	SessionOpen   float64   `json:"sessionOpen"`
	Corrected     bool      `json:"corrected,omitempty"`
	RawPrice      float64   `json:"rawPrice,omitempty"`
	Source        string    `json:"source,omitempty"`
}

// ValidationResult classifies the outcome of validating a raw tick.
type ValidationResult string

const (
	ValidationValid         ValidationResult = "VALID"
	ValidationStale         ValidationResult = "STALE"
	ValidationOutlier       ValidationResult = "OUTLIER"
	ValidationDuplicate     ValidationResult = "DUPLICATE"
	ValidationInvalidFormat ValidationResult = "INVALID_FORMAT"
	ValidationMissingData   ValidationResult = "MISSING_DATA"
)

// DataQuality grades an admitted or rejected tick.
type DataQuality string

const (
	QualityHigh    DataQuality = "HIGH"
	QualityMedium  DataQuality = "MEDIUM"
	QualityLow     DataQuality = "LOW"
	QualityInvalid DataQuality = "INVALID"
)

// ValidationOutcome is the full result of validating one raw tick.
type ValidationOutcome struct {
	Result         ValidationResult `json:"result"`
	Quality        DataQuality      `json:"quality"`
	Confidence     float64          `json:"confidence"` // [0,1]
	Issues         []string         `json:"issues,omitempty"`
	CorrectedPrice *float64         `json:"correctedPrice,omitempty"`
}

// Admissible reports whether the tick may create a new observation.
// OUTLIER is admissible (with the corrected price); the rest of the
// non-VALID results are not.
func (o *ValidationOutcome) Admissible() bool {
	return o.Result == ValidationValid || o.Result == ValidationOutlier
}

// HistoricalBar is aggregated OHLCV for one aligned time bucket.
// Invariant: High >= max(Open, Close) and Low <= min(Open, Close).
type HistoricalBar struct {
	Symbol  string    `json:"symbol"`
	Start   time.Time `json:"start"`
	Open    float64   `json:"open"`
	High    float64   `json:"high"`
	Low     float64   `json:"low"`
	Close   float64   `json:"close"`
	Volume  float64   `json:"volume"`
	VWAP    float64   `json:"vwap,omitempty"`
	Samples int       `json:"samples"`
}

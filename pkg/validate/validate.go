// Package validate pkg/validate/validate.go
//
// Strict validation of untrusted sensor payloads with a best-effort
// sanitize fallback. Every domain attempts strict field validation
// first; on failure the payload is coerced, clamped and defaulted into
// a candidate record which is re-validated before being accepted.
package validate

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/partyhouse/telemetry/pkg/models"
)

// Quality classifies how a payload got through validation.
type Quality string

const (
	QualityStrict    Quality = "strict"
	QualitySanitized Quality = "sanitized"
	QualityInvalid   Quality = "invalid"
)

// freshnessWindowMs bounds how far a ts_ms may deviate from the current
// time before strict validation rejects it. A parseable but stale
// timestamp is deliberately kept by the sanitizer, so staleness is
// never rescued.
const freshnessWindowMs = 600_000

var buttonEvents = map[string]bool{
	"press":   true,
	"release": true,
	"hold":    true,
	"double":  true,
	"long":    true,
}

// Outcome is the transient result of processing one payload.
// Record is non-nil iff Accepted, and always passes strict validation.
type Outcome struct {
	Accepted bool
	Quality  Quality
	Record   any
	Warnings []string
	Errors   []string
}

// Stats counts processing results since the last reset.
type Stats struct {
	TotalProcessed int64 `json:"total_processed"`
	StrictValid    int64 `json:"strict_valid"`
	Sanitized      int64 `json:"sanitized"`
	Invalid        int64 `json:"invalid"`
}

// Processor validates and sanitizes sensor payloads for all domains.
// Safe for concurrent use.
type Processor struct {
	mu      sync.Mutex
	stats   Stats
	nowFunc func() time.Time
}

func NewProcessor() *Processor {
	return &Processor{
		nowFunc: time.Now,
	}
}

func (p *Processor) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.stats
}

func (p *Processor) ResetStats() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats = Stats{}
}

func (p *Processor) nowMs() int64 {
	return p.nowFunc().UnixMilli()
}

// record updates the counters for one completed outcome.
func (p *Processor) record(out Outcome) Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.TotalProcessed++

	switch out.Quality {
	case QualityStrict:
		p.stats.StrictValid++
	case QualitySanitized:
		p.stats.Sanitized++
	case QualityInvalid:
		p.stats.Invalid++
	}

	return out
}

// ProcessAudio validates an audio feature payload.
func (p *Processor) ProcessAudio(payload map[string]any) Outcome {
	rec, errs := p.strictAudio(payload)
	if len(errs) == 0 {
		return p.record(Outcome{Accepted: true, Quality: QualityStrict, Record: rec})
	}

	sanitized := p.sanitizeAudio(payload)
	if rec, reErrs := p.strictAudio(sanitized); len(reErrs) == 0 {
		return p.record(Outcome{Accepted: true, Quality: QualitySanitized, Record: rec, Warnings: errs})
	}

	return p.record(Outcome{Quality: QualityInvalid, Errors: errs})
}

// ProcessOccupancy validates an occupancy payload.
func (p *Processor) ProcessOccupancy(payload map[string]any) Outcome {
	rec, errs := p.strictOccupancy(payload)
	if len(errs) == 0 {
		return p.record(Outcome{Accepted: true, Quality: QualityStrict, Record: rec})
	}

	sanitized := p.sanitizeOccupancy(payload)
	if rec, reErrs := p.strictOccupancy(sanitized); len(reErrs) == 0 {
		return p.record(Outcome{Accepted: true, Quality: QualitySanitized, Record: rec, Warnings: errs})
	}

	return p.record(Outcome{Quality: QualityInvalid, Errors: errs})
}

// ProcessEncoder validates an encoder payload.
func (p *Processor) ProcessEncoder(payload map[string]any) Outcome {
	rec, errs := p.strictEncoder(payload)
	if len(errs) == 0 {
		return p.record(Outcome{Accepted: true, Quality: QualityStrict, Record: rec})
	}

	sanitized := p.sanitizeEncoder(payload)
	if rec, reErrs := p.strictEncoder(sanitized); len(reErrs) == 0 {
		return p.record(Outcome{Accepted: true, Quality: QualitySanitized, Record: rec, Warnings: errs})
	}

	return p.record(Outcome{Quality: QualityInvalid, Errors: errs})
}

// ProcessButton validates a button payload.
func (p *Processor) ProcessButton(payload map[string]any) Outcome {
	rec, errs := p.strictButton(payload)
	if len(errs) == 0 {
		return p.record(Outcome{Accepted: true, Quality: QualityStrict, Record: rec})
	}

	sanitized := p.sanitizeButton(payload)
	if rec, reErrs := p.strictButton(sanitized); len(reErrs) == 0 {
		return p.record(Outcome{Accepted: true, Quality: QualitySanitized, Record: rec, Warnings: errs})
	}

	return p.record(Outcome{Quality: QualityInvalid, Errors: errs})
}

// strictTs validates a ts_ms field against the freshness window.
func (p *Processor) strictTs(payload map[string]any, errs *[]string) int64 {
	v, present := payload["ts_ms"]
	if !present {
		*errs = append(*errs, "ts_ms: required")
		return 0
	}

	ts, ok := toInt(v)
	if !ok {
		*errs = append(*errs, "ts_ms: must be numeric")
		return 0
	}

	if delta := p.nowMs() - ts; delta > freshnessWindowMs || delta < -freshnessWindowMs {
		*errs = append(*errs, fmt.Sprintf("ts_ms: too old or in the future (%d)", ts))
		return 0
	}

	return ts
}

// sanitizeTs keeps a parseable ts_ms as-is and defaults it to the
// current time only when missing or non-numeric.
func (p *Processor) sanitizeTs(payload map[string]any) int64 {
	if v, present := payload["ts_ms"]; present {
		if ts, ok := toInt(v); ok {
			return ts
		}
	}

	return p.nowMs()
}

func (p *Processor) strictAudio(payload map[string]any) (*models.AudioFeatures, []string) {
	var errs []string

	rec := &models.AudioFeatures{}

	for _, f := range []struct {
		name string
		dst  *float64
	}{
		{"rms", &rec.RMS},
		{"zcr", &rec.ZCR},
		{"low", &rec.Low},
		{"mid", &rec.Mid},
		{"high", &rec.High},
	} {
		v, present := payload[f.name]
		if !present {
			errs = append(errs, f.name+": required")
			continue
		}

		val, ok := toFloat(v)
		if !ok {
			errs = append(errs, f.name+": must be numeric")
			continue
		}

		// NaN/Inf map to zero and out-of-range values clamp; neither
		// fails strict validation.
		*f.dst = clamp01(val)
	}

	rec.TsMs = p.strictTs(payload, &errs)

	return rec, errs
}

func (p *Processor) sanitizeAudio(payload map[string]any) map[string]any {
	out := map[string]any{"ts_ms": p.sanitizeTs(payload)}

	for _, name := range []string{"rms", "zcr", "low", "mid", "high"} {
		val := 0.0
		if v, present := payload[name]; present {
			if f, ok := toFloat(v); ok {
				val = clamp01(f)
			}
		}

		out[name] = val
	}

	return out
}

func (p *Processor) strictOccupancy(payload map[string]any) (*models.Occupancy, []string) {
	var errs []string

	rec := &models.Occupancy{}

	if v, present := payload["occupied"]; !present {
		errs = append(errs, "occupied: required")
	} else if b, ok := v.(bool); ok {
		rec.Occupied = b
	} else {
		errs = append(errs, "occupied: must be a bool")
	}

	// Out-of-range values clamp without failing strict validation, but
	// absent fields fail it so missing-field payloads surface as
	// Sanitized with warnings.
	if v, present := payload["transitions"]; !present {
		errs = append(errs, "transitions: required")
	} else if n, ok := toInt(v); ok {
		rec.Transitions = clampInt(n, 0, 1000)
	} else {
		errs = append(errs, "transitions: must be numeric")
	}

	if v, present := payload["activity"]; !present {
		errs = append(errs, "activity: required")
	} else if f, ok := toFloat(v); ok {
		rec.Activity = clamp01(f)
	} else {
		errs = append(errs, "activity: must be numeric")
	}

	rec.TsMs = p.strictTs(payload, &errs)

	return rec, errs
}

func (p *Processor) sanitizeOccupancy(payload map[string]any) map[string]any {
	out := map[string]any{"ts_ms": p.sanitizeTs(payload)}

	occupied := false
	if v, present := payload["occupied"]; present {
		occupied = truthy(v)
	}

	out["occupied"] = occupied

	transitions := int64(0)
	if v, present := payload["transitions"]; present {
		if n, ok := toInt(v); ok {
			transitions = clampInt(n, 0, 1000)
		}
	}

	out["transitions"] = transitions

	activity := 0.0
	if v, present := payload["activity"]; present {
		if f, ok := toFloat(v); ok {
			activity = clamp01(f)
		}
	}

	out["activity"] = activity

	return out
}

func (p *Processor) strictEncoder(payload map[string]any) (*models.Encoder, []string) {
	var errs []string

	rec := &models.Encoder{}

	for _, f := range []struct {
		name string
		dst  *int64
	}{
		{"pos", &rec.Pos},
		{"delta", &rec.Delta},
	} {
		v, present := payload[f.name]
		if !present {
			errs = append(errs, f.name+": required")
			continue
		}

		n, ok := toInt(v)
		if !ok {
			errs = append(errs, f.name+": must be numeric")
			continue
		}

		*f.dst = clampInt(n, -10_000, 10_000)
	}

	rec.TsMs = p.strictTs(payload, &errs)

	return rec, errs
}

func (p *Processor) sanitizeEncoder(payload map[string]any) map[string]any {
	out := map[string]any{"ts_ms": p.sanitizeTs(payload)}

	for _, name := range []string{"pos", "delta"} {
		val := int64(0)
		if v, present := payload[name]; present {
			if n, ok := toInt(v); ok {
				val = clampInt(n, -10_000, 10_000)
			}
		}

		out[name] = val
	}

	return out
}

func (p *Processor) strictButton(payload map[string]any) (*models.Button, []string) {
	var errs []string

	rec := &models.Button{}

	if v, present := payload["pressed"]; !present {
		errs = append(errs, "pressed: required")
	} else if b, ok := v.(bool); ok {
		rec.Pressed = b
	} else {
		errs = append(errs, "pressed: must be a bool")
	}

	// event is optional; unrecognized names degrade to "unknown".
	if v, present := payload["event"]; present && v != nil {
		s, ok := v.(string)
		if !ok {
			errs = append(errs, "event: must be a string")
		} else if buttonEvents[s] {
			rec.Event = &s
		} else {
			unknown := "unknown"
			rec.Event = &unknown
		}
	}

	rec.TsMs = p.strictTs(payload, &errs)

	return rec, errs
}

func (p *Processor) sanitizeButton(payload map[string]any) map[string]any {
	out := map[string]any{"ts_ms": p.sanitizeTs(payload)}

	pressed := false
	if v, present := payload["pressed"]; present {
		pressed = truthy(v)
	}

	out["pressed"] = pressed

	if v, present := payload["event"]; present && v != nil {
		s := strings.ToLower(fmt.Sprintf("%v", v))
		if !buttonEvents[s] {
			s = "unknown"
		}

		out["event"] = s
	}

	return out
}

// Package models pkg/models/telemetry.go
package models

// AudioFeatures is the per-node audio feature frame published on
// <base>/<node>/audio/features. All energies are normalized to [0,1].
type AudioFeatures struct {
	RMS  float64 `json:"rms"`
	ZCR  float64 `json:"zcr"`
	Low  float64 `json:"low"`
	Mid  float64 `json:"mid"`
	High float64 `json:"high"`
	TsMs int64   `json:"ts_ms"`
}

// Occupancy is the per-node PIR occupancy frame published on
// <base>/<node>/occupancy/state.
type Occupancy struct {
	Occupied    bool    `json:"occupied"`
	Transitions int64   `json:"transitions"`
	Activity    float64 `json:"activity"`
	TsMs        int64   `json:"ts_ms"`
}

// Encoder is the rotary encoder frame published on <base>/<node>/input/encoder.
type Encoder struct {
	Pos   int64 `json:"pos"`
	Delta int64 `json:"delta"`
	TsMs  int64 `json:"ts_ms"`
}

// Button is the button frame published on <base>/<node>/input/button.
// Event is nil when the producer did not report one.
type Button struct {
	Pressed bool    `json:"pressed"`
	Event   *string `json:"event"`
	TsMs    int64   `json:"ts_ms"`
}

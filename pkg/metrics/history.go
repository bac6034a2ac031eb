// Package metrics pkg/metrics/history.go
package metrics

import (
	"sync/atomic"
	"time"
)

// NoiseSample is one recorded noise reading, ready for the HTTP API.
type NoiseSample struct {
	Timestamp time.Time `json:"timestamp"`
	NodeID    string    `json:"node_id"`
	RMS       float64   `json:"rms"`
}

// noiseSample is the compact in-ring representation.
type noiseSample struct {
	timestamp int64
	rms       float64
	nodeID    string
}

// NoiseHistory is a fixed-size ring of recent noise readings. Only the
// position counter is synchronized; slot contents are written bare, so
// a reader racing the writer can see a torn sample (nodeID string
// header included) in the one slot being overwritten. Samples are
// display-only; callers must not treat a point as exact.
type NoiseHistory struct {
	samples []noiseSample
	pos     int64
	size    int64
}

// NewNoiseHistory creates a ring holding the last size readings.
func NewNoiseHistory(size int) *NoiseHistory {
	if size <= 0 {
		size = 1
	}

	return &NoiseHistory{
		samples: make([]noiseSample, size),
		size:    int64(size),
	}
}

// Add records one reading, overwriting the oldest slot when full.
func (h *NoiseHistory) Add(timestamp time.Time, nodeID string, rms float64) {
	pos := atomic.AddInt64(&h.pos, 1) - 1
	idx := pos % h.size

	h.samples[idx] = noiseSample{
		timestamp: timestamp.UnixNano(),
		rms:       rms,
		nodeID:    nodeID,
	}
}

// Points returns the recorded readings, newest first.
func (h *NoiseHistory) Points() []NoiseSample {
	pos := atomic.LoadInt64(&h.pos)

	points := make([]NoiseSample, 0, h.size)

	for i := int64(0); i < h.size; i++ {
		idx := (pos - i - 1 + h.size*2) % h.size
		s := h.samples[idx]

		if s.timestamp == 0 {
			continue
		}

		points = append(points, NoiseSample{
			Timestamp: time.Unix(0, s.timestamp),
			NodeID:    s.nodeID,
			RMS:       s.rms,
		})
	}

	return points
}

// Last returns the most recent reading, or nil when empty.
func (h *NoiseHistory) Last() *NoiseSample {
	points := h.Points()
	if len(points) == 0 {
		return nil
	}

	return &points[0]
}

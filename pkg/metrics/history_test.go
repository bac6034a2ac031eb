package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoiseHistory(t *testing.T) {
	t.Run("empty ring", func(t *testing.T) {
		h := NewNoiseHistory(8)

		assert.Empty(t, h.Points())
		assert.Nil(t, h.Last())
	})

	t.Run("newest first", func(t *testing.T) {
		h := NewNoiseHistory(8)
		now := time.Now()

		h.Add(now, "wm-node-1", 0.1)
		h.Add(now.Add(time.Second), "wm-node-2", 0.2)
		h.Add(now.Add(2*time.Second), "wm-node-1", 0.3)

		points := h.Points()
		require.Len(t, points, 3)
		assert.InDelta(t, 0.3, points[0].RMS, 1e-9)
		assert.InDelta(t, 0.1, points[2].RMS, 1e-9)

		last := h.Last()
		require.NotNil(t, last)
		assert.Equal(t, "wm-node-1", last.NodeID)
		assert.InDelta(t, 0.3, last.RMS, 1e-9)
	})

	t.Run("overwrites oldest when full", func(t *testing.T) {
		h := NewNoiseHistory(4)
		now := time.Now()

		for i := 0; i < 10; i++ {
			h.Add(now.Add(time.Duration(i)*time.Second), "wm-node-1", float64(i))
		}

		points := h.Points()
		require.Len(t, points, 4)
		assert.InDelta(t, 9, points[0].RMS, 1e-9)
		assert.InDelta(t, 6, points[3].RMS, 1e-9)
	})

}

func BenchmarkNoiseHistory(b *testing.B) {
	h := NewNoiseHistory(1000)
	now := time.Now()

	b.Run("Add", func(b *testing.B) {
		b.ResetTimer()

		for i := 0; i < b.N; i++ {
			h.Add(now, "wm-node-1", float64(i))
		}
	})

	b.Run("Points", func(b *testing.B) {
		for i := 0; i < 1000; i++ {
			h.Add(now, "wm-node-1", float64(i))
		}

		b.ResetTimer()

		for i := 0; i < b.N; i++ {
			_ = h.Points()
		}
	})
}

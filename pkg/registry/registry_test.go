package registry

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partyhouse/telemetry/pkg/models"
)

func newTestRegistry(cfg Config) (*Registry, *time.Time) {
	r := New(cfg)
	now := time.Date(2026, 8, 1, 22, 0, 0, 0, time.UTC)
	r.nowFunc = func() time.Time { return now }

	return r, &now
}

func freshPayload(now time.Time) map[string]any {
	return map[string]any{"ts_ms": float64(now.UnixMilli())}
}

func TestRegister_Cap(t *testing.T) {
	r, _ := newTestRegistry(Config{})

	// Default cap is 3; the 4th distinct id must fail.
	for i := 1; i <= 3; i++ {
		assert.True(t, r.Register(fmt.Sprintf("wm-node-%d", i)))
	}

	assert.False(t, r.Register("wm-node-4"))
	assert.Equal(t, 3, r.Count())

	// Re-registration of a known id also fails.
	assert.False(t, r.Register("wm-node-1"))
}

func TestRecordData_StructuralGate(t *testing.T) {
	r, now := newTestRegistry(Config{})
	require.True(t, r.Register("wm-node-1"))

	tests := []struct {
		name    string
		payload map[string]any
		want    bool
	}{
		{"fresh_ts", freshPayload(*now), true},
		{"numeric_string_ts", map[string]any{"ts_ms": fmt.Sprintf("%d", now.UnixMilli())}, true},
		{"missing_ts", map[string]any{"rms": 0.5}, false},
		{"non_numeric_ts", map[string]any{"ts_ms": "soon"}, false},
		{"stale_ts", map[string]any{"ts_ms": float64(now.Add(-10 * time.Minute).UnixMilli())}, false},
		{"future_ts", map[string]any{"ts_ms": float64(now.Add(10 * time.Minute).UnixMilli())}, false},
		{"nil_payload", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.RecordData("wm-node-1", "audio", "features", tt.payload))
		})
	}

	// Unknown node always fails, without touching counters.
	assert.False(t, r.RecordData("ghost", "audio", "features", freshPayload(*now)))
}

func TestRecordData_Counters(t *testing.T) {
	r, now := newTestRegistry(Config{})
	require.True(t, r.Register("wm-node-1"))

	require.True(t, r.RecordData("wm-node-1", "audio", "features", freshPayload(*now)))
	require.False(t, r.RecordData("wm-node-1", "audio", "features", map[string]any{}))

	snap, ok := r.Snapshot("wm-node-1")
	require.True(t, ok)
	assert.Equal(t, int64(1), snap.DataCount)
	assert.Equal(t, int64(1), snap.ErrorCount)
	assert.Equal(t, []string{"audio"}, snap.Domains)
	assert.Equal(t, now.UnixMilli(), snap.LastDataMs)
	assert.Zero(t, snap.LastHeartbeatMs)
}

func TestStatusOf_Precedence(t *testing.T) {
	cfg := Config{HeartbeatTimeout: 60 * time.Second, DataTimeout: 30 * time.Second}

	tests := []struct {
		name  string
		setup func(r *Registry, now *time.Time)
		want  models.NodeStatus
	}{
		{
			name:  "never_seen_is_unknown",
			setup: func(*Registry, *time.Time) {},
			want:  models.NodeUnknown,
		},
		{
			name: "recent_data_is_active",
			setup: func(r *Registry, now *time.Time) {
				r.RecordData("wm-node-1", "audio", "features", freshPayload(*now))
				*now = now.Add(10 * time.Second)
			},
			want: models.NodeActive,
		},
		{
			name: "recent_data_wins_over_stale_heartbeat",
			setup: func(r *Registry, now *time.Time) {
				r.RecordHeartbeat("wm-node-1")
				*now = now.Add(90 * time.Second)
				r.RecordData("wm-node-1", "audio", "features", freshPayload(*now))
				*now = now.Add(5 * time.Second)
			},
			want: models.NodeActive,
		},
		{
			name: "recent_heartbeat_is_active",
			setup: func(r *Registry, now *time.Time) {
				r.RecordHeartbeat("wm-node-1")
				*now = now.Add(45 * time.Second)
			},
			want: models.NodeActive,
		},
		{
			name: "stale_heartbeat_is_offline",
			setup: func(r *Registry, now *time.Time) {
				r.RecordHeartbeat("wm-node-1")
				*now = now.Add(2 * time.Minute)
			},
			want: models.NodeOffline,
		},
		{
			name: "stale_data_without_heartbeat_is_offline",
			setup: func(r *Registry, now *time.Time) {
				// Heartbeat never observed: heartbeat age exceeds its
				// timeout before the data-stale rule is reached.
				r.RecordData("wm-node-1", "audio", "features", freshPayload(*now))
				*now = now.Add(45 * time.Second)
			},
			want: models.NodeOffline,
		},
		{
			name: "stale_data_rescued_by_recent_heartbeat",
			setup: func(r *Registry, now *time.Time) {
				r.RecordData("wm-node-1", "audio", "features", freshPayload(*now))
				*now = now.Add(31 * time.Second)
				r.RecordHeartbeat("wm-node-1")
				*now = now.Add(30 * time.Second)
			},
			want: models.NodeActive,
		},
		{
			name: "error_budget_trumps_everything",
			setup: func(r *Registry, now *time.Time) {
				r.RecordData("wm-node-1", "audio", "features", freshPayload(*now))
				for i := 0; i < 11; i++ {
					r.RecordData("wm-node-1", "audio", "features", map[string]any{})
				}
			},
			want: models.NodeError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, now := newTestRegistry(cfg)
			require.True(t, r.Register("wm-node-1"))

			tt.setup(r, now)
			assert.Equal(t, tt.want, r.StatusOf("wm-node-1"))
		})
	}
}

func TestActiveNodes(t *testing.T) {
	r, now := newTestRegistry(Config{})

	require.True(t, r.Register("wm-node-1"))
	require.True(t, r.Register("wm-node-2"))
	require.True(t, r.Register("wm-node-3"))

	r.RecordData("wm-node-1", "audio", "features", freshPayload(*now))
	r.RecordHeartbeat("wm-node-2")

	assert.Equal(t, []string{"wm-node-1", "wm-node-2"}, r.ActiveNodes())

	// Error-count demotion removes a node from the active set.
	for i := 0; i < 12; i++ {
		r.RecordData("wm-node-1", "audio", "features", map[string]any{})
	}

	assert.Equal(t, []string{"wm-node-2"}, r.ActiveNodes())
}

func TestEvictStale(t *testing.T) {
	r, now := newTestRegistry(Config{HeartbeatTimeout: 60 * time.Second})

	require.True(t, r.Register("wm-node-1"))
	require.True(t, r.Register("wm-node-2"))

	r.RecordHeartbeat("wm-node-1")
	r.RecordHeartbeat("wm-node-2")

	// wm-node-1 goes quiet; wm-node-2 keeps beating.
	*now = now.Add(150 * time.Second)
	r.RecordHeartbeat("wm-node-2")

	evicted := r.EvictStale()
	assert.Equal(t, []string{"wm-node-1"}, evicted)
	assert.False(t, r.Has("wm-node-1"))
	assert.True(t, r.Has("wm-node-2"))
}

func TestEvictStale_NeverHeartbeated(t *testing.T) {
	r, now := newTestRegistry(Config{HeartbeatTimeout: 60 * time.Second})

	require.True(t, r.Register("wm-node-1"))

	// Below the threshold measured from registration: kept.
	*now = now.Add(100 * time.Second)
	assert.Empty(t, r.EvictStale())

	// Past 2x the heartbeat timeout since registration: evicted even
	// though it never sent a heartbeat.
	*now = now.Add(30 * time.Second)
	assert.Equal(t, []string{"wm-node-1"}, r.EvictStale())
	assert.Zero(t, r.Count())
}

func TestSnapshotAll(t *testing.T) {
	r, now := newTestRegistry(Config{})

	require.True(t, r.Register("wm-node-1"))
	r.RecordData("wm-node-1", "audio", "features", freshPayload(*now))
	r.RecordData("wm-node-1", "occupancy", "state", freshPayload(*now))

	*now = now.Add(5 * time.Second)

	snaps := r.SnapshotAll()
	require.Len(t, snaps, 1)

	snap := snaps["wm-node-1"]
	assert.Equal(t, models.NodeActive, snap.Status)
	assert.Equal(t, []string{"audio", "occupancy"}, snap.Domains)
	assert.InDelta(t, 5.0, snap.UptimeSeconds, 0.001)
}

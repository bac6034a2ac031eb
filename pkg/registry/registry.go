// Package registry pkg/registry/registry.go
//
// Bounded collection of known telemetry nodes. Liveness is derived on
// read from activity timestamps and error counters; nothing stores a
// status. The registry is owned by the aggregation core, which
// serializes all mutation.
package registry

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/partyhouse/telemetry/pkg/models"
)

const (
	// errorThreshold is the per-node error count past which the node is
	// classified Error regardless of timestamps.
	errorThreshold = 10

	// dataFreshnessMs bounds the ts_ms structural gate on inbound
	// payloads. Distinct from the validator's per-domain window.
	dataFreshnessMs = 300_000

	// evictionMultiplier scales the heartbeat timeout into the eviction
	// threshold.
	evictionMultiplier = 2
)

// Config holds registry tuning. Zero values fall back to the reference
// behavior: 3 nodes, 60s heartbeat timeout, 30s data timeout.
type Config struct {
	MaxNodes         int           `json:"max_nodes"`
	HeartbeatTimeout time.Duration `json:"heartbeat_timeout"`
	DataTimeout      time.Duration `json:"data_timeout"`
}

func (c *Config) UnmarshalJSON(data []byte) error {
	type Alias Config

	aux := &struct {
		HeartbeatTimeout string `json:"heartbeat_timeout"`
		DataTimeout      string `json:"data_timeout"`
		*Alias
	}{
		Alias: (*Alias)(c),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.HeartbeatTimeout != "" {
		d, err := time.ParseDuration(aux.HeartbeatTimeout)
		if err != nil {
			return fmt.Errorf("invalid heartbeat_timeout format: %w", err)
		}

		c.HeartbeatTimeout = d
	}

	if aux.DataTimeout != "" {
		d, err := time.ParseDuration(aux.DataTimeout)
		if err != nil {
			return fmt.Errorf("invalid data_timeout format: %w", err)
		}

		c.DataTimeout = d
	}

	return nil
}

func (c *Config) withDefaults() Config {
	out := *c

	if out.MaxNodes <= 0 {
		out.MaxNodes = 3
	}

	if out.HeartbeatTimeout <= 0 {
		out.HeartbeatTimeout = 60 * time.Second
	}

	if out.DataTimeout <= 0 {
		out.DataTimeout = 30 * time.Second
	}

	return out
}

// node is the registry's internal record for one producer.
type node struct {
	registeredAt  time.Time
	lastHeartbeat time.Time // zero means never observed
	lastData      time.Time // zero means never observed
	dataCount     int64
	errorCount    int64
	domains       map[string]map[string]map[string]any // domain -> signal -> latest raw payload
}

// Registry tracks nodes up to a fixed cap.
type Registry struct {
	mu      sync.RWMutex
	cfg     Config
	nodes   map[string]*node
	nowFunc func() time.Time
}

func New(cfg Config) *Registry {
	return &Registry{
		cfg:     cfg.withDefaults(),
		nodes:   make(map[string]*node),
		nowFunc: time.Now,
	}
}

// Register adds a node. It fails when the cap is reached or the id is
// already present; callers are not told which.
func (r *Registry) Register(nodeID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.nodes[nodeID]; exists {
		return false
	}

	if len(r.nodes) >= r.cfg.MaxNodes {
		return false
	}

	r.nodes[nodeID] = &node{
		registeredAt: r.nowFunc(),
		domains:      make(map[string]map[string]map[string]any),
	}

	return true
}

// Has reports whether the node id is registered.
func (r *Registry) Has(nodeID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.nodes[nodeID]

	return exists
}

// Count returns the number of registered nodes.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.nodes)
}

// RecordData stores the latest raw payload for (domain, signal) after a
// structural gate: the payload must carry a numeric ts_ms within the
// data freshness window. Gate failures count against the node.
func (r *Registry) RecordData(nodeID, domain, signal string, payload map[string]any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, exists := r.nodes[nodeID]
	if !exists {
		return false
	}

	if !r.structurallyValid(payload) {
		n.errorCount++
		return false
	}

	signals, ok := n.domains[domain]
	if !ok {
		signals = make(map[string]map[string]any)
		n.domains[domain] = signals
	}

	signals[signal] = payload
	n.lastData = r.nowFunc()
	n.dataCount++

	return true
}

// RecordHeartbeat refreshes the node's heartbeat timestamp.
func (r *Registry) RecordHeartbeat(nodeID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, exists := r.nodes[nodeID]
	if !exists {
		return false
	}

	n.lastHeartbeat = r.nowFunc()

	return true
}

// StatusOf derives the node's liveness. Precedence, first match wins:
// error budget, never-seen, data recency, heartbeat recency, heartbeat
// staleness, data staleness.
func (r *Registry) StatusOf(nodeID string) models.NodeStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, exists := r.nodes[nodeID]
	if !exists {
		return models.NodeUnknown
	}

	return r.statusLocked(n)
}

func (r *Registry) statusLocked(n *node) models.NodeStatus {
	now := r.nowFunc()

	switch {
	case n.errorCount > errorThreshold:
		return models.NodeError
	case n.lastData.IsZero() && n.lastHeartbeat.IsZero():
		return models.NodeUnknown
	case !n.lastData.IsZero() && now.Sub(n.lastData) <= r.cfg.DataTimeout:
		return models.NodeActive
	case !n.lastHeartbeat.IsZero() && now.Sub(n.lastHeartbeat) <= r.cfg.HeartbeatTimeout:
		return models.NodeActive
	case now.Sub(n.lastHeartbeat) > r.cfg.HeartbeatTimeout:
		return models.NodeOffline
	case now.Sub(n.lastData) > r.cfg.DataTimeout:
		return models.NodeStale
	default:
		return models.NodeUnknown
	}
}

// ActiveNodes returns the ids currently classified Active, sorted.
func (r *Registry) ActiveNodes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var active []string

	for id, n := range r.nodes {
		if r.statusLocked(n) == models.NodeActive {
			active = append(active, id)
		}
	}

	sort.Strings(active)

	return active
}

// EvictStale removes every node whose heartbeat age exceeds the
// eviction threshold. A node that never sent a heartbeat is measured
// from its registration time. Returns the evicted ids.
func (r *Registry) EvictStale() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.nowFunc()
	threshold := time.Duration(evictionMultiplier) * r.cfg.HeartbeatTimeout

	var evicted []string

	for id, n := range r.nodes {
		ref := n.lastHeartbeat
		if ref.IsZero() {
			ref = n.registeredAt
		}

		if now.Sub(ref) > threshold {
			evicted = append(evicted, id)
			delete(r.nodes, id)
		}
	}

	sort.Strings(evicted)

	return evicted
}

// Snapshot builds the published liveness view of one node.
func (r *Registry) Snapshot(nodeID string) (models.NodeSnapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, exists := r.nodes[nodeID]
	if !exists {
		return models.NodeSnapshot{}, false
	}

	return r.snapshotLocked(n), true
}

// SnapshotAll builds the published liveness views for all nodes.
func (r *Registry) SnapshotAll() map[string]models.NodeSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]models.NodeSnapshot, len(r.nodes))
	for id, n := range r.nodes {
		out[id] = r.snapshotLocked(n)
	}

	return out
}

func (r *Registry) snapshotLocked(n *node) models.NodeSnapshot {
	domains := make([]string, 0, len(n.domains))
	for d := range n.domains {
		domains = append(domains, d)
	}

	sort.Strings(domains)

	snap := models.NodeSnapshot{
		Status:        r.statusLocked(n),
		DataCount:     n.dataCount,
		ErrorCount:    n.errorCount,
		Domains:       domains,
		UptimeSeconds: r.nowFunc().Sub(n.registeredAt).Seconds(),
	}

	if !n.lastHeartbeat.IsZero() {
		snap.LastHeartbeatMs = n.lastHeartbeat.UnixMilli()
	}

	if !n.lastData.IsZero() {
		snap.LastDataMs = n.lastData.UnixMilli()
	}

	return snap
}

// structurallyValid is the minimal inbound gate shared by all domains.
func (r *Registry) structurallyValid(payload map[string]any) bool {
	if payload == nil {
		return false
	}

	v, present := payload["ts_ms"]
	if !present {
		return false
	}

	ts, ok := numericMs(v)
	if !ok {
		return false
	}

	delta := r.nowFunc().UnixMilli() - ts
	if delta > dataFreshnessMs || delta < -dataFreshnessMs {
		return false
	}

	return true
}

func numericMs(v any) (int64, bool) {
	switch x := v.(type) {
	case float64:
		return int64(x), true
	case int:
		return int64(x), true
	case int64:
		return x, true
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0, false
		}

		return int64(f), true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}

		return int64(f), true
	default:
		return 0, false
	}
}

package models

// NodeStatus is the derived liveness classification of a node. It is
// computed from timestamps and error counters, never stored.
type NodeStatus string

const (
	NodeActive  NodeStatus = "active"
	NodeOffline NodeStatus = "offline"
	NodeStale   NodeStatus = "stale"
	NodeError   NodeStatus = "error"
	NodeUnknown NodeStatus = "unknown"
)

// SystemStatus is the overall health of the node population.
type SystemStatus string

const (
	SystemOffline  SystemStatus = "offline"
	SystemDegraded SystemStatus = "degraded"
	SystemHealthy  SystemStatus = "healthy"
)

// NodeSnapshot is the published liveness view of one node.
// LastHeartbeatMs/LastDataMs are unix milliseconds, zero means never.
type NodeSnapshot struct {
	Status          NodeStatus `json:"status"`
	LastHeartbeatMs int64      `json:"last_heartbeat"`
	LastDataMs      int64      `json:"last_data"`
	DataCount       int64      `json:"data_count"`
	ErrorCount      int64      `json:"error_count"`
	Domains         []string   `json:"domains"`
	UptimeSeconds   float64    `json:"uptime"`
}

// Fabrication carries the narrator's fabrication level, published
// unchanged from configuration.
type Fabrication struct {
	Level float64 `json:"level"`
}

// ConsolidatedState is the aggregate view republished to downstream
// consumers on <base>/ui/state.
type ConsolidatedState struct {
	Noise        AudioFeatures           `json:"noise"`
	Rooms        map[string]Occupancy    `json:"rooms"`
	Buttons      map[string]int64        `json:"buttons"`
	Fabrication  Fabrication             `json:"fabrication"`
	Nodes        map[string]NodeSnapshot `json:"nodes"`
	SystemStatus SystemStatus            `json:"system_status"`
}

// Clone returns a deep copy safe to hand outside the owning goroutine.
func (s *ConsolidatedState) Clone() ConsolidatedState {
	out := *s

	out.Rooms = make(map[string]Occupancy, len(s.Rooms))
	for k, v := range s.Rooms {
		out.Rooms[k] = v
	}

	out.Buttons = make(map[string]int64, len(s.Buttons))
	for k, v := range s.Buttons {
		out.Buttons[k] = v
	}

	out.Nodes = make(map[string]NodeSnapshot, len(s.Nodes))
	for k, v := range s.Nodes {
		domains := make([]string, len(v.Domains))
		copy(domains, v.Domains)
		v.Domains = domains
		out.Nodes[k] = v
	}

	return out
}

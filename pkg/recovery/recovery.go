// Package recovery pkg/recovery/recovery.go
//
// Last-resort substitution of neutral-default records when a payload
// fails both strict validation and sanitization. Attempts are budgeted
// per (node, domain) and self-throttle through a cooldown, so a node
// spewing garbage cannot keep the recovery path hot.
package recovery

import (
	"log"
	"sync"
	"time"

	"github.com/partyhouse/telemetry/pkg/models"
)

const (
	// DefaultCooldown is the production cooldown between recovery
	// attempts for one (node, domain) key. Tests use much shorter ones.
	DefaultCooldown = 5 * time.Second

	// maxErrors is the per-key error budget; past it the key is no
	// longer eligible for recovery.
	maxErrors = 10
)

// Manager tracks per-(node, domain) error budgets and produces
// neutral-default records. Safe for concurrent use.
type Manager struct {
	mu         sync.Mutex
	cooldown   time.Duration
	errorCount map[string]int
	lastError  map[string]time.Time
	nowFunc    func() time.Time
}

func NewManager(cooldown time.Duration) *Manager {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}

	return &Manager{
		cooldown:   cooldown,
		errorCount: make(map[string]int),
		lastError:  make(map[string]time.Time),
		nowFunc:    time.Now,
	}
}

// Attempt returns a neutral-default record for the domain, or false
// when the key's error budget is exhausted or its cooldown has not
// elapsed. Every call counts against the budget and refreshes the
// cooldown, whether or not a record is produced. The raw payload is
// not salvaged; it only identifies what failed upstream.
func (m *Manager) Attempt(nodeID, domain string, _ map[string]any) (any, bool) {
	m.mu.Lock()

	key := nodeID + ":" + domain
	now := m.nowFunc()

	eligible := m.errorCount[key] <= maxErrors
	if last, seen := m.lastError[key]; seen && now.Sub(last) < m.cooldown {
		eligible = false
	}

	m.errorCount[key]++
	m.lastError[key] = now

	m.mu.Unlock()

	if !eligible {
		return nil, false
	}

	rec := defaultRecord(domain, now.UnixMilli())
	if rec == nil {
		return nil, false
	}

	log.Printf("Recovered %s data for node %s with defaults", domain, nodeID)

	return rec, true
}

// ErrorCount reports the accumulated error count for a (node, domain) key.
func (m *Manager) ErrorCount(nodeID, domain string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.errorCount[nodeID+":"+domain]
}

// Reset clears all error budgets and cooldowns.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.errorCount = make(map[string]int)
	m.lastError = make(map[string]time.Time)
}

func defaultRecord(domain string, nowMs int64) any {
	switch domain {
	case "audio":
		return &models.AudioFeatures{TsMs: nowMs}
	case "occupancy":
		return &models.Occupancy{TsMs: nowMs}
	case "encoder":
		return &models.Encoder{TsMs: nowMs}
	case "button":
		return &models.Button{TsMs: nowMs}
	default:
		return nil
	}
}

// Package core pkg/core/core.go
//
// Aggregation core: a single goroutine owns the node registry and the
// consolidated state, draining a bounded inbound queue and a publish
// ticker from one select loop. The transport callback only enqueues;
// readers only ever see deep-copied snapshots.
package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/partyhouse/telemetry/pkg/metrics"
	"github.com/partyhouse/telemetry/pkg/models"
	"github.com/partyhouse/telemetry/pkg/mqtt"
	"github.com/partyhouse/telemetry/pkg/recovery"
	"github.com/partyhouse/telemetry/pkg/registry"
	"github.com/partyhouse/telemetry/pkg/validate"
)

const (
	defaultPublishInterval  = 200 * time.Millisecond
	defaultQueueSize        = 256
	defaultFabricationLevel = 0.15

	// defaultHistorySize keeps one minute of noise readings at the
	// 200ms publish cadence.
	defaultHistorySize = 300
)

// Message is one inbound transport message, untouched.
type Message struct {
	Topic   string
	Payload []byte
}

// Config holds aggregation core tuning.
type Config struct {
	HouseID          string        `json:"house_id"`
	PublishInterval  time.Duration `json:"publish_interval"`
	QueueSize        int           `json:"queue_size"`
	FabricationLevel float64       `json:"fabrication_level"`
}

func (c *Config) withDefaults() Config {
	out := *c

	if out.HouseID == "" {
		out.HouseID = "houseA"
	}

	if out.PublishInterval <= 0 {
		out.PublishInterval = defaultPublishInterval
	}

	if out.QueueSize <= 0 {
		out.QueueSize = defaultQueueSize
	}

	if out.FabricationLevel <= 0 {
		out.FabricationLevel = defaultFabricationLevel
	}

	return out
}

// Service routes telemetry into consolidated state and republishes it
// on a fixed cadence.
type Service struct {
	cfg       Config
	reg       *registry.Registry
	processor *validate.Processor
	recovery  *recovery.Manager
	publisher Publisher
	met       *metrics.Metrics

	in      chan Message
	done    chan struct{}
	history *metrics.NoiseHistory

	// st is owned by the run loop; snap is the latest deep copy,
	// guarded for outside readers (HTTP API).
	st     models.ConsolidatedState
	snapMu sync.RWMutex
	snap   models.ConsolidatedState

	dropLog rate.Sometimes
}

func NewService(
	cfg Config,
	reg *registry.Registry,
	processor *validate.Processor,
	rec *recovery.Manager,
	publisher Publisher,
	met *metrics.Metrics,
) *Service {
	cfg = cfg.withDefaults()

	st := models.ConsolidatedState{
		Rooms:        make(map[string]models.Occupancy),
		Buttons:      make(map[string]int64),
		Fabrication:  models.Fabrication{Level: cfg.FabricationLevel},
		Nodes:        make(map[string]models.NodeSnapshot),
		SystemStatus: models.SystemOffline,
	}

	return &Service{
		cfg:       cfg,
		reg:       reg,
		processor: processor,
		recovery:  rec,
		publisher: publisher,
		met:       met,
		in:        make(chan Message, cfg.QueueSize),
		done:      make(chan struct{}),
		history:   metrics.NewNoiseHistory(defaultHistorySize),
		st:        st,
		snap:      st.Clone(),
		dropLog:   rate.Sometimes{First: 5, Interval: 10 * time.Second},
	}
}

// SetPublisher wires the state publisher. Must be called before Start
// when the publisher could not be constructed first (the MQTT client
// needs the core's Enqueue as its handler).
func (s *Service) SetPublisher(p Publisher) {
	s.publisher = p
}

// Enqueue hands an inbound message to the core without blocking.
// Returns false when the queue is full; the message is lost, which is
// acceptable under the transport's QoS.
func (s *Service) Enqueue(topic string, payload []byte) bool {
	select {
	case s.in <- Message{Topic: topic, Payload: payload}:
		s.met.QueueDepth.Set(float64(len(s.in)))
		return true
	default:
		s.met.MessagesDropped.WithLabelValues(metrics.DropQueueFull).Inc()
		s.dropLog.Do(func() {
			log.Printf("Inbound queue full, dropping message on %s", topic)
		})

		return false
	}
}

// Start runs the core until the context is canceled. The final state
// snapshot is published before returning.
func (s *Service) Start(ctx context.Context) error {
	defer close(s.done)

	log.Printf("Starting aggregation core for %s (publish every %v)",
		s.cfg.HouseID, s.cfg.PublishInterval)

	ticker := time.NewTicker(s.cfg.PublishInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// One last snapshot so subscribers keep a coherent
			// retained state across restarts.
			s.publish(context.Background())
			return nil
		case msg := <-s.in:
			s.met.QueueDepth.Set(float64(len(s.in)))
			s.handleMessage(msg)
		case <-ticker.C:
			s.refreshStatus()
			s.evict()
			s.publish(ctx)
		}
	}
}

// Stop waits for the run loop to exit.
func (s *Service) Stop(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns a deep copy of the most recently published state.
func (s *Service) Snapshot() models.ConsolidatedState {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()

	return s.snap.Clone()
}

// Stats exposes validator counters for the HTTP API.
func (s *Service) Stats() validate.Stats {
	return s.processor.Stats()
}

// ResetStats clears the validator counters.
func (s *Service) ResetStats() {
	s.processor.ResetStats()
}

// History returns the recent noise readings, newest first.
func (s *Service) History() []metrics.NoiseSample {
	return s.history.Points()
}

// handleMessage routes one inbound message. Every failure degrades to
// "leave existing state unchanged"; nothing here is fatal.
func (s *Service) handleMessage(msg Message) {
	addr, ok := mqtt.ParseTopic(msg.Topic)
	if !ok {
		s.met.MessagesDropped.WithLabelValues(metrics.DropBadTopic).Inc()
		return
	}

	nodeID, domain, signal := addr.NodeID, addr.Domain, addr.Signal

	var payload map[string]any
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		s.met.MessagesDropped.WithLabelValues(metrics.DropBadJSON).Inc()
		s.dropLog.Do(func() {
			log.Printf("Dropping malformed JSON on %s: %v", msg.Topic, err)
		})

		return
	}

	if !s.reg.Has(nodeID) {
		if !s.reg.Register(nodeID) {
			s.met.MessagesDropped.WithLabelValues(metrics.DropCapacity).Inc()
			s.dropLog.Do(func() {
				log.Printf("Failed to register node %s (max nodes reached)", nodeID)
			})

			return
		}

		log.Printf("Registered node %s", nodeID)
	}

	if !s.reg.RecordData(nodeID, domain, signal, payload) {
		s.met.MessagesDropped.WithLabelValues(metrics.DropStructural).Inc()
		s.dropLog.Do(func() {
			log.Printf("Failed to update data for node %s (%s/%s)", nodeID, domain, signal)
		})

		return
	}

	switch {
	case domain == "audio" && signal == "features":
		if rec, ok := s.validated(nodeID, "audio", payload, s.processor.ProcessAudio); ok {
			s.st.Noise = *rec.(*models.AudioFeatures)
			s.history.Add(time.Now(), nodeID, s.st.Noise.RMS)
		}
	case domain == "occupancy" && signal == "state":
		if rec, ok := s.validated(nodeID, "occupancy", payload, s.processor.ProcessOccupancy); ok {
			s.st.Rooms[nodeID] = *rec.(*models.Occupancy)
		}
	case domain == "poll" && signal == "vote":
		s.st.Buttons[buttonID(payload)]++
	case domain == "sys" && signal == "heartbeat":
		s.reg.RecordHeartbeat(nodeID)
	default:
		// Unrecognized pairs stay in the registry's raw store only.
	}

	s.met.MessagesProcessed.Inc()
	s.refreshStatus()
}

// validated runs the domain validator and falls back to the recovery
// manager. The returned record, if any, passes strict validation or is
// a neutral default.
func (s *Service) validated(
	nodeID, domain string,
	payload map[string]any,
	process func(map[string]any) validate.Outcome,
) (any, bool) {
	out := process(payload)
	s.met.Validation.WithLabelValues(domain, string(out.Quality)).Inc()

	if out.Accepted {
		return out.Record, true
	}

	rec, ok := s.recovery.Attempt(nodeID, domain, payload)
	if ok {
		s.met.RecoveryAttempts.WithLabelValues(domain, metrics.RecoveryRecovered).Inc()
		return rec, true
	}

	s.met.RecoveryAttempts.WithLabelValues(domain, metrics.RecoverySuppressed).Inc()

	return nil, false
}

// refreshStatus recomputes the node snapshots and the overall system
// status from the registry.
func (s *Service) refreshStatus() {
	active := len(s.reg.ActiveNodes())
	total := s.reg.Count()

	switch {
	case total == 0:
		s.st.SystemStatus = models.SystemOffline
	case active == total:
		s.st.SystemStatus = models.SystemHealthy
	case active > 0:
		s.st.SystemStatus = models.SystemDegraded
	default:
		s.st.SystemStatus = models.SystemOffline
	}

	s.st.Nodes = s.reg.SnapshotAll()

	s.met.NodesActive.Set(float64(active))
	s.met.NodesTotal.Set(float64(total))
}

func (s *Service) evict() {
	evicted := s.reg.EvictStale()
	if len(evicted) == 0 {
		return
	}

	s.met.NodesEvicted.Add(float64(len(evicted)))
	log.Printf("Evicted stale nodes: %v", evicted)
}

// publish snapshots the state under the single-writer discipline and
// hands the copy to the publisher outside of it.
func (s *Service) publish(ctx context.Context) {
	snap := s.st.Clone()

	s.snapMu.Lock()
	s.snap = snap
	s.snapMu.Unlock()

	payload, err := json.Marshal(snap)
	if err != nil {
		log.Printf("Failed to marshal state: %v", err)
		return
	}

	if err := s.publisher.PublishState(ctx, payload); err != nil {
		log.Printf("Failed to publish state: %v", err)
		return
	}

	s.met.StatePublishes.Inc()
}

// buttonID extracts the vote's button id; anything present is
// stringified, anything absent tallies under "unknown".
func buttonID(payload map[string]any) string {
	v, present := payload["btn"]
	if !present || v == nil {
		return "unknown"
	}

	if s, ok := v.(string); ok {
		return s
	}

	return fmt.Sprint(v)
}

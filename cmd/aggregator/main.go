// cmd/aggregator/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/partyhouse/telemetry/pkg/api"
	"github.com/partyhouse/telemetry/pkg/config"
	"github.com/partyhouse/telemetry/pkg/core"
	"github.com/partyhouse/telemetry/pkg/lifecycle"
	"github.com/partyhouse/telemetry/pkg/metrics"
	"github.com/partyhouse/telemetry/pkg/mqtt"
	"github.com/partyhouse/telemetry/pkg/recovery"
	"github.com/partyhouse/telemetry/pkg/registry"
	"github.com/partyhouse/telemetry/pkg/validate"
)

var errNoHouseID = errors.New("house_id is required")

// Config is the aggregator's on-disk configuration.
type Config struct {
	HouseID          string          `json:"house_id"`
	ListenAddr       string          `json:"listen_addr"`
	GrpcAddr         string          `json:"grpc_addr,omitempty"`
	Broker           mqtt.Config     `json:"broker"`
	Registry         registry.Config `json:"registry"`
	PublishInterval  config.Duration `json:"publish_interval,omitempty"`
	RecoveryCooldown config.Duration `json:"recovery_cooldown,omitempty"`
	QueueSize        int             `json:"queue_size,omitempty"`
	FabricationLevel float64         `json:"fabrication_level,omitempty"`
}

func (c *Config) Validate() error {
	if c.HouseID == "" {
		return errNoHouseID
	}

	if c.ListenAddr == "" {
		c.ListenAddr = ":8090"
	}

	return c.Broker.Validate()
}

func (c *Config) ApplyEnv() {
	c.HouseID = config.EnvString("HOUSE_ID", c.HouseID)
	c.Broker.BrokerHost = config.EnvString("BROKER_HOST", c.Broker.BrokerHost)
	c.Broker.BrokerPort = config.EnvInt("BROKER_PORT", c.Broker.BrokerPort)
	c.Registry.MaxNodes = config.EnvInt("NODE_CAP", c.Registry.MaxNodes)
}

// transport is the slice of the MQTT client the service lifecycle
// needs.
type transport interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
}

// stateCore is the aggregation loop's lifecycle surface.
type stateCore interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// statusAPI is the HTTP server's lifecycle surface.
type statusAPI interface {
	Start(addr string) error
	Shutdown(ctx context.Context) error
}

// aggregatorService ties the MQTT client, the core loop, and the HTTP
// API into one lifecycle.Service.
type aggregatorService struct {
	cfg    *Config
	client transport
	svc    stateCore
	apiSrv statusAPI
}

func (a *aggregatorService) Start(ctx context.Context) error {
	if err := a.client.Connect(ctx); err != nil {
		return err
	}

	go func() {
		if err := a.apiSrv.Start(a.cfg.ListenAddr); err != nil {
			log.Printf("HTTP server failed: %v", err)
		}
	}()

	return a.svc.Start(ctx)
}

// Stop waits for the core loop first: its final snapshot publish needs
// the MQTT session still connected.
func (a *aggregatorService) Stop(ctx context.Context) error {
	err := a.svc.Stop(ctx)

	if herr := a.apiSrv.Shutdown(ctx); herr != nil {
		log.Printf("Error shutting down HTTP server: %v", herr)
	}

	if derr := a.client.Disconnect(ctx); derr != nil {
		log.Printf("Error disconnecting MQTT client: %v", derr)
	}

	return err
}

func main() {
	configPath := flag.String("config", "/etc/partyhouse/aggregator.json", "Path to config file")
	flag.Parse()

	var cfg Config
	if err := config.LoadAndValidate(*configPath, &cfg); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	promReg := prometheus.NewRegistry()
	met := metrics.New(promReg)

	svc := core.NewService(
		core.Config{
			HouseID:          cfg.HouseID,
			PublishInterval:  time.Duration(cfg.PublishInterval),
			QueueSize:        cfg.QueueSize,
			FabricationLevel: cfg.FabricationLevel,
		},
		registry.New(cfg.Registry),
		validate.NewProcessor(),
		recovery.NewManager(time.Duration(cfg.RecoveryCooldown)),
		nil, // publisher wired below, after the client exists
		met,
	)

	client := mqtt.NewClient(cfg.HouseID, cfg.Broker, func(topic string, payload []byte) {
		svc.Enqueue(topic, payload)
	})

	svc.SetPublisher(client)

	app := &aggregatorService{
		cfg:    &cfg,
		client: client,
		svc:    svc,
		apiSrv: api.NewAPIServer(svc, promReg),
	}

	if err := lifecycle.RunServer(context.Background(), &lifecycle.ServerOptions{
		ServiceName: "aggregator",
		Service:     app,
		GrpcAddr:    cfg.GrpcAddr,
	}); err != nil {
		log.Fatalf("Aggregator failed: %v", err)
	}
}

// Package lifecycle pkg/lifecycle/server.go
package lifecycle

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const ShutdownTimeout = 10 * time.Second

// Service defines the interface that all services must implement.
type Service interface {
	Start(context.Context) error
	Stop(context.Context) error
}

// ServerOptions holds configuration for running a service.
type ServerOptions struct {
	ServiceName string
	Service     Service

	// GrpcAddr, when set, serves a gRPC health endpoint for external
	// supervisors. Empty disables it.
	GrpcAddr string
}

// RunServer starts the service, serves the optional health endpoint,
// and blocks until a signal, a service error, or context cancelation.
func RunServer(ctx context.Context, opts *ServerOptions) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log.Printf("*** Starting service %s", opts.ServiceName)

	errChan := make(chan error, 1)

	go func() {
		if err := opts.Service.Start(ctx); err != nil {
			select {
			case errChan <- err:
			default:
				log.Printf("Service error: %v", err)
			}
		}
	}()

	var grpcServer *grpc.Server

	if opts.GrpcAddr != "" {
		srv, err := startHealthServer(opts.GrpcAddr, opts.ServiceName, errChan)
		if err != nil {
			return fmt.Errorf("failed to start health server: %w", err)
		}

		grpcServer = srv
	}

	return handleShutdown(ctx, cancel, grpcServer, opts.Service, errChan)
}

func startHealthServer(addr, serviceName string, errChan chan error) (*grpc.Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := grpc.NewServer()

	hs := health.NewServer()
	hs.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)

	go func() {
		log.Printf("Starting gRPC health server on %s", addr)

		if err := srv.Serve(lis); err != nil {
			select {
			case errChan <- err:
			default:
				log.Printf("gRPC server error: %v", err)
			}
		}
	}()

	return srv, nil
}

func handleShutdown(
	ctx context.Context, cancel context.CancelFunc, grpcServer *grpc.Server, svc Service, errChan chan error) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		log.Printf("Received signal %v, initiating shutdown", sig)
	case err := <-errChan:
		log.Printf("Received error: %v, initiating shutdown", err)
		return fmt.Errorf("service error: %w", err)
	case <-ctx.Done():
		log.Printf("Context canceled, initiating shutdown")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer shutdownCancel()

	cancel()

	if grpcServer != nil {
		grpcServer.GracefulStop()
	}

	if err := svc.Stop(shutdownCtx); err != nil {
		log.Printf("Error during service shutdown: %v", err)
		return fmt.Errorf("shutdown error: %w", err)
	}

	return nil
}

package api

import (
	"context"
	"net"
	"time"

	"walletd/internal/core"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// DefaultHealthSync is how often the gRPC serving status follows the health manager
const DefaultHealthSync = 5 * time.Second

// HealthServer exposes the standard gRPC health service so process
// supervisors can probe the daemon without speaking HTTP.
type HealthServer struct {
	addr     string
	monitor  core.IHealthMonitor
	interval time.Duration
	logger   core.ILogger

	grpcServer *grpc.Server
	health     *health.Server
}

func NewHealthServer(addr string, monitor core.IHealthMonitor, interval time.Duration, logger core.ILogger) *HealthServer {
	if interval <= 0 {
		interval = DefaultHealthSync
	}
	hs := &HealthServer{
		addr:       addr,
		monitor:    monitor,
		interval:   interval,
		logger:     logger.WithField("component", "grpc_health"),
		grpcServer: grpc.NewServer(),
		health:     health.NewServer(),
	}
	grpc_health_v1.RegisterHealthServer(hs.grpcServer, hs.health)
	return hs
}

// Run listens on the configured address until ctx is cancelled
func (hs *HealthServer) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", hs.addr)
	if err != nil {
		return err
	}
	return hs.Serve(ctx, ln)
}

// Serve is Run on an existing listener
func (hs *HealthServer) Serve(ctx context.Context, ln net.Listener) error {
	hs.sync()

	errCh := make(chan error, 1)
	go func() {
		hs.logger.Info("Starting gRPC health server", "addr", ln.Addr().String())
		errCh <- hs.grpcServer.Serve(ln)
	}()

	ticker := time.NewTicker(hs.interval)
	defer ticker.Stop()

	for {
		select {
		case err := <-errCh:
			return err
		case <-ticker.C:
			hs.sync()
		case <-ctx.Done():
			hs.logger.Info("Stopping gRPC health server")
			hs.health.Shutdown()
			hs.grpcServer.GracefulStop()
			return nil
		}
	}
}

func (hs *HealthServer) sync() {
	status := grpc_health_v1.HealthCheckResponse_SERVING
	if hs.monitor != nil && !hs.monitor.IsHealthy() {
		status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	hs.health.SetServingStatus("", status)
}

package workers

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Probe is implemented by the projection stores.
type Probe interface {
	Serving() bool
}

// HealthWorker mirrors the freshness of a store into the gRPC health status
// of service: NOT_SERVING while the store has no view or a dropped feed.
type HealthWorker struct {
	log      *slog.Logger
	server   *health.Server
	service  string
	probe    Probe
	interval time.Duration
}

func NewHealthWorker(
	log *slog.Logger,
	server *health.Server,
	service string,
	probe Probe,
	interval time.Duration,
) *HealthWorker {
	return &HealthWorker{log: log, server: server, service: service, probe: probe, interval: interval}
}

func (w *HealthWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	current := w.check(healthpb.HealthCheckResponse_UNKNOWN)
	for {
		select {
		case <-ctx.Done():
			w.server.SetServingStatus(w.service, healthpb.HealthCheckResponse_NOT_SERVING)
			return nil
		case <-ticker.C:
			current = w.check(current)
		}
	}
}

func (w *HealthWorker) check(previous healthpb.HealthCheckResponse_ServingStatus) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if w.probe.Serving() {
		status = healthpb.HealthCheckResponse_SERVING
	}
	if status != previous {
		w.log.Info("Health status changed", "service", w.service, "status", status.String())
		w.server.SetServingStatus(w.service, status)
	}
	return status
}

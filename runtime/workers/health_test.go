package workers

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type fakeProbe struct {
	serving atomic.Bool
}

func (p *fakeProbe) Serving() bool { return p.serving.Load() }

func servingStatus(t *testing.T, server *health.Server, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := server.Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN
	}
	return resp.GetStatus()
}

func TestHealthWorker_FollowsProbe(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	server := health.NewServer()
	probe := &fakeProbe{}
	worker := NewHealthWorker(log, server, "ledger", probe, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = worker.Run(ctx)
		close(done)
	}()

	// Given a store without view
	req.Eventually(func() bool {
		return servingStatus(t, server, "ledger") == healthpb.HealthCheckResponse_NOT_SERVING
	}, time.Second, 5*time.Millisecond)

	// When the store becomes fresh
	probe.serving.Store(true)
	req.Eventually(func() bool {
		return servingStatus(t, server, "ledger") == healthpb.HealthCheckResponse_SERVING
	}, time.Second, 5*time.Millisecond)

	// When the feed drops
	probe.serving.Store(false)
	req.Eventually(func() bool {
		return servingStatus(t, server, "ledger") == healthpb.HealthCheckResponse_NOT_SERVING
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
	req.Equal(healthpb.HealthCheckResponse_NOT_SERVING, servingStatus(t, server, "ledger"))
}

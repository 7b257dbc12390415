package workers

import (
	"campus-sync/observability"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

func TestHeartbeatWorker_RecordsProcessStats(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	monitoring := observability.NewMonitoringManager(log)
	worker := NewHeartbeatWorker(log, monitoring, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	// Then the resident memory of the test binary shows up
	req.Eventually(func() bool {
		return monitoring.GetLatest().RssBytes > 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	req.NoError(<-done)
}

package observability

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

func TestMonitoringManager_Counters(t *testing.T) {
	req := require.New(t)
	mm := NewMonitoringManager(logs.GetLoggerFromLevel(slog.LevelDebug))

	// Given a few events recorded from the sync core
	mm.IncrEventsApplied()
	mm.IncrEventsApplied()
	mm.IncrDuplicatesAbsorbed()
	mm.IncrStaleFeeds()
	mm.AddObservers(2)
	mm.AddObservers(-1)
	mm.IncrTimerExpirations()
	mm.RecordProcess(12.5, 2048)

	// When the stats are read
	stats := mm.GetLatest()

	// Then every counter is reported
	req.Equal(uint64(2), stats.EventsApplied)
	req.Equal(uint64(1), stats.DuplicatesAbsorbed)
	req.Equal(uint64(1), stats.StaleFeeds)
	req.Equal(int64(1), stats.ActiveObservers)
	req.Equal(uint64(1), stats.TimerExpirations)
	req.Equal(12.5, stats.CpuPercent)
	req.Equal(uint64(2048), stats.RssBytes)
}

func TestMonitoringManager_UpdateStatsComputesRate(t *testing.T) {
	req := require.New(t)
	mm := NewMonitoringManager(logs.GetLoggerFromLevel(slog.LevelDebug))

	// Given 10 events applied during the last second
	mm.LastCheck = time.Now().Add(-time.Second)
	for i := 0; i < 10; i++ {
		mm.IncrEventsApplied()
	}

	// When the stats are refreshed
	mm.updateStats()

	// Then the rate is close to 10 events per second
	req.InDelta(10, mm.GetLatest().EventRate, 1)

	// And nothing new means a zero rate
	mm.updateStats()
	req.Zero(mm.GetLatest().EventRate)
}

func TestMonitoringManager_ListenStopsWithContext(t *testing.T) {
	req := require.New(t)
	mm := NewMonitoringManager(logs.GetLoggerFromLevel(slog.LevelDebug))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		mm.Listen(ctx, 5*time.Millisecond)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		req.Fail("monitoring manager did not stop")
	}
}

package workers

import (
	"campus-sync/observability"
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"
)

// HeartbeatWorker samples the process resources into the monitoring
// manager and logs the sync counters every interval.
type HeartbeatWorker struct {
	log        *slog.Logger
	monitoring *observability.MonitoringManager
	interval   time.Duration
}

func NewHeartbeatWorker(
	log *slog.Logger,
	monitoring *observability.MonitoringManager,
	interval time.Duration,
) *HeartbeatWorker {
	return &HeartbeatWorker{log: log, monitoring: monitoring, interval: interval}
}

func (w *HeartbeatWorker) Run(ctx context.Context) error {
	w.log.Info("Starting heartbeat worker", "interval", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			rss, cpu, err := getSelfStats(p)
			if err != nil {
				w.log.Error("Failed to collect self stats", "error", err)
				continue
			}
			w.monitoring.RecordProcess(cpu, rss)
			stats := w.monitoring.GetLatest()
			w.log.Info("Heartbeat",
				"events_applied", stats.EventsApplied,
				"duplicates_absorbed", stats.DuplicatesAbsorbed,
				"unknown_changes", stats.UnknownChanges,
				"stale_feeds", stats.StaleFeeds,
				"active_observers", stats.ActiveObservers,
				"event_rate", stats.EventRate,
				"cpu_percent", cpu,
				"rss_bytes", rss,
			)
		}
	}
}

// getSelfStats retrieves the resident memory and CPU usage of p.
func getSelfStats(p *process.Process) (uint64, float64, error) {
	memInfo, err := p.MemoryInfo()
	if err != nil {
		return 0, 0, err
	}
	cpuPercent, err := p.CPUPercent()
	if err != nil {
		return 0, 0, err
	}
	return memInfo.RSS, cpuPercent, nil
}

package observability

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// MonitoringStats aggregates the counters of the sync core for the heartbeat
// and the debug server.
type MonitoringStats struct {
	// --- SYNC STORE METRICS ---
	EventsApplied      uint64 `json:"events_applied"`
	DuplicatesAbsorbed uint64 `json:"duplicates_absorbed"`
	UnknownChanges     uint64 `json:"unknown_changes"`
	StaleFeeds         uint64 `json:"stale_feeds"`
	ActiveObservers    int64  `json:"active_observers"`

	// --- PRESENCE METRICS ---
	TypingSnapshots uint64 `json:"typing_snapshots"`
	Broadcasts      uint64 `json:"broadcasts"`

	// --- TIMER METRICS ---
	TimerExpirations uint64 `json:"timer_expirations"`
	Submissions      uint64 `json:"submissions"`

	// --- SYSTEM METRICS ---
	AllocMemMb uint64  `json:"alloc_mem_mb"`
	NumGC      uint32  `json:"num_gc"`
	EventRate  float64 `json:"event_rate"` // events applied per second
	CpuPercent float64 `json:"cpu_percent"`
	RssBytes   uint64  `json:"rss_bytes"`
}

// MonitoringManager collects real time metrics. Counters are updated
// atomically from any goroutine.
type MonitoringManager struct {
	log         *slog.Logger
	mu          sync.RWMutex
	latestStats MonitoringStats

	EventsApplied      uint64
	DuplicatesAbsorbed uint64
	UnknownChanges     uint64
	StaleFeeds         uint64
	ActiveObservers    int64
	TypingSnapshots    uint64
	Broadcasts         uint64
	TimerExpirations   uint64
	Submissions        uint64

	lastApplied uint64
	LastCheck   time.Time
}

func NewMonitoringManager(log *slog.Logger) *MonitoringManager {
	return &MonitoringManager{
		log:       log,
		LastCheck: time.Now(),
	}
}

func (mm *MonitoringManager) IncrEventsApplied() {
	atomic.AddUint64(&mm.EventsApplied, 1)
}

func (mm *MonitoringManager) IncrDuplicatesAbsorbed() {
	atomic.AddUint64(&mm.DuplicatesAbsorbed, 1)
}

func (mm *MonitoringManager) IncrUnknownChanges() {
	atomic.AddUint64(&mm.UnknownChanges, 1)
}

func (mm *MonitoringManager) IncrStaleFeeds() {
	atomic.AddUint64(&mm.StaleFeeds, 1)
}

// AddObservers moves the number of live store observers by delta.
func (mm *MonitoringManager) AddObservers(delta int64) {
	atomic.AddInt64(&mm.ActiveObservers, delta)
}

func (mm *MonitoringManager) IncrTypingSnapshots() {
	atomic.AddUint64(&mm.TypingSnapshots, 1)
}

func (mm *MonitoringManager) IncrBroadcasts() {
	atomic.AddUint64(&mm.Broadcasts, 1)
}

func (mm *MonitoringManager) IncrTimerExpirations() {
	atomic.AddUint64(&mm.TimerExpirations, 1)
}

func (mm *MonitoringManager) IncrSubmissions() {
	atomic.AddUint64(&mm.Submissions, 1)
}

// RecordProcess stores the process level stats sampled by the heartbeat.
func (mm *MonitoringManager) RecordProcess(cpuPercent float64, rss uint64) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.latestStats.CpuPercent = cpuPercent
	mm.latestStats.RssBytes = rss
}

// Listen refreshes the aggregated stats every interval until ctx is done.
func (mm *MonitoringManager) Listen(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			mm.log.Info("Monitoring manager stopped")
			return
		case <-ticker.C:
			mm.updateStats()
		}
	}
}

func (mm *MonitoringManager) updateStats() {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	now := time.Now()
	applied := atomic.LoadUint64(&mm.EventsApplied)
	if duration := now.Sub(mm.LastCheck).Seconds(); duration > 0 {
		mm.latestStats.EventRate = float64(applied-mm.lastApplied) / duration
	}
	mm.lastApplied = applied
	mm.LastCheck = now

	mm.loadCountersLocked()

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	mm.latestStats.AllocMemMb = m.Alloc / 1024 / 1024
	mm.latestStats.NumGC = m.NumGC

	mm.log.Debug("Stats updated",
		"events_applied", mm.latestStats.EventsApplied,
		"event_rate", mm.latestStats.EventRate,
		"stale_feeds", mm.latestStats.StaleFeeds,
		"mem_mb", mm.latestStats.AllocMemMb,
	)
}

func (mm *MonitoringManager) loadCountersLocked() {
	mm.latestStats.EventsApplied = atomic.LoadUint64(&mm.EventsApplied)
	mm.latestStats.DuplicatesAbsorbed = atomic.LoadUint64(&mm.DuplicatesAbsorbed)
	mm.latestStats.UnknownChanges = atomic.LoadUint64(&mm.UnknownChanges)
	mm.latestStats.StaleFeeds = atomic.LoadUint64(&mm.StaleFeeds)
	mm.latestStats.ActiveObservers = atomic.LoadInt64(&mm.ActiveObservers)
	mm.latestStats.TypingSnapshots = atomic.LoadUint64(&mm.TypingSnapshots)
	mm.latestStats.Broadcasts = atomic.LoadUint64(&mm.Broadcasts)
	mm.latestStats.TimerExpirations = atomic.LoadUint64(&mm.TimerExpirations)
	mm.latestStats.Submissions = atomic.LoadUint64(&mm.Submissions)
}

// GetLatest returns the last aggregated stats with up to date counters.
func (mm *MonitoringManager) GetLatest() MonitoringStats {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.loadCountersLocked()
	return mm.latestStats
}

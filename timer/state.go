package timer

import "fmt"

type State int

const (
	Idle State = iota
	Running
	Paused
	Expired
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Expired:
		return "expired"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Band string

const (
	BandNormal   Band = "normal"
	BandWarning  Band = "warning"
	BandCritical Band = "critical"
)

// Snapshot is the state exposed to timer consumers.
type Snapshot struct {
	Remaining int
	Total     int
	State     State
	HasFired  bool
}

func (s Snapshot) IsRunning() bool {
	return s.State == Running
}

func (s Snapshot) Formatted() string {
	return FormatClock(s.Remaining)
}

func (s Snapshot) Band() Band {
	return Classify(s.Remaining, s.Total)
}

// FormatClock renders seconds as MM:SS. Minutes are not wrapped into hours.
func FormatClock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

// Classify bands the remaining share of total: at most 10% is critical,
// at most 25% is warning.
func Classify(remaining, total int) Band {
	if total <= 0 {
		return BandNormal
	}
	switch {
	case remaining*100 <= total*10:
		return BandCritical
	case remaining*100 <= total*25:
		return BandWarning
	default:
		return BandNormal
	}
}

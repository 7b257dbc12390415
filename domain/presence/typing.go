// Package presence defines the typing state derived from presence snapshots.
// The state is always rebuilt from a full snapshot, never patched, so a
// member who left cannot linger as "typing".
package presence

import (
	"maps"
	"slices"
	"time"
)

// Broadcast is the per-member payload published on a presence channel.
type Broadcast struct {
	Identity    string    `json:"identity"`
	DisplayName string    `json:"displayName"`
	IsTyping    bool      `json:"isTyping"`
	Timestamp   time.Time `json:"timestamp"`
}

// Snapshot is the full membership of a channel: identity -> latest broadcast.
// A member that joined but never published maps to a zero Broadcast.
type Snapshot map[string]Broadcast

type TypingEntry struct {
	DisplayName string
	IsTyping    bool
	LastSeenAt  time.Time
}

// TypingState maps participant identity to its typing entry.
type TypingState map[string]TypingEntry

// BuildTypingState derives the typing state from scratch. The local identity
// is excluded, as are members not typing and, when ttl > 0, members whose
// last broadcast is older than ttl at now.
func BuildTypingState(self string, snapshot Snapshot, now time.Time, ttl time.Duration) TypingState {
	state := make(TypingState)
	for identity, b := range snapshot {
		if identity == self || !b.IsTyping {
			continue
		}
		if ttl > 0 && now.Sub(b.Timestamp) > ttl {
			continue
		}
		state[identity] = TypingEntry{DisplayName: b.DisplayName, IsTyping: true, LastSeenAt: b.Timestamp}
	}
	return state
}

// Names returns the display names of the typing participants, sorted.
func (s TypingState) Names() []string {
	names := make([]string, 0, len(s))
	for _, id := range slices.Sorted(maps.Keys(s)) {
		name := s[id].DisplayName
		if name == "" {
			name = id
		}
		names = append(names, name)
	}
	return names
}

func (s TypingState) Contains(identity string) bool {
	_, ok := s[identity]
	return ok
}

// Equal reports whether two states render identically.
func (s TypingState) Equal(other TypingState) bool {
	return maps.EqualFunc(s, other, func(a, b TypingEntry) bool {
		return a.DisplayName == b.DisplayName && a.IsTyping == b.IsTyping
	})
}

package presence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBuildTypingState(t *testing.T) {
	req := require.New(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	snapshot := Snapshot{
		"me":    {Identity: "me", DisplayName: "Me", IsTyping: true, Timestamp: now},
		"alice": {Identity: "alice", DisplayName: "Alice", IsTyping: true, Timestamp: now.Add(-time.Second)},
		"bob":   {Identity: "bob", DisplayName: "Bob", IsTyping: false, Timestamp: now},
		"clara": {Identity: "clara", DisplayName: "Clara", IsTyping: true, Timestamp: now.Add(-time.Minute)},
		"dan":   {},
	}

	state := BuildTypingState("me", snapshot, now, 10*time.Second)

	// Then only alice is rendered: self, idle, expired and silent members are excluded
	req.Len(state, 1)
	req.True(state.Contains("alice"))
	req.Equal([]string{"Alice"}, state.Names())

	// And without ttl the stale typist is kept
	req.Len(BuildTypingState("me", snapshot, now, 0), 2)
}

func TestBuildTypingState_MemberAbsenceRemovesEntry(t *testing.T) {
	req := require.New(t)
	now := time.Now()
	first := BuildTypingState("b", Snapshot{"a": {Identity: "a", IsTyping: true, Timestamp: now}}, now, 0)
	req.True(first.Contains("a"))

	// When a is no longer part of the snapshot
	second := BuildTypingState("b", Snapshot{}, now, 0)

	// Then the entry is gone, nothing carries over from the previous state
	req.False(second.Contains("a"))
	req.False(first.Equal(second))
}

func TestTypingState_NamesFallsBackToIdentity(t *testing.T) {
	req := require.New(t)
	state := TypingState{"zed": {IsTyping: true}, "amy": {DisplayName: "Amy", IsTyping: true}}
	req.Equal([]string{"Amy", "zed"}, state.Names())
}

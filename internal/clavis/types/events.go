package types

import "time"

// AccessMethod describes how a lock operation was performed.
type AccessMethod string

const (
	AccessMethodPIN     AccessMethod = "pin"
	AccessMethodFOB     AccessMethod = "fob"
	AccessMethodManual  AccessMethod = "manual"
	AccessMethodRemote  AccessMethod = "remote"
	AccessMethodAuto    AccessMethod = "auto"
	AccessMethodUnknown AccessMethod = "unknown"
)

// EventType enumerates the outbound events published to listeners
// (the websocket stream and anything else wired to the sink).
type EventType string

const (
	EventAccess            EventType = "access"
	EventUnlocked          EventType = "unlocked"
	EventLocked            EventType = "locked"
	EventJammed            EventType = "jammed"
	EventCodeExpired       EventType = "code_expired"
	EventUsageLimitReached EventType = "usage_limit_reached"
	EventPullStarted       EventType = "pull_started"
	EventPullProgress      EventType = "pull_progress"
	EventPullCompleted     EventType = "pull_completed"
	EventUsersUpdated      EventType = "users_updated"
)

// Event is a fire-and-forget notification.  Events are published after the
// state they describe has been persisted; delivery is best-effort.
type Event struct {
	Type       EventType     `json:"type"`
	LockID     string        `json:"lock_id"`
	Slot       int           `json:"slot,omitempty"`
	UserName   string        `json:"user_name,omitempty"`
	Method     AccessMethod  `json:"method,omitempty"`
	UsageCount int           `json:"usage_count,omitempty"`
	Pull       *PullCounters `json:"pull,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
}

// PullCounters accompanies the pull_* events.
type PullCounters struct {
	Scanned int `json:"scanned"`
	Found   int `json:"found"`
	New     int `json:"new"`
	Updated int `json:"updated"`
}

// AlarmEvent is a raw notification frame from the bridge, before any
// interpretation.  For keypad unlocks the alarm level carries the slot.
type AlarmEvent struct {
	NodeID int
	Type   int
	Level  int
}

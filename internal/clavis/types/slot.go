package types

import (
	"strconv"
	"time"
)

// UserStatus mirrors the Z-Wave User Code CC userIdStatus values.
type UserStatus int

const (
	UserStatusAvailable UserStatus = 0
	UserStatusEnabled   UserStatus = 1
	UserStatusDisabled  UserStatus = 2
)

func (s UserStatus) Valid() bool {
	return s == UserStatusAvailable || s == UserStatusEnabled || s == UserStatusDisabled
}

func (s UserStatus) String() string {
	switch s {
	case UserStatusAvailable:
		return "available"
	case UserStatusEnabled:
		return "enabled"
	case UserStatusDisabled:
		return "disabled"
	default:
		return "unknown(" + strconv.Itoa(int(s)) + ")"
	}
}

type CodeType string

const (
	CodeTypePIN CodeType = "pin"
	CodeTypeFOB CodeType = "fob"
)

// SlotRecord is the authoritative local intent for one user-code slot,
// together with the last state observed on the lock itself.  Code, Enabled,
// CachedStatus, the schedule and the usage fields are what the user asked
// for; LockCode and LockStatus are what the hardware last reported.  Synced
// is derived from the two sides and recomputed after every mutation and
// every hardware read.
type SlotRecord struct {
	Slot          int         `json:"slot"`
	Name          string      `json:"name"`
	CodeType      CodeType    `json:"code_type"`
	Code          string      `json:"code"`
	LockCode      string      `json:"lock_code"`
	Enabled       bool        `json:"enabled"`
	CachedStatus  UserStatus  `json:"cached_status"`
	LockStatus    *UserStatus `json:"lock_status,omitempty"`
	ScheduleStart *time.Time  `json:"schedule_start,omitempty"`
	ScheduleEnd   *time.Time  `json:"schedule_end,omitempty"`
	UsageLimit    *int        `json:"usage_limit,omitempty"`
	UsageCount    int         `json:"usage_count"`
	Synced        bool        `json:"synced"`
	LastUsed      *time.Time  `json:"last_used,omitempty"`
}

// HasSchedule reports whether either schedule bound is set.
func (r *SlotRecord) HasSchedule() bool {
	return r.ScheduleStart != nil || r.ScheduleEnd != nil
}

// Clone returns a deep copy.  Pointer fields get fresh backing values so a
// caller can mutate the copy without touching the original.
func (r *SlotRecord) Clone() *SlotRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.LockStatus = clonePtr(r.LockStatus)
	out.ScheduleStart = clonePtr(r.ScheduleStart)
	out.ScheduleEnd = clonePtr(r.ScheduleEnd)
	out.UsageLimit = clonePtr(r.UsageLimit)
	out.LastUsed = clonePtr(r.LastUsed)
	return &out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// DocumentVersion is the persisted schema version of LockDocument.
const DocumentVersion = 1

// LockDocument is the whole persisted state for one lock.  It is loaded and
// saved as a unit; slot numbers are stored as string keys so the JSON shape
// stays stable across tooling.
type LockDocument struct {
	Version      int                    `json:"version"`
	LockIdentity string                 `json:"lock_identity"`
	Users        map[string]*SlotRecord `json:"users"`
}

func NewLockDocument(identity string) *LockDocument {
	return &LockDocument{
		Version:      DocumentVersion,
		LockIdentity: identity,
		Users:        make(map[string]*SlotRecord),
	}
}

// SlotKey converts a slot number to its document map key.
func SlotKey(slot int) string { return strconv.Itoa(slot) }

// SlotInfo is a hardware read result.  A nil *SlotInfo means the read timed
// out and the slot state is unknown.  That is not the same as a report of
// UserStatusAvailable, which means the slot is known to be empty.
type SlotInfo struct {
	Status UserStatus `json:"status"`
	Code   string     `json:"code"`
}

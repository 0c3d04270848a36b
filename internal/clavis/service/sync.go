package service

import (
	"time"

	"github.com/BrandonDHaskell/Clavis/server/internal/clavis/types"
)

// computeSynced compares cached intent against an observed hardware reading.
// A nil reading means the slot state is unknown, which is never synced.
//
// The intent side is effective enablement: the user's enabled flag gated by
// the schedule window at now.  An effectively enabled PIN is synced when the
// lock holds the exact cached code in ENABLED status; a disabled one is
// satisfied by an AVAILABLE slot or an empty code.  FOB sync is status-only:
// fobs are provisioned at the keypad and their reported code bytes carry no
// meaning here.
func computeSynced(rec *types.SlotRecord, info *types.SlotInfo, now time.Time) bool {
	if info == nil {
		return false
	}

	want := rec.Enabled && ScheduleValid(rec, now)

	if rec.CodeType == types.CodeTypeFOB {
		if want {
			return info.Status == types.UserStatusEnabled
		}
		return info.Status == types.UserStatusAvailable
	}

	if want {
		return info.Status == types.UserStatusEnabled && info.Code == rec.Code && rec.Code != ""
	}
	return info.Status == types.UserStatusAvailable || info.Code == ""
}

// updateObserved records a hardware reading on rec and recomputes Synced.
// A nil reading only invalidates the sync flag; the last known observed
// fields are kept rather than blanked by a timeout.
func updateObserved(rec *types.SlotRecord, info *types.SlotInfo, now time.Time) {
	if info == nil {
		rec.Synced = false
		return
	}
	st := info.Status
	rec.LockCode = info.Code
	rec.LockStatus = &st
	rec.Synced = computeSynced(rec, info, now)
}

// recomputeSynced re-derives Synced from the stored observed fields after a
// local intent change.  A record whose slot has never been read stays
// unsynced until hardware is heard from.
func recomputeSynced(rec *types.SlotRecord, now time.Time) {
	if rec.LockStatus == nil {
		rec.Synced = false
		return
	}
	rec.Synced = computeSynced(rec, &types.SlotInfo{Status: *rec.LockStatus, Code: rec.LockCode}, now)
}

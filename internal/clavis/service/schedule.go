package service

import (
	"time"

	"github.com/BrandonDHaskell/Clavis/server/internal/clavis/types"
)

// ScheduleValid reports whether rec's schedule window admits now.  A nil
// bound is unbounded on that side; no bounds at all means always valid.
// The bounds themselves are inclusive.
func ScheduleValid(rec *types.SlotRecord, now time.Time) bool {
	if rec.ScheduleStart != nil && now.Before(*rec.ScheduleStart) {
		return false
	}
	if rec.ScheduleEnd != nil && now.After(*rec.ScheduleEnd) {
		return false
	}
	return true
}

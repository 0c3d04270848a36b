package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BrandonDHaskell/Clavis/server/internal/clavis/store"
	"github.com/BrandonDHaskell/Clavis/server/internal/clavis/types"
)

// ApplyAccessEvent applies policy for a code used at the keypad.  The
// physical access already happened; this cannot veto it, only account for
// it.  Outside the schedule window the event is reported as an expired-code
// use and nothing is counted.  A disabled user's use is logged and
// published but no longer counted.  Otherwise the use counts, and reaching
// the usage limit disables the user, pending a push to clear the code from
// the hardware.
func (e *Engine) ApplyAccessEvent(ctx context.Context, slot int, method types.AccessMethod) error {
	if err := e.validateSlot(slot); err != nil {
		return err
	}
	rec, ok := e.store.User(slot)
	if !ok {
		e.log.Warn("access by unknown slot", zap.Int("slot", slot))
		return nil
	}
	if rec.CodeType == types.CodeTypeFOB {
		// Keypad alarms do not distinguish pins from fobs; the record does.
		method = types.AccessMethodFOB
	}

	now := time.Now().UTC()
	if !ScheduleValid(rec, now) {
		e.log.Warn("access outside schedule window",
			zap.Int("slot", slot), zap.String("name", rec.Name))
		e.publish(types.Event{Type: types.EventCodeExpired, Slot: slot, UserName: rec.Name})
		return nil
	}

	if !rec.Enabled {
		// The code is still on the hardware until a clear lands.  Record
		// the use but leave the count frozen.
		e.log.Warn("access by disabled user, code still on lock",
			zap.Int("slot", slot), zap.String("name", rec.Name))
		e.recordAccess(ctx, store.AccessRecord{
			Slot: slot, UserName: rec.Name, Method: method,
			UsageCount: rec.UsageCount, OccurredAt: now,
		})
		e.publish(types.Event{Type: types.EventAccess, Slot: slot, UserName: rec.Name,
			Method: method, UsageCount: rec.UsageCount})
		e.publish(types.Event{Type: types.EventUnlocked, Slot: slot, UserName: rec.Name, Method: method})
		return nil
	}

	rec.UsageCount++
	rec.LastUsed = &now

	limitHit := rec.UsageLimit != nil && *rec.UsageLimit > 0 && rec.UsageCount >= *rec.UsageLimit
	if limitHit {
		rec.Enabled = false
		rec.CachedStatus = types.UserStatusDisabled
		recomputeSynced(rec, now)
		e.log.Info("usage limit reached, user disabled",
			zap.Int("slot", slot), zap.String("name", rec.Name), zap.Int("count", rec.UsageCount))
	}
	e.store.PutUser(rec)
	if err := e.store.Save(ctx); err != nil {
		return err
	}

	if limitHit {
		e.publish(types.Event{Type: types.EventUsageLimitReached, Slot: slot,
			UserName: rec.Name, UsageCount: rec.UsageCount})
	}
	e.recordAccess(ctx, store.AccessRecord{
		Slot: slot, UserName: rec.Name, Method: method,
		UsageCount: rec.UsageCount, OccurredAt: now,
	})
	e.publish(types.Event{Type: types.EventAccess, Slot: slot, UserName: rec.Name,
		Method: method, UsageCount: rec.UsageCount})
	e.publish(types.Event{Type: types.EventUnlocked, Slot: slot, UserName: rec.Name, Method: method})
	return nil
}

// NoteLockOperation records a lock or unlock that carries no slot
// attribution: manual thumbturn, remote command, auto relock, or a jam.
func (e *Engine) NoteLockOperation(ctx context.Context, kind types.EventType, method types.AccessMethod) {
	e.recordAccess(ctx, store.AccessRecord{Method: method, OccurredAt: time.Now().UTC()})
	e.publish(types.Event{Type: kind, Method: method})
}

package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BrandonDHaskell/Clavis/server/internal/clavis/types"
)

// SetSchedule bounds when a slot's code is valid.  Either bound may be nil
// for open-ended; with both set, end must be after start.
func (e *Engine) SetSchedule(ctx context.Context, slot int, start, end *time.Time) error {
	if err := e.validateSlot(slot); err != nil {
		return err
	}
	if start != nil && end != nil && !end.After(*start) {
		return fmt.Errorf("%w: end must be after start", ErrInvalidSchedule)
	}
	rec, ok := e.store.User(slot)
	if !ok {
		return fmt.Errorf("%w: slot %d", ErrSlotNotFound, slot)
	}

	rec.ScheduleStart = cloneTime(start)
	rec.ScheduleEnd = cloneTime(end)
	recomputeSynced(rec, time.Now().UTC())
	e.store.PutUser(rec)
	e.log.Info("schedule set", zap.Int("slot", slot))
	return e.saveAndKick(ctx)
}

// SetUsageLimit caps how many times a slot's code may be used; nil removes
// the cap.  Reaching the cap disables the user.  The count itself is only
// changed by ResetUsageCount.
func (e *Engine) SetUsageLimit(ctx context.Context, slot int, limit *int) error {
	if err := e.validateSlot(slot); err != nil {
		return err
	}
	if limit != nil && *limit < 1 {
		return fmt.Errorf("%w: must be at least 1", ErrInvalidLimit)
	}
	rec, ok := e.store.User(slot)
	if !ok {
		return fmt.Errorf("%w: slot %d", ErrSlotNotFound, slot)
	}

	if limit == nil {
		rec.UsageLimit = nil
	} else {
		v := *limit
		rec.UsageLimit = &v
	}
	e.store.PutUser(rec)
	e.log.Info("usage limit set", zap.Int("slot", slot))
	return e.saveAndKick(ctx)
}

// ResetUsageCount zeroes a slot's use counter.  It does not re-enable a
// user the limit disabled; enabling is explicit.
func (e *Engine) ResetUsageCount(ctx context.Context, slot int) error {
	if err := e.validateSlot(slot); err != nil {
		return err
	}
	rec, ok := e.store.User(slot)
	if !ok {
		return fmt.Errorf("%w: slot %d", ErrSlotNotFound, slot)
	}

	rec.UsageCount = 0
	e.store.PutUser(rec)
	e.log.Info("usage count reset", zap.Int("slot", slot))
	return e.saveAndKick(ctx)
}

// EnableUser marks the slot's code as intended to be active.  It takes
// effect on hardware at the next push.
func (e *Engine) EnableUser(ctx context.Context, slot int) error {
	return e.setStatus(ctx, slot, types.UserStatusEnabled)
}

// DisableUser marks the slot's code as intended to be inactive.  The code
// stays cached for a later re-enable; the hardware keeps it until a push
// clears it.
func (e *Engine) DisableUser(ctx context.Context, slot int) error {
	return e.setStatus(ctx, slot, types.UserStatusDisabled)
}

// SetUserStatus sets the protocol status directly.  AVAILABLE means the
// slot should be freed on the next push.
func (e *Engine) SetUserStatus(ctx context.Context, slot int, status types.UserStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidStatus, int(status))
	}
	return e.setStatus(ctx, slot, status)
}

func (e *Engine) setStatus(ctx context.Context, slot int, status types.UserStatus) error {
	if err := e.validateSlot(slot); err != nil {
		return err
	}
	rec, ok := e.store.User(slot)
	if !ok {
		return fmt.Errorf("%w: slot %d", ErrSlotNotFound, slot)
	}

	rec.CachedStatus = status
	rec.Enabled = status == types.UserStatusEnabled
	recomputeSynced(rec, time.Now().UTC())
	e.store.PutUser(rec)
	e.log.Info("user status set",
		zap.Int("slot", slot), zap.String("status", status.String()))
	return e.saveAndKick(ctx)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

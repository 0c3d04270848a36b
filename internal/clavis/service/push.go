package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BrandonDHaskell/Clavis/server/internal/clavis/types"
)

// PushCode reconciles one slot's intent onto the hardware.  The desired
// hardware state is the enabled flag gated by the schedule window: an
// enabled PIN inside its window is written and verified, anything else is
// cleared and verified.  FOBs inside their window are never written; the
// slot is simply marked synced.
//
// Every failure path persists synced=false before returning, so the
// discrepancy stays visible on the record instead of being lost with the
// error.
func (e *Engine) PushCode(ctx context.Context, slot int) error {
	if err := e.validateSlot(slot); err != nil {
		return err
	}
	rec, ok := e.store.User(slot)
	if !ok {
		return fmt.Errorf("%w: slot %d", ErrSlotNotFound, slot)
	}

	shouldBeOnLock := rec.Enabled && ScheduleValid(rec, time.Now().UTC())

	if shouldBeOnLock && rec.CodeType == types.CodeTypeFOB {
		// Nothing to program; the fob was provisioned at the keypad.
		rec.Synced = true
		e.store.PutUser(rec)
		return e.saveAndNotify(ctx)
	}

	if shouldBeOnLock {
		return e.pushPIN(ctx, rec)
	}
	return e.pushClear(ctx, rec)
}

func (e *Engine) pushPIN(ctx context.Context, rec *types.SlotRecord) error {
	if rec.Code == "" {
		return fmt.Errorf("%w: slot %d has no cached code to push", ErrInvalidCode, rec.Slot)
	}

	e.hwMu.Lock()
	defer e.hwMu.Unlock()

	if err := e.gw.WriteSlot(ctx, rec.Slot, rec.Code, types.UserStatusEnabled); err != nil {
		e.persistUnsynced(ctx, rec)
		return hardwareErr("write", rec.Slot, err)
	}
	if err := e.settle(ctx); err != nil {
		e.persistUnsynced(ctx, rec)
		return err
	}

	ok, last, err := e.verify(ctx, rec.Slot, func(in *types.SlotInfo) bool {
		return in != nil && in.Status == types.UserStatusEnabled && in.Code == rec.Code
	})
	if err != nil {
		e.persistUnsynced(ctx, rec)
		return hardwareErr("verify read", rec.Slot, err)
	}

	rec.CachedStatus = types.UserStatusEnabled
	updateObserved(rec, last, time.Now().UTC())
	e.store.PutUser(rec)

	if !ok {
		if err := e.saveAndNotify(ctx); err != nil {
			return err
		}
		return fmt.Errorf("%w: slot %d: %s", ErrVerificationFailed, rec.Slot, pushMismatch(rec, last))
	}

	e.log.Info("code pushed", zap.Int("slot", rec.Slot))
	return e.saveAndNotify(ctx)
}

// pushClear drives the hardware to AVAILABLE for a slot that should not be
// active right now: disabled, outside its schedule window, or marked
// available.
func (e *Engine) pushClear(ctx context.Context, rec *types.SlotRecord) error {
	e.hwMu.Lock()
	defer e.hwMu.Unlock()

	if err := e.gw.ClearSlot(ctx, rec.Slot); err != nil {
		e.persistUnsynced(ctx, rec)
		return hardwareErr("clear", rec.Slot, err)
	}
	if err := e.settle(ctx); err != nil {
		e.persistUnsynced(ctx, rec)
		return err
	}

	ok, last, err := e.verify(ctx, rec.Slot, func(in *types.SlotInfo) bool {
		return in != nil && in.Status == types.UserStatusAvailable
	})
	if err != nil {
		e.persistUnsynced(ctx, rec)
		return hardwareErr("verify read", rec.Slot, err)
	}

	rec.CachedStatus = types.UserStatusDisabled
	updateObserved(rec, last, time.Now().UTC())
	e.store.PutUser(rec)

	if !ok {
		if err := e.saveAndNotify(ctx); err != nil {
			return err
		}
		return fmt.Errorf("%w: slot %d: clear not confirmed (%s)",
			ErrVerificationFailed, rec.Slot, describeReading(last))
	}

	e.log.Info("code cleared from lock", zap.Int("slot", rec.Slot))
	return e.saveAndNotify(ctx)
}

// verify re-reads slot until want accepts the reading or attempts run out.
// The settle delay has already passed; attempts after the first wait the
// retry delay.  A transport failure aborts immediately; a timeout (nil
// reading) just consumes an attempt.
func (e *Engine) verify(ctx context.Context, slot int, want func(*types.SlotInfo) bool) (bool, *types.SlotInfo, error) {
	var last *types.SlotInfo
	for attempt := 0; attempt < e.cfg.VerifyRetries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, e.cfg.VerifyRetryDelay); err != nil {
				return false, last, err
			}
		}
		info, err := e.gw.ReadSlot(ctx, slot)
		if err != nil {
			return false, last, err
		}
		last = info
		if want(info) {
			return true, info, nil
		}
	}
	return false, last, nil
}

// persistUnsynced records that a hardware operation failed before it could
// be verified: whatever the lock holds now is unknown, the slot is not
// synced, and that fact must survive the error return.
func (e *Engine) persistUnsynced(ctx context.Context, rec *types.SlotRecord) {
	rec.Synced = false
	e.store.PutUser(rec)
	if err := e.store.Save(ctx); err != nil {
		e.log.Warn("save after failed hardware op failed",
			zap.Int("slot", rec.Slot), zap.Error(err))
		return
	}
	e.publish(types.Event{Type: types.EventUsersUpdated})
}

// pushMismatch describes a failed push verification without echoing code
// material into logs or errors.
func pushMismatch(rec *types.SlotRecord, info *types.SlotInfo) string {
	switch {
	case info == nil:
		return "no report from lock"
	case info.Status != types.UserStatusEnabled:
		return "lock reports status " + info.Status.String()
	case info.Code != rec.Code:
		return "lock reports a different code"
	default:
		return "mismatch"
	}
}

package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BrandonDHaskell/Clavis/server/internal/clavis/types"
)

// PullCodes scans every slot and adopts the hardware's view into the cache.
// Pull is the opposite direction from push: hardware wins.  An ENABLED
// reading overwrites a PIN's cached code (the keypad is where codes get
// reprogrammed out from under us); DISABLED preserves the cached code so a
// later re-enable can restore it; AVAILABLE clears the cached code and
// disables the record.  Hardware slots with no local record are adopted
// wholesale, guessing FOB for short or non-numeric codes.
//
// The scan takes the hardware mutex one slot at a time so a user command
// can interleave between slots.  Running a second scan against unchanged
// hardware changes nothing beyond refreshing observed fields.
func (e *Engine) PullCodes(ctx context.Context) (types.PullCounters, error) {
	var counters types.PullCounters

	e.publish(types.Event{Type: types.EventPullStarted})
	e.log.Info("pulling codes from lock", zap.Int("slots", e.cfg.Slots))

	now := time.Now().UTC()
	for slot := 1; slot <= e.cfg.Slots; slot++ {
		e.hwMu.Lock()
		info, err := e.gw.ReadSlot(ctx, slot)
		e.hwMu.Unlock()
		if err != nil {
			// Keep whatever the scan learned so far.
			if saveErr := e.store.Save(ctx); saveErr != nil {
				e.log.Warn("partial pull save failed", zap.Error(saveErr))
			}
			return counters, hardwareErr("read", slot, err)
		}
		counters.Scanned++

		e.applyPulled(slot, info, now, &counters)

		progress := counters
		e.publish(types.Event{Type: types.EventPullProgress, Slot: slot, Pull: &progress})
	}

	if err := e.store.Save(ctx); err != nil {
		return counters, err
	}
	final := counters
	e.publish(types.Event{Type: types.EventPullCompleted, Pull: &final})
	e.publish(types.Event{Type: types.EventUsersUpdated})
	e.log.Info("pull complete",
		zap.Int("scanned", counters.Scanned), zap.Int("found", counters.Found),
		zap.Int("new", counters.New), zap.Int("updated", counters.Updated))
	return counters, nil
}

// applyPulled merges one slot reading into the cache, counting adopted and
// changed records.  The merge rules are documented on PullCodes.
func (e *Engine) applyPulled(slot int, info *types.SlotInfo, now time.Time, c *types.PullCounters) {
	rec, exists := e.store.User(slot)

	if info == nil {
		// Unknown reading.  An existing record can no longer claim sync.
		if exists {
			rec.Synced = false
			e.store.PutUser(rec)
		}
		return
	}

	if info.Status == types.UserStatusAvailable {
		if !exists {
			return
		}
		if rec.Code != "" {
			c.Updated++
		}
		rec.Code = ""
		rec.Enabled = false
		rec.CachedStatus = types.UserStatusDisabled
		updateObserved(rec, info, now)
		e.store.PutUser(rec)
		return
	}

	c.Found++

	if !exists {
		rec = &types.SlotRecord{
			Slot:         slot,
			Name:         fmt.Sprintf("User %d", slot),
			CodeType:     guessCodeType(info.Code, e.cfg.MinCodeLength),
			Enabled:      info.Status == types.UserStatusEnabled,
			CachedStatus: info.Status,
		}
		if rec.CodeType == types.CodeTypePIN {
			rec.Code = info.Code
		}
		updateObserved(rec, info, now)
		e.store.PutUser(rec)
		c.New++
		return
	}

	if rec.CodeType == types.CodeTypePIN && info.Status == types.UserStatusEnabled &&
		info.Code != "" && info.Code != rec.Code {
		rec.Code = info.Code
		c.Updated++
	}
	updateObserved(rec, info, now)
	e.store.PutUser(rec)
}

// guessCodeType infers FOB for codes a keypad could not hold as a PIN:
// non-numeric bytes, or fewer digits than the minimum PIN length.  An empty
// code stays PIN; some locks report enabled slots without code bytes.
func guessCodeType(code string, minLen int) types.CodeType {
	if code == "" {
		return types.CodeTypePIN
	}
	if len(code) < minLen {
		return types.CodeTypeFOB
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return types.CodeTypeFOB
		}
	}
	return types.CodeTypePIN
}

// CheckSync refreshes one slot's observed fields from hardware without
// touching cached intent, and returns the refreshed record.
func (e *Engine) CheckSync(ctx context.Context, slot int) (*types.SlotRecord, error) {
	if err := e.validateSlot(slot); err != nil {
		return nil, err
	}
	rec, ok := e.store.User(slot)
	if !ok {
		return nil, fmt.Errorf("%w: slot %d", ErrSlotNotFound, slot)
	}

	e.hwMu.Lock()
	info, err := e.gw.ReadSlot(ctx, slot)
	e.hwMu.Unlock()
	if err != nil {
		return nil, hardwareErr("read", slot, err)
	}

	updateObserved(rec, info, time.Now().UTC())
	e.store.PutUser(rec)
	if err := e.saveAndNotify(ctx); err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

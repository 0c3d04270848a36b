package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BrandonDHaskell/Clavis/server/internal/clavis/store"
	"github.com/BrandonDHaskell/Clavis/server/internal/clavis/types"
	"github.com/BrandonDHaskell/Clavis/server/internal/gateway"
)

// LockGateway is the hardware surface the engine drives.  Writes are
// fire-and-forget: a nil error means the gateway accepted the command, not
// that the lock applied it.  Reads return (nil, nil) when no report arrived
// in time; the engine treats that as unknown, never as empty.
type LockGateway interface {
	ReadSlot(ctx context.Context, slot int) (*types.SlotInfo, error)
	WriteSlot(ctx context.Context, slot int, code string, status types.UserStatus) error
	ClearSlot(ctx context.Context, slot int) error
}

// EventSink receives outbound notifications.  Publish must not block.
type EventSink interface {
	Publish(ev types.Event)
}

// EngineConfig bounds slot numbers, code shape and the write-verify cycle.
type EngineConfig struct {
	// Slots is the number of user code slots on the lock.
	Slots int

	// MinCodeLength and MaxCodeLength bound PIN length in digits.  The
	// minimum also feeds the code type heuristic during a pull.
	MinCodeLength int
	MaxCodeLength int

	// SettleDelay is the wait between a hardware write and the first
	// verification read.  The lock needs time to commit a slot before a
	// read-back reports the new value.
	SettleDelay time.Duration

	// VerifyRetries is how many read-backs a push attempts before giving
	// up; VerifyRetryDelay is the wait between attempts.
	VerifyRetries    int
	VerifyRetryDelay time.Duration
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.Slots <= 0 {
		c.Slots = 20
	}
	if c.MinCodeLength <= 0 {
		c.MinCodeLength = 4
	}
	if c.MaxCodeLength <= 0 {
		c.MaxCodeLength = 10
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = 2 * time.Second
	}
	if c.VerifyRetries <= 0 {
		c.VerifyRetries = 3
	}
	if c.VerifyRetryDelay <= 0 {
		c.VerifyRetryDelay = time.Second
	}
	return c
}

// Engine reconciles cached slot intent against one lock's hardware state.
// It is the only mutator of the lock's document: the poller, the alarm
// router and the HTTP handlers all go through its methods.
//
// hwMu serializes hardware access.  The read path correlates commands with
// asynchronous reports, so at most one slot operation may be in flight per
// lock.  A pull holds the mutex slot by slot, letting user commands
// interleave between slots of a long scan.
type Engine struct {
	cfg    EngineConfig
	store  *store.Store
	gw     LockGateway
	events EventSink
	audit  store.AccessLog
	log    *zap.Logger

	hwMu sync.Mutex

	refreshMu sync.RWMutex
	refresh   func()
}

func NewEngine(cfg EngineConfig, st *store.Store, gw LockGateway, events EventSink, audit store.AccessLog, log *zap.Logger) *Engine {
	return &Engine{
		cfg:    cfg.withDefaults(),
		store:  st,
		gw:     gw,
		events: events,
		audit:  audit,
		log:    log,
	}
}

func (e *Engine) LockID() string { return e.store.LockID() }

// SetRefreshFunc installs a callback that nudges the reconcile loop so an
// intent change takes effect without waiting out the scan interval.
func (e *Engine) SetRefreshFunc(fn func()) {
	e.refreshMu.Lock()
	e.refresh = fn
	e.refreshMu.Unlock()
}

func (e *Engine) kickRefresh() {
	e.refreshMu.RLock()
	fn := e.refresh
	e.refreshMu.RUnlock()
	if fn != nil {
		fn()
	}
}

// Slots returns the configured slot count.
func (e *Engine) Slots() int { return e.cfg.Slots }

// User returns a copy of the record in slot.
func (e *Engine) User(slot int) (*types.SlotRecord, bool) { return e.store.User(slot) }

// Users returns copies of all records ordered by slot.
func (e *Engine) Users() []types.SlotRecord { return e.store.Users() }

// Export returns a deep copy of the persisted document.
func (e *Engine) Export() *types.LockDocument { return e.store.Export() }

// History returns the most recent access records, newest first.
func (e *Engine) History(ctx context.Context, limit int) ([]store.AccessRecord, error) {
	if e.audit == nil {
		return nil, nil
	}
	return e.audit.Recent(ctx, e.store.LockID(), limit)
}

func (e *Engine) validateSlot(slot int) error {
	if slot < 1 || slot > e.cfg.Slots {
		return fmt.Errorf("%w: slot %d not in 1..%d", ErrOutOfRange, slot, e.cfg.Slots)
	}
	return nil
}

func (e *Engine) validatePIN(code string) error {
	if len(code) < e.cfg.MinCodeLength || len(code) > e.cfg.MaxCodeLength {
		return fmt.Errorf("%w: pin must be %d to %d digits",
			ErrInvalidCode, e.cfg.MinCodeLength, e.cfg.MaxCodeLength)
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return fmt.Errorf("%w: pin must be digits only", ErrInvalidCode)
		}
	}
	return nil
}

func (e *Engine) publish(ev types.Event) {
	if e.events == nil {
		return
	}
	ev.LockID = e.store.LockID()
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	e.events.Publish(ev)
}

// saveAndNotify persists the document, then tells listeners the slot table
// changed.  Listeners only ever observe state that is already durable.
func (e *Engine) saveAndNotify(ctx context.Context) error {
	if err := e.store.Save(ctx); err != nil {
		return err
	}
	e.publish(types.Event{Type: types.EventUsersUpdated})
	return nil
}

// saveAndKick persists like saveAndNotify, then nudges the reconcile loop.
// Only intent mutations use it; hardware-result paths must not, or a
// persistently failing push would re-trigger itself.
func (e *Engine) saveAndKick(ctx context.Context) error {
	if err := e.saveAndNotify(ctx); err != nil {
		return err
	}
	e.kickRefresh()
	return nil
}

// recordAccess appends the operation to the history log.  Errors are
// intentionally not returned to the caller: a failed history write must not
// turn a physical access that already happened into a command failure.
func (e *Engine) recordAccess(ctx context.Context, rec store.AccessRecord) {
	if e.audit == nil {
		return
	}
	rec.LockID = e.store.LockID()
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = time.Now().UTC()
	}
	_ = e.audit.Append(ctx, rec)
}

// hardwareErr maps transport failures onto the engine's error taxonomy.
func hardwareErr(op string, slot int, err error) error {
	if errors.Is(err, gateway.ErrAckTimeout) {
		return fmt.Errorf("%w: %s slot %d: %v", ErrHardwareTimeout, op, slot, err)
	}
	return fmt.Errorf("%w: %s slot %d: %v", ErrHardware, op, slot, err)
}

// settle waits the configured delay between a write and its read-back.
func (e *Engine) settle(ctx context.Context) error {
	return sleepCtx(ctx, e.cfg.SettleDelay)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func describeReading(info *types.SlotInfo) string {
	if info == nil {
		return "no report"
	}
	if info.Code == "" {
		return info.Status.String()
	}
	return info.Status.String() + " with a code"
}

// SetCodeParams carries the intent fields for SetCode.  Status is optional;
// when nil the record is enabled.
type SetCodeParams struct {
	Slot     int
	Name     string
	Code     string
	CodeType types.CodeType
	Override bool
	Status   *types.UserStatus
}

// SetCode creates or updates a slot's intent without programming hardware,
// except for the ownership probe: writing over a slot the store has no
// record of requires the hardware to report it AVAILABLE, unless Override
// is set.  Schedule, usage and observed-lock fields survive an update:
// intent changed, hardware truth did not.
func (e *Engine) SetCode(ctx context.Context, p SetCodeParams) error {
	if err := e.validateSlot(p.Slot); err != nil {
		return err
	}

	ct := p.CodeType
	if ct == "" {
		ct = types.CodeTypePIN
	}
	switch ct {
	case types.CodeTypePIN:
		if err := e.validatePIN(p.Code); err != nil {
			return err
		}
	case types.CodeTypeFOB:
		// Fob codes live on the keypad, never in the cache.
		p.Code = ""
	default:
		return fmt.Errorf("%w: unknown code type %q", ErrInvalidCode, p.CodeType)
	}
	if p.Status != nil && !p.Status.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidStatus, int(*p.Status))
	}

	if !p.Override {
		safe, err := e.IsSafeToWrite(ctx, p.Slot)
		if err != nil {
			return err
		}
		if !safe {
			return fmt.Errorf("%w: slot %d", ErrSlotOccupied, p.Slot)
		}
	}

	rec, ok := e.store.User(p.Slot)
	if !ok {
		rec = &types.SlotRecord{Slot: p.Slot}
	}
	rec.Name = p.Name
	rec.CodeType = ct
	rec.Code = p.Code
	rec.Enabled = true
	rec.CachedStatus = types.UserStatusEnabled
	if p.Status != nil {
		rec.CachedStatus = *p.Status
		rec.Enabled = *p.Status == types.UserStatusEnabled
	}
	recomputeSynced(rec, time.Now().UTC())
	e.store.PutUser(rec)

	e.log.Info("user code set",
		zap.Int("slot", p.Slot), zap.String("name", p.Name), zap.String("type", string(ct)))
	return e.saveAndKick(ctx)
}

// IsSafeToWrite reports whether writing slot would clobber a code this
// system does not manage.  The hardware is asked first, read-through: an
// AVAILABLE report means the slot is free.  Otherwise the slot is safe only
// if a local record exists, enabled or not.  An unknown reading falls
// through to the local check, which is the conservative side: without a
// record and without proof the slot is free, it is not safe.
func (e *Engine) IsSafeToWrite(ctx context.Context, slot int) (bool, error) {
	if err := e.validateSlot(slot); err != nil {
		return false, err
	}

	e.hwMu.Lock()
	info, err := e.gw.ReadSlot(ctx, slot)
	e.hwMu.Unlock()
	if err != nil {
		return false, hardwareErr("read", slot, err)
	}

	if info != nil && info.Status == types.UserStatusAvailable {
		return true, nil
	}
	if _, ok := e.store.User(slot); ok {
		return true, nil
	}
	return false, nil
}

// ClearCode frees a slot on the hardware: clear command, settle, one
// verification read.  Local handling depends on dropRecord: true removes
// the record entirely (a manual clear means forget the user), false keeps
// the record but marks it cleared and disabled.  An unconfirmed clear logs
// a warning and flags the record unsynced rather than recording a clear
// that may not have happened.
func (e *Engine) ClearCode(ctx context.Context, slot int, dropRecord bool) error {
	if err := e.validateSlot(slot); err != nil {
		return err
	}

	e.hwMu.Lock()
	defer e.hwMu.Unlock()

	if err := e.gw.ClearSlot(ctx, slot); err != nil {
		return hardwareErr("clear", slot, err)
	}
	if err := e.settle(ctx); err != nil {
		return err
	}

	info, err := e.gw.ReadSlot(ctx, slot)
	confirmed := err == nil && info != nil && info.Status == types.UserStatusAvailable
	if !confirmed {
		if err != nil {
			e.log.Warn("clear verification read failed", zap.Int("slot", slot), zap.Error(err))
		} else {
			e.log.Warn("clear not confirmed, slot may still hold a code",
				zap.Int("slot", slot), zap.String("observed", describeReading(info)))
		}
		if rec, ok := e.store.User(slot); ok {
			e.persistUnsynced(ctx, rec)
		}
		return nil
	}

	rec, ok := e.store.User(slot)
	if !ok {
		return nil
	}
	if dropRecord {
		e.store.DeleteUser(slot)
		e.log.Info("user code cleared, record dropped", zap.Int("slot", slot))
		return e.saveAndNotify(ctx)
	}

	rec.Enabled = false
	rec.CachedStatus = types.UserStatusDisabled
	updateObserved(rec, info, time.Now().UTC())
	e.store.PutUser(rec)
	e.log.Info("user code cleared", zap.Int("slot", slot))
	return e.saveAndNotify(ctx)
}

// ClearCache drops every slot record while keeping the document wrapper.
// Hardware is untouched; a later pull rebuilds the table from the lock.
func (e *Engine) ClearCache(ctx context.Context) error {
	e.store.Clear()
	e.log.Info("local slot cache cleared")
	return e.saveAndKick(ctx)
}

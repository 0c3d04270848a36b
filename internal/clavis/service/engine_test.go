package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/BrandonDHaskell/Clavis/server/internal/clavis/service"
	"github.com/BrandonDHaskell/Clavis/server/internal/clavis/store"
	"github.com/BrandonDHaskell/Clavis/server/internal/clavis/store/memory"
	"github.com/BrandonDHaskell/Clavis/server/internal/clavis/types"
)

// fakeGateway scripts the hardware side: an in-memory slot table, per-slot
// timeouts and injectable transport failures.  dropWrites accepts write and
// clear commands without applying them, which is what a lock that silently
// refuses a code looks like from here.
type fakeGateway struct {
	mu         sync.Mutex
	slots      map[int]types.SlotInfo
	timeouts   map[int]bool
	dropWrites bool
	failReadAt int
	readErr    error
	writeErr   error
	clearErr   error
	reads      int
	writes     int
	clears     int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		slots:    make(map[int]types.SlotInfo),
		timeouts: make(map[int]bool),
	}
}

func (g *fakeGateway) set(slot int, status types.UserStatus, code string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.slots[slot] = types.SlotInfo{Status: status, Code: code}
}

func (g *fakeGateway) setTimeout(slot int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.timeouts[slot] = true
}

func (g *fakeGateway) ReadSlot(_ context.Context, slot int) (*types.SlotInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reads++
	// readErr fails every read, or just one slot when failReadAt is set.
	if g.readErr != nil && (g.failReadAt == 0 || slot == g.failReadAt) {
		return nil, g.readErr
	}
	if g.timeouts[slot] {
		return nil, nil
	}
	info, ok := g.slots[slot]
	if !ok {
		return &types.SlotInfo{Status: types.UserStatusAvailable}, nil
	}
	out := info
	return &out, nil
}

func (g *fakeGateway) WriteSlot(_ context.Context, slot int, code string, status types.UserStatus) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.writes++
	if g.writeErr != nil {
		return g.writeErr
	}
	if !g.dropWrites {
		g.slots[slot] = types.SlotInfo{Status: status, Code: code}
	}
	return nil
}

func (g *fakeGateway) ClearSlot(_ context.Context, slot int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.clears++
	if g.clearErr != nil {
		return g.clearErr
	}
	if !g.dropWrites {
		g.slots[slot] = types.SlotInfo{Status: types.UserStatusAvailable}
	}
	return nil
}

func (g *fakeGateway) counts() (reads, writes, clears int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reads, g.writes, g.clears
}

func (g *fakeGateway) slot(slot int) (types.SlotInfo, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	info, ok := g.slots[slot]
	return info, ok
}

// sinkRecorder captures published events for inspection.
type sinkRecorder struct {
	mu     sync.Mutex
	events []types.Event
}

func (s *sinkRecorder) Publish(ev types.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *sinkRecorder) byType(t types.EventType) []types.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.Event
	for _, ev := range s.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type engineFixture struct {
	eng   *service.Engine
	gw    *fakeGateway
	sink  *sinkRecorder
	audit *memory.AccessLog
}

// newTestEngine builds an engine on memory stores with millisecond
// settle/retry timing, returning the fixture with the scriptable gateway,
// the event sink and the access log for inspection.
func newTestEngine(t *testing.T) *engineFixture {
	t.Helper()

	gw := newFakeGateway()
	sink := &sinkRecorder{}
	audit := memory.NewAccessLog()

	st := store.New(memory.NewDocumentBackend(), "front-door", zap.NewNop())
	st.Load(context.Background())

	eng := service.NewEngine(service.EngineConfig{
		Slots:            10,
		SettleDelay:      time.Millisecond,
		VerifyRetries:    3,
		VerifyRetryDelay: time.Millisecond,
	}, st, gw, sink, audit, zap.NewNop())

	return &engineFixture{eng: eng, gw: gw, sink: sink, audit: audit}
}

func mustSetCode(t *testing.T, fx *engineFixture, slot int, code, name string) {
	t.Helper()
	err := fx.eng.SetCode(context.Background(), service.SetCodeParams{
		Slot: slot, Name: name, Code: code,
	})
	if err != nil {
		t.Fatalf("SetCode slot %d: %v", slot, err)
	}
}

func mustPush(t *testing.T, fx *engineFixture, slot int) {
	t.Helper()
	if err := fx.eng.PushCode(context.Background(), slot); err != nil {
		t.Fatalf("PushCode slot %d: %v", slot, err)
	}
}

func user(t *testing.T, fx *engineFixture, slot int) *types.SlotRecord {
	t.Helper()
	rec, ok := fx.eng.User(slot)
	if !ok {
		t.Fatalf("no record in slot %d", slot)
	}
	return rec
}

// ── SetCode ──────────────────────────────────────────────────────────────────

func TestSetCode_NewUserStartsUnsynced(t *testing.T) {
	fx := newTestEngine(t)
	mustSetCode(t, fx, 3, "2580", "alice")

	rec := user(t, fx, 3)
	if rec.Name != "alice" || rec.Code != "2580" {
		t.Errorf("unexpected record: %+v", rec)
	}
	if rec.CodeType != types.CodeTypePIN {
		t.Errorf("expected pin, got %q", rec.CodeType)
	}
	if !rec.Enabled {
		t.Error("expected enabled")
	}
	if rec.Synced {
		t.Error("nothing was pushed, record must not claim sync")
	}

	// Setting intent never programs hardware.
	_, writes, clears := fx.gw.counts()
	if writes != 0 || clears != 0 {
		t.Errorf("expected no hardware writes, got writes=%d clears=%d", writes, clears)
	}
}

func TestSetCode_RejectsBadPINs(t *testing.T) {
	fx := newTestEngine(t)
	ctx := context.Background()

	for _, code := range []string{"12", "12345678901", "12a4", ""} {
		err := fx.eng.SetCode(ctx, service.SetCodeParams{Slot: 3, Name: "x", Code: code})
		if !errors.Is(err, service.ErrInvalidCode) {
			t.Errorf("code %q: expected ErrInvalidCode, got %v", code, err)
		}
	}
}

func TestSetCode_RejectsOutOfRangeSlot(t *testing.T) {
	fx := newTestEngine(t)
	ctx := context.Background()

	for _, slot := range []int{0, -1, 11} {
		err := fx.eng.SetCode(ctx, service.SetCodeParams{Slot: slot, Name: "x", Code: "2580"})
		if !errors.Is(err, service.ErrOutOfRange) {
			t.Errorf("slot %d: expected ErrOutOfRange, got %v", slot, err)
		}
	}
}

func TestSetCode_OccupiedSlotNeedsOverride(t *testing.T) {
	fx := newTestEngine(t)
	ctx := context.Background()
	fx.gw.set(4, types.UserStatusEnabled, "9999")

	err := fx.eng.SetCode(ctx, service.SetCodeParams{Slot: 4, Name: "bob", Code: "2580"})
	if !errors.Is(err, service.ErrSlotOccupied) {
		t.Fatalf("expected ErrSlotOccupied, got %v", err)
	}

	err = fx.eng.SetCode(ctx, service.SetCodeParams{Slot: 4, Name: "bob", Code: "2580", Override: true})
	if err != nil {
		t.Fatalf("override: %v", err)
	}
	if user(t, fx, 4).Code != "2580" {
		t.Error("override did not store the intent")
	}
}

func TestSetCode_OwnSlotIsSafeToUpdate(t *testing.T) {
	fx := newTestEngine(t)
	mustSetCode(t, fx, 3, "2580", "alice")
	mustPush(t, fx, 3)

	// The hardware now holds alice's code; updating her slot is not a clobber.
	mustSetCode(t, fx, 3, "1379", "alice")
	if got := user(t, fx, 3).Code; got != "1379" {
		t.Errorf("expected updated code, got %q", got)
	}
}

func TestSetCode_UnknownReadingIsNotSafe(t *testing.T) {
	fx := newTestEngine(t)
	fx.gw.setTimeout(5)

	err := fx.eng.SetCode(context.Background(), service.SetCodeParams{Slot: 5, Name: "x", Code: "2580"})
	if !errors.Is(err, service.ErrSlotOccupied) {
		t.Fatalf("no record and no proof the slot is free: expected ErrSlotOccupied, got %v", err)
	}
}

func TestSetCode_UpdatePreservesScheduleAndUsage(t *testing.T) {
	fx := newTestEngine(t)
	ctx := context.Background()
	mustSetCode(t, fx, 3, "2580", "alice")

	start := time.Now().UTC().Add(-time.Hour)
	end := time.Now().UTC().Add(time.Hour)
	if err := fx.eng.SetSchedule(ctx, 3, &start, &end); err != nil {
		t.Fatalf("SetSchedule: %v", err)
	}
	limit := 5
	if err := fx.eng.SetUsageLimit(ctx, 3, &limit); err != nil {
		t.Fatalf("SetUsageLimit: %v", err)
	}
	if err := fx.eng.ApplyAccessEvent(ctx, 3, types.AccessMethodPIN); err != nil {
		t.Fatalf("ApplyAccessEvent: %v", err)
	}

	mustSetCode(t, fx, 3, "1379", "alice")

	rec := user(t, fx, 3)
	if rec.ScheduleStart == nil || rec.ScheduleEnd == nil {
		t.Error("schedule lost on code update")
	}
	if rec.UsageLimit == nil || *rec.UsageLimit != 5 {
		t.Errorf("usage limit lost on code update: %+v", rec.UsageLimit)
	}
	if rec.UsageCount != 1 {
		t.Errorf("usage count lost on code update: %d", rec.UsageCount)
	}
}

func TestSetCode_FobNeverCachesCode(t *testing.T) {
	fx := newTestEngine(t)

	err := fx.eng.SetCode(context.Background(), service.SetCodeParams{
		Slot: 6, Name: "fob", Code: "whatever", CodeType: types.CodeTypeFOB,
	})
	if err != nil {
		t.Fatalf("SetCode: %v", err)
	}
	rec := user(t, fx, 6)
	if rec.Code != "" {
		t.Errorf("fob code must not be cached, got %q", rec.Code)
	}
	if rec.CodeType != types.CodeTypeFOB {
		t.Errorf("expected fob, got %q", rec.CodeType)
	}
}

// ── IsSafeToWrite ────────────────────────────────────────────────────────────

func TestIsSafeToWrite(t *testing.T) {
	fx := newTestEngine(t)
	ctx := context.Background()

	fx.gw.set(2, types.UserStatusEnabled, "9999") // unmanaged code
	fx.gw.setTimeout(3)                           // unknown reading
	mustSetCode(t, fx, 4, "2580", "ours")         // managed record, hardware free
	fx.gw.set(4, types.UserStatusEnabled, "2580")

	cases := []struct {
		name string
		slot int
		want bool
	}{
		{"hardware available", 1, true},
		{"occupied without record", 2, false},
		{"unknown without record", 3, false},
		{"occupied with record", 4, true},
	}
	for _, tc := range cases {
		safe, err := fx.eng.IsSafeToWrite(ctx, tc.slot)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if safe != tc.want {
			t.Errorf("%s: expected safe=%v, got %v", tc.name, tc.want, safe)
		}
	}
}

func TestIsSafeToWrite_ReadFailure(t *testing.T) {
	fx := newTestEngine(t)
	fx.gw.readErr = errors.New("socket closed")

	_, err := fx.eng.IsSafeToWrite(context.Background(), 1)
	if !errors.Is(err, service.ErrHardware) {
		t.Fatalf("expected ErrHardware, got %v", err)
	}
}

// ── ClearCode ────────────────────────────────────────────────────────────────

func TestClearCode_DropsRecord(t *testing.T) {
	fx := newTestEngine(t)
	mustSetCode(t, fx, 3, "2580", "alice")
	mustPush(t, fx, 3)

	if err := fx.eng.ClearCode(context.Background(), 3, true); err != nil {
		t.Fatalf("ClearCode: %v", err)
	}

	if _, ok := fx.eng.User(3); ok {
		t.Error("record should be gone after a dropping clear")
	}
	info, ok := fx.gw.slot(3)
	if !ok || info.Status != types.UserStatusAvailable {
		t.Errorf("hardware not cleared: %+v", info)
	}
}

func TestClearCode_KeepLocalDisablesRecord(t *testing.T) {
	fx := newTestEngine(t)
	mustSetCode(t, fx, 3, "2580", "alice")
	mustPush(t, fx, 3)

	if err := fx.eng.ClearCode(context.Background(), 3, false); err != nil {
		t.Fatalf("ClearCode: %v", err)
	}

	rec := user(t, fx, 3)
	if rec.Enabled {
		t.Error("expected disabled after clear")
	}
	if rec.Code != "2580" {
		t.Errorf("cached code must survive a keep-local clear, got %q", rec.Code)
	}
	if !rec.Synced {
		t.Error("disabled intent with an available slot is in sync")
	}
}

func TestClearCode_UnconfirmedKeepsRecordUnsynced(t *testing.T) {
	fx := newTestEngine(t)
	mustSetCode(t, fx, 3, "2580", "alice")
	mustPush(t, fx, 3)

	// The lock acknowledges the clear but keeps the code.
	fx.gw.dropWrites = true

	if err := fx.eng.ClearCode(context.Background(), 3, true); err != nil {
		t.Fatalf("ClearCode: %v", err)
	}

	rec, ok := fx.eng.User(3)
	if !ok {
		t.Fatal("an unconfirmed clear must not drop the record")
	}
	if rec.Synced {
		t.Error("slot may still hold the code, record must not claim sync")
	}
}

// ── ClearCache ───────────────────────────────────────────────────────────────

func TestClearCache_DropsAllRecordsKeepsHardware(t *testing.T) {
	fx := newTestEngine(t)
	mustSetCode(t, fx, 2, "2580", "alice")
	mustSetCode(t, fx, 3, "1379", "bob")
	mustPush(t, fx, 2)

	if err := fx.eng.ClearCache(context.Background()); err != nil {
		t.Fatalf("ClearCache: %v", err)
	}

	if n := len(fx.eng.Users()); n != 0 {
		t.Errorf("expected empty cache, got %d records", n)
	}
	info, _ := fx.gw.slot(2)
	if info.Status != types.UserStatusEnabled || info.Code != "2580" {
		t.Errorf("cache clear must not touch hardware: %+v", info)
	}
}

package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/BrandonDHaskell/Clavis/server/internal/clavis/service"
	"github.com/BrandonDHaskell/Clavis/server/internal/clavis/types"
)

func TestApplyAccessEvent_CountsAndRecords(t *testing.T) {
	fx := newTestEngine(t)
	ctx := context.Background()
	mustSetCode(t, fx, 3, "2580", "alice")

	if err := fx.eng.ApplyAccessEvent(ctx, 3, types.AccessMethodPIN); err != nil {
		t.Fatalf("ApplyAccessEvent: %v", err)
	}

	rec := user(t, fx, 3)
	if rec.UsageCount != 1 {
		t.Errorf("expected count 1, got %d", rec.UsageCount)
	}
	if rec.LastUsed == nil {
		t.Error("expected last_used set")
	}

	recs := fx.audit.Records()
	if len(recs) != 1 {
		t.Fatalf("expected 1 history record, got %d", len(recs))
	}
	if recs[0].Slot != 3 || recs[0].UserName != "alice" || recs[0].Method != types.AccessMethodPIN {
		t.Errorf("unexpected history record: %+v", recs[0])
	}
	if recs[0].UsageCount != 1 {
		t.Errorf("history should carry the count after the use, got %d", recs[0].UsageCount)
	}

	if n := len(fx.sink.byType(types.EventAccess)); n != 1 {
		t.Errorf("expected 1 access event, got %d", n)
	}
	if n := len(fx.sink.byType(types.EventUnlocked)); n != 1 {
		t.Errorf("expected 1 unlocked event, got %d", n)
	}
}

func TestApplyAccessEvent_LimitReachedDisables(t *testing.T) {
	fx := newTestEngine(t)
	ctx := context.Background()
	mustSetCode(t, fx, 3, "2580", "alice")
	limit := 2
	if err := fx.eng.SetUsageLimit(ctx, 3, &limit); err != nil {
		t.Fatalf("SetUsageLimit: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := fx.eng.ApplyAccessEvent(ctx, 3, types.AccessMethodPIN); err != nil {
			t.Fatalf("use %d: %v", i+1, err)
		}
	}

	rec := user(t, fx, 3)
	if rec.Enabled {
		t.Error("expected the user disabled at the limit")
	}
	if rec.UsageCount != 2 {
		t.Errorf("expected count 2, got %d", rec.UsageCount)
	}
	hits := fx.sink.byType(types.EventUsageLimitReached)
	if len(hits) != 1 {
		t.Fatalf("expected 1 usage_limit_reached, got %d", len(hits))
	}
	if hits[0].Slot != 3 || hits[0].UsageCount != 2 {
		t.Errorf("unexpected event: %+v", hits[0])
	}
}

func TestApplyAccessEvent_DisabledUserNotCounted(t *testing.T) {
	fx := newTestEngine(t)
	ctx := context.Background()
	mustSetCode(t, fx, 3, "2580", "alice")
	limit := 1
	if err := fx.eng.SetUsageLimit(ctx, 3, &limit); err != nil {
		t.Fatalf("SetUsageLimit: %v", err)
	}

	// First use hits the limit; the second happens anyway because the code
	// is still on the hardware until a push clears it.
	for i := 0; i < 2; i++ {
		if err := fx.eng.ApplyAccessEvent(ctx, 3, types.AccessMethodPIN); err != nil {
			t.Fatalf("use %d: %v", i+1, err)
		}
	}

	rec := user(t, fx, 3)
	if rec.UsageCount != 1 {
		t.Errorf("a disabled user's use must not count, got %d", rec.UsageCount)
	}

	// Both uses are visible in history and on the stream.
	if n := len(fx.audit.Records()); n != 2 {
		t.Errorf("expected 2 history records, got %d", n)
	}
	if n := len(fx.sink.byType(types.EventAccess)); n != 2 {
		t.Errorf("expected 2 access events, got %d", n)
	}
}

func TestApplyAccessEvent_ExpiredScheduleReported(t *testing.T) {
	fx := newTestEngine(t)
	ctx := context.Background()
	mustSetCode(t, fx, 3, "2580", "alice")
	end := time.Now().UTC().Add(-time.Hour)
	if err := fx.eng.SetSchedule(ctx, 3, nil, &end); err != nil {
		t.Fatalf("SetSchedule: %v", err)
	}

	if err := fx.eng.ApplyAccessEvent(ctx, 3, types.AccessMethodPIN); err != nil {
		t.Fatalf("ApplyAccessEvent: %v", err)
	}

	if got := user(t, fx, 3).UsageCount; got != 0 {
		t.Errorf("an out-of-window use must not count, got %d", got)
	}
	expired := fx.sink.byType(types.EventCodeExpired)
	if len(expired) != 1 {
		t.Fatalf("expected 1 code_expired event, got %d", len(expired))
	}
	if expired[0].Slot != 3 || expired[0].UserName != "alice" {
		t.Errorf("unexpected event: %+v", expired[0])
	}
}

func TestApplyAccessEvent_UnknownSlotDropped(t *testing.T) {
	fx := newTestEngine(t)

	if err := fx.eng.ApplyAccessEvent(context.Background(), 3, types.AccessMethodPIN); err != nil {
		t.Fatalf("an unknown slot is not an error: %v", err)
	}
	if n := len(fx.audit.Records()); n != 0 {
		t.Errorf("expected no history, got %d records", n)
	}
}

func TestApplyAccessEvent_FobRecordCorrectsMethod(t *testing.T) {
	fx := newTestEngine(t)
	ctx := context.Background()
	err := fx.eng.SetCode(ctx, service.SetCodeParams{Slot: 6, Name: "fob", CodeType: types.CodeTypeFOB})
	if err != nil {
		t.Fatalf("SetCode: %v", err)
	}

	// Keypad alarms cannot tell a fob from a pin; the record can.
	if err := fx.eng.ApplyAccessEvent(ctx, 6, types.AccessMethodPIN); err != nil {
		t.Fatalf("ApplyAccessEvent: %v", err)
	}

	recs := fx.audit.Records()
	if len(recs) != 1 || recs[0].Method != types.AccessMethodFOB {
		t.Fatalf("expected fob method in history, got %+v", recs)
	}
}

func TestNoteLockOperation(t *testing.T) {
	fx := newTestEngine(t)

	fx.eng.NoteLockOperation(context.Background(), types.EventLocked, types.AccessMethodManual)

	recs := fx.audit.Records()
	if len(recs) != 1 || recs[0].Method != types.AccessMethodManual {
		t.Fatalf("unexpected history: %+v", recs)
	}
	locked := fx.sink.byType(types.EventLocked)
	if len(locked) != 1 || locked[0].Method != types.AccessMethodManual {
		t.Fatalf("unexpected events: %+v", locked)
	}
}

package service_test

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/BrandonDHaskell/Clavis/server/internal/clavis/service"
	"github.com/BrandonDHaskell/Clavis/server/internal/clavis/store"
	"github.com/BrandonDHaskell/Clavis/server/internal/clavis/store/memory"
	"github.com/BrandonDHaskell/Clavis/server/internal/clavis/types"
)

func TestAccessLogPruner_DisabledWhenRetentionZero(t *testing.T) {
	log := memory.NewAccessLog()
	pruner := service.NewAccessLogPruner(log, service.PrunerConfig{
		RetentionDays: 0,
		IntervalHours: 1,
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pruner.Start(ctx)
	// Stop should return immediately without error.
	pruner.Stop()
}

func TestAccessLogPruner_PrunesOldRecords(t *testing.T) {
	log := memory.NewAccessLog()
	ctx := context.Background()

	old := store.AccessRecord{
		LockID:     "front-door",
		Slot:       3,
		Method:     types.AccessMethodPIN,
		OccurredAt: time.Now().UTC().AddDate(0, 0, -40),
	}
	recent := store.AccessRecord{
		LockID:     "front-door",
		Slot:       3,
		Method:     types.AccessMethodPIN,
		OccurredAt: time.Now().UTC().AddDate(0, 0, -1),
	}
	if err := log.Append(ctx, old); err != nil {
		t.Fatalf("append old: %v", err)
	}
	if err := log.Append(ctx, recent); err != nil {
		t.Fatalf("append recent: %v", err)
	}

	pruner := service.NewAccessLogPruner(log, service.PrunerConfig{
		RetentionDays: 30,
		IntervalHours: 1,
	}, zap.NewNop())

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	pruner.Start(runCtx)
	defer pruner.Stop()

	// The pruner runs once immediately at startup.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(log.Records()) == 1 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}

	recs := log.Records()
	if len(recs) != 1 {
		t.Fatalf("expected 1 record to survive, got %d", len(recs))
	}
	if recs[0].OccurredAt.Before(time.Now().UTC().AddDate(0, 0, -30)) {
		t.Error("the surviving record should be the recent one")
	}
}

func TestAccessLogPruner_StopIsIdempotent(t *testing.T) {
	pruner := service.NewAccessLogPruner(memory.NewAccessLog(), service.PrunerConfig{
		RetentionDays: 30,
		IntervalHours: 1,
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	pruner.Start(ctx)

	cancel()
	// Multiple stops should not panic.
	pruner.Stop()
	pruner.Stop()
}

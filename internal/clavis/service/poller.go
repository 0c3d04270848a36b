package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BrandonDHaskell/Clavis/server/internal/clavis/types"
)

const defaultPollInterval = 5 * time.Minute

// Refresher asks the bridge to re-report a node's ambient values: bolt,
// door, battery and config parameters.  Satisfied by the gateway client.
type Refresher interface {
	RequestRefresh(ctx context.Context) error
}

// Poller drives one lock's periodic reconciliation: refresh the ambient
// state, then walk the scheduled slots and push every one whose intent no
// longer matches what the hardware was last seen holding.  Schedule
// windows take effect here; a slot crossing its start or end boundary
// shows up unsynced and gets written or cleared without anyone asking.
// Unscheduled slots are left to explicit pushes.
//
// Kick schedules an extra cycle so an intent change lands at the next
// boundary check instead of waiting out the interval.  A cycle does no
// hardware writes when every slot is synced, so running one with nothing
// to do costs only the refresh request.
type Poller struct {
	engine    *Engine
	refresher Refresher
	interval  time.Duration
	log       *zap.Logger
	kick      chan struct{}
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewPoller creates a poller but does not start it.  An interval of 0 or
// less uses the 5 minute default.
func NewPoller(e *Engine, r Refresher, interval time.Duration, log *zap.Logger) *Poller {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Poller{
		engine:    e,
		refresher: r,
		interval:  interval,
		log:       log,
		kick:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// Start begins the background loop: an immediate cycle, then one per
// interval.  The loop exits when ctx is cancelled or Stop is called.
func (p *Poller) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	go p.loop(ctx)
	p.log.Info("poller started",
		zap.String("lock", p.engine.LockID()), zap.Duration("interval", p.interval))
}

// Stop signals the loop to exit and waits for it to finish.
func (p *Poller) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	<-p.done
}

// Kick requests an immediate cycle.  It never blocks; kicks arriving while
// one is already pending coalesce.
func (p *Poller) Kick() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

func (p *Poller) loop(ctx context.Context) {
	defer close(p.done)

	p.runCycle(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.runCycle(ctx)
		case <-p.kick:
			p.runCycle(ctx)
		}
	}
}

func (p *Poller) runCycle(ctx context.Context) {
	if p.refresher != nil {
		if err := p.refresher.RequestRefresh(ctx); err != nil {
			p.log.Debug("state refresh request failed", zap.Error(err))
		}
	}

	now := time.Now().UTC()
	for _, rec := range p.engine.Users() {
		if ctx.Err() != nil {
			return
		}
		r := rec
		if !r.HasSchedule() {
			// Unscheduled slots change only by explicit command; pushing
			// them is the caller's decision, not the loop's.
			continue
		}
		if r.CodeType == types.CodeTypeFOB && r.Enabled && ScheduleValid(&r, now) {
			// An active fob has nothing to push; provisioning happens at
			// the keypad.
			continue
		}
		recomputeSynced(&r, now)
		if r.Synced {
			continue
		}
		if err := p.engine.PushCode(ctx, r.Slot); err != nil {
			p.log.Warn("reconcile push failed",
				zap.String("lock", p.engine.LockID()),
				zap.Int("slot", r.Slot), zap.Error(err))
		}
	}
}

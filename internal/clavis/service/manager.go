package service

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/BrandonDHaskell/Clavis/server/internal/clavis/types"
	"github.com/BrandonDHaskell/Clavis/server/internal/gateway"
)

// Device is the per-node hardware surface beyond slot programming: ambient
// state, configuration parameters and the bolt itself.  Satisfied by the
// gateway client.
type Device interface {
	State() types.LockState
	RequestRefresh(ctx context.Context) error
	SetConfigParam(ctx context.Context, param, value int) error
	SetLocked(ctx context.Context, locked bool) error
}

// Lock bundles everything the server runs for one configured lock.
type Lock struct {
	ID     string
	Name   string
	NodeID int
	Engine *Engine
	Device Device
}

// Manager holds every configured lock and routes hardware notifications to
// the owning engine.  Locks register once at startup; the maps are
// effectively read-only afterwards but guarded anyway.
type Manager struct {
	mu     sync.RWMutex
	byID   map[string]*Lock
	byNode map[int]*Lock
	log    *zap.Logger
}

func NewManager(log *zap.Logger) *Manager {
	return &Manager{
		byID:   make(map[string]*Lock),
		byNode: make(map[int]*Lock),
		log:    log,
	}
}

// Register adds a lock under its ID and bridge node number.
func (m *Manager) Register(lk *Lock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[lk.ID] = lk
	m.byNode[lk.NodeID] = lk
}

// Lock returns the lock registered under id.
func (m *Manager) Lock(id string) (*Lock, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lk, ok := m.byID[id]
	return lk, ok
}

// Locks returns the registered locks ordered by ID.
func (m *Manager) Locks() []*Lock {
	m.mu.RLock()
	locks := make([]*Lock, 0, len(m.byID))
	for _, lk := range m.byID {
		locks = append(locks, lk)
	}
	m.mu.RUnlock()

	sort.Slice(locks, func(i, j int) bool { return locks[i].ID < locks[j].ID })
	return locks
}

// OnGatewayEvent feeds bridge frames into alarm handling.  Wired as a
// connection event handler; only notification frames matter here.
func (m *Manager) OnGatewayEvent(ev gateway.Event) {
	if ev.Event != gateway.EventNotification {
		return
	}
	m.HandleAlarm(context.Background(), types.AlarmEvent{
		NodeID: ev.NodeID,
		Type:   ev.AlarmType,
		Level:  ev.AlarmLevel,
	})
}

// HandleAlarm translates a hardware alarm frame into a semantic event on
// the owning engine.  Unknown nodes and unrecognized alarm codes are
// dropped quietly: the lock emits far more alarm types than this system
// tracks.
func (m *Manager) HandleAlarm(ctx context.Context, alarm types.AlarmEvent) {
	m.mu.RLock()
	lk, ok := m.byNode[alarm.NodeID]
	m.mu.RUnlock()
	if !ok {
		m.log.Debug("alarm from unregistered node", zap.Int("node", alarm.NodeID))
		return
	}
	eng := lk.Engine

	switch alarm.Type {
	case gateway.AlarmKeypadUnlock, gateway.AlarmKeypadUnlockAlt:
		// The alarm level carries the slot number.
		if err := eng.ApplyAccessEvent(ctx, alarm.Level, types.AccessMethodPIN); err != nil {
			m.log.Debug("dropped keypad access event",
				zap.Int("node", alarm.NodeID), zap.Int("slot", alarm.Level), zap.Error(err))
		}
	case gateway.AlarmRFLock:
		eng.NoteLockOperation(ctx, types.EventLocked, types.AccessMethodRemote)
	case gateway.AlarmRFUnlock:
		eng.NoteLockOperation(ctx, types.EventUnlocked, types.AccessMethodRemote)
	case gateway.AlarmManualLock:
		eng.NoteLockOperation(ctx, types.EventLocked, types.AccessMethodManual)
	case gateway.AlarmManualUnlock:
		eng.NoteLockOperation(ctx, types.EventUnlocked, types.AccessMethodManual)
	case gateway.AlarmAutoLock:
		eng.NoteLockOperation(ctx, types.EventLocked, types.AccessMethodAuto)
	case gateway.AlarmJammed:
		m.log.Warn("lock reported a jam", zap.String("lock", lk.ID), zap.Int("node", alarm.NodeID))
		eng.NoteLockOperation(ctx, types.EventJammed, types.AccessMethodUnknown)
	default:
		m.log.Debug("unrecognized alarm",
			zap.Int("node", alarm.NodeID), zap.Int("type", alarm.Type))
	}
}

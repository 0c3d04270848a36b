package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BrandonDHaskell/Clavis/server/internal/clavis/types"
)

const defaultReadTimeout = 3 * time.Second

// Client binds the shared connection to one lock node.  Slot reads follow
// the protocol's command/report split: issue user_code.get, then wait for
// the matching user_code event.  A read that times out returns (nil, nil),
// meaning "unknown", never "empty".
type Client struct {
	conn        *Conn
	nodeID      int
	readTimeout time.Duration
	log         *zap.Logger

	mu    sync.RWMutex
	state types.LockState
}

// NewClient binds conn to one node.  readTimeout bounds the wait for a
// user_code report; 0 means the default 3s.
func NewClient(conn *Conn, nodeID int, readTimeout time.Duration, log *zap.Logger) *Client {
	if readTimeout <= 0 {
		readTimeout = defaultReadTimeout
	}
	c := &Client{
		conn:        conn,
		nodeID:      nodeID,
		readTimeout: readTimeout,
		log:         log,
	}
	conn.OnEvent(c.handleEvent)
	return c
}

func (c *Client) NodeID() int { return c.nodeID }

// ReadSlot asks the lock to report a slot's status and code.
func (c *Client) ReadSlot(ctx context.Context, slot int) (*types.SlotInfo, error) {
	sub := c.conn.Subscribe(func(ev Event) bool {
		return ev.Event == EventUserCode && ev.NodeID == c.nodeID && ev.Slot == slot
	})
	defer sub.Cancel()

	if err := c.conn.Send(ctx, Request{
		Command: CmdUserCodeGet,
		NodeID:  c.nodeID,
		Slot:    slot,
	}); err != nil {
		return nil, err
	}

	ev, ok := sub.Wait(ctx, c.readTimeout)
	if !ok {
		c.log.Warn("no user code report before timeout",
			zap.Int("node", c.nodeID), zap.Int("slot", slot))
		return nil, nil
	}

	status := types.UserStatusAvailable
	if ev.Status != nil {
		status = types.UserStatus(*ev.Status)
	}
	return &types.SlotInfo{Status: status, Code: ev.Code}, nil
}

// WriteSlot programs a slot.  Success means the gateway accepted the
// command; callers verify with a read-back.
func (c *Client) WriteSlot(ctx context.Context, slot int, code string, status types.UserStatus) error {
	st := int(status)
	return c.conn.Send(ctx, Request{
		Command: CmdUserCodeSet,
		NodeID:  c.nodeID,
		Slot:    slot,
		Status:  &st,
		Code:    &code,
	})
}

// ClearSlot frees a slot.  On the wire a clear is a set to available with
// an empty code.
func (c *Client) ClearSlot(ctx context.Context, slot int) error {
	return c.WriteSlot(ctx, slot, "", types.UserStatusAvailable)
}

// RequestRefresh asks the gateway to re-report the node's values (lock
// state, door, battery, config parameters).  Updates arrive as value
// events.
func (c *Client) RequestRefresh(ctx context.Context) error {
	return c.conn.Send(ctx, Request{Command: CmdNodeRefresh, NodeID: c.nodeID})
}

// SetConfigParam writes a lock configuration parameter.
func (c *Client) SetConfigParam(ctx context.Context, param, value int) error {
	return c.conn.Send(ctx, Request{
		Command: CmdConfigSet,
		NodeID:  c.nodeID,
		Param:   param,
		Value:   &value,
	})
}

// SetLocked locks or unlocks the bolt.
func (c *Client) SetLocked(ctx context.Context, locked bool) error {
	return c.conn.Send(ctx, Request{
		Command: CmdLockSet,
		NodeID:  c.nodeID,
		Locked:  &locked,
	})
}

// State returns the last-reported node values.
func (c *Client) State() types.LockState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// handleEvent folds value events for this node into the state cache.
func (c *Client) handleEvent(ev Event) {
	if ev.Event != EventValue || ev.NodeID != c.nodeID {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.Property {
	case PropLocked:
		if v, ok := parseBool(ev.Value); ok {
			c.state.Locked = &v
		}
	case PropDoorClosed:
		if v, ok := parseBool(ev.Value); ok {
			c.state.DoorClosed = &v
		}
	case PropBatteryLevel:
		if v, ok := parseInt(ev.Value); ok {
			c.state.BatteryLevel = &v
		}
	case PropVolume:
		if v, ok := parseInt(ev.Value); ok {
			c.state.Volume = &v
		}
	case PropAutoRelock:
		// Reported as a bool, or as the raw 255/0 parameter value
		// depending on gateway version.
		if v, ok := parseBool(ev.Value); ok {
			c.state.AutoRelock = &v
		} else if n, ok := parseInt(ev.Value); ok {
			v := n != 0
			c.state.AutoRelock = &v
		}
	case PropManualRelockTime:
		if v, ok := parseInt(ev.Value); ok {
			c.state.ManualRelockTime = &v
		}
	case PropRemoteRelockTime:
		if v, ok := parseInt(ev.Value); ok {
			c.state.RemoteRelockTime = &v
		}
	default:
		return
	}
	c.state.UpdatedAt = time.Now().UTC()
}

func parseBool(raw json.RawMessage) (bool, bool) {
	var v bool
	if err := json.Unmarshal(raw, &v); err != nil {
		return false, false
	}
	return v, true
}

func parseInt(raw json.RawMessage) (int, bool) {
	var v int
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	return v, true
}

// Package gateway speaks the lock gateway's websocket protocol.  Commands
// are fire-and-forget: the gateway acks that a command was accepted for
// delivery, but results (user code reports, state changes, alarms) arrive
// later as events on the same connection.
package gateway

import "encoding/json"

// Commands understood by the gateway.
const (
	CmdStartListening = "start_listening"
	CmdUserCodeSet    = "user_code.set"
	CmdUserCodeGet    = "user_code.get"
	CmdNodeRefresh    = "node.refresh"
	CmdConfigSet      = "config.set"
	CmdLockSet        = "lock.set"
)

// Event kinds carried in event frames.
const (
	EventUserCode     = "user_code"
	EventNotification = "notification"
	EventValue        = "value"
)

// Frame types sent by the gateway.
const (
	frameResult = "result"
	frameEvent  = "event"
)

// Node value properties reported in value events.
const (
	PropLocked           = "locked"
	PropDoorClosed       = "door_closed"
	PropBatteryLevel     = "battery_level"
	PropVolume           = "volume"
	PropAutoRelock       = "auto_relock"
	PropManualRelockTime = "manual_relock_time"
	PropRemoteRelockTime = "remote_relock_time"
)

// Lock configuration parameter numbers.
const (
	ParamVolume           = 1
	ParamAutoRelock       = 2
	ParamManualRelockTime = 3
	ParamRemoteRelockTime = 6
)

// Alarm types reported by the lock in notification events.  Keypad unlocks
// carry the slot number in the alarm level; lock firmware reports them as
// either 19 or 144 depending on vendor and model.
const (
	AlarmJammed          = 9
	AlarmKeypadUnlock    = 19
	AlarmRFLock          = 21
	AlarmRFUnlock        = 22
	AlarmManualUnlock    = 24
	AlarmManualLock      = 25
	AlarmAutoLock        = 27
	AlarmKeypadUnlockAlt = 144
)

// Request is a command frame sent to the gateway.  Pointer fields are
// optional per command; zero is meaningful for status (available), code
// (clear) and locked (unlock), so those are pointers rather than omitempty
// scalars.
type Request struct {
	MessageID string  `json:"message_id"`
	Command   string  `json:"command"`
	NodeID    int     `json:"node_id,omitempty"`
	Slot      int     `json:"slot,omitempty"`
	Status    *int    `json:"status,omitempty"`
	Code      *string `json:"code,omitempty"`
	Param     int     `json:"param,omitempty"`
	Value     *int    `json:"value,omitempty"`
	Locked    *bool   `json:"locked,omitempty"`
}

// Event is the payload of an event frame.
type Event struct {
	Source     string          `json:"source"`
	Event      string          `json:"event"`
	NodeID     int             `json:"node_id"`
	Slot       int             `json:"slot,omitempty"`
	Status     *int            `json:"status,omitempty"`
	Code       string          `json:"code,omitempty"`
	AlarmType  int             `json:"alarm_type,omitempty"`
	AlarmLevel int             `json:"alarm_level,omitempty"`
	Property   string          `json:"property,omitempty"`
	Value      json.RawMessage `json:"value,omitempty"`
}

// serverFrame is the envelope for everything the gateway sends us.
type serverFrame struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id,omitempty"`
	Success   bool   `json:"success,omitempty"`
	Error     string `json:"error,omitempty"`
	Event     *Event `json:"event,omitempty"`
}

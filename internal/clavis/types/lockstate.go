package types

import "time"

// LockState is the transient device snapshot assembled from bridge value
// events: bolt and door position, battery, and the device configuration
// parameters the poller keeps fresh.  Nil fields have never been reported.
type LockState struct {
	Locked           *bool     `json:"locked,omitempty"`
	DoorClosed       *bool     `json:"door_closed,omitempty"`
	BatteryLevel     *int      `json:"battery_level,omitempty"`
	Volume           *int      `json:"volume,omitempty"`
	AutoRelock       *bool     `json:"auto_relock,omitempty"`
	ManualRelockTime *int      `json:"manual_relock_time,omitempty"`
	RemoteRelockTime *int      `json:"remote_relock_time,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}

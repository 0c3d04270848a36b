package httpapi

import (
	"time"

	"github.com/BrandonDHaskell/Clavis/server/internal/clavis/service"
	"github.com/BrandonDHaskell/Clavis/server/internal/clavis/types"
)

// ── Requests ────────────────────────────────────────────────────────────────

// slotRequest is the body for commands that only target a slot.
type slotRequest struct {
	Slot int `json:"slot"`
}

type setCodeRequest struct {
	Slot     int    `json:"slot"`
	Code     string `json:"code"`
	Name     string `json:"name"`
	CodeType string `json:"code_type,omitempty"`
	Override bool   `json:"override,omitempty"`
	Status   *int   `json:"status,omitempty"`
}

// clearCodeRequest: keep_local keeps the slot record (disabled) after the
// hardware clear; the default forgets the user entirely.
type clearCodeRequest struct {
	Slot      int  `json:"slot"`
	KeepLocal bool `json:"keep_local,omitempty"`
}

// setScheduleRequest carries RFC3339 bounds; null or omitted clears a bound.
type setScheduleRequest struct {
	Slot  int     `json:"slot"`
	Start *string `json:"start"`
	End   *string `json:"end"`
}

type setUsageLimitRequest struct {
	Slot  int  `json:"slot"`
	Limit *int `json:"limit"`
}

type setUserStatusRequest struct {
	Slot   int `json:"slot"`
	Status int `json:"status"`
}

// setConfigRequest writes lock configuration parameters; only the fields
// present are written.
type setConfigRequest struct {
	Volume           *int  `json:"volume,omitempty"`
	AutoRelock       *bool `json:"auto_relock,omitempty"`
	ManualRelockTime *int  `json:"manual_relock_time,omitempty"`
	RemoteRelockTime *int  `json:"remote_relock_time,omitempty"`
}

type operateRequest struct {
	Locked *bool `json:"locked"`
}

func parseTimestamp(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, *s)
	if err != nil {
		return nil, err
	}
	u := t.UTC()
	return &u, nil
}

// ── Responses ───────────────────────────────────────────────────────────────

type lockSummary struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	NodeID      int             `json:"node_id"`
	Users       int             `json:"users"`
	SyncedUsers int             `json:"synced_users"`
	State       types.LockState `json:"state"`
}

func lockSummaryFrom(lk *service.Lock) lockSummary {
	users := lk.Engine.Users()
	synced := 0
	for _, u := range users {
		if u.Synced {
			synced++
		}
	}
	return lockSummary{
		ID:          lk.ID,
		Name:        lk.Name,
		NodeID:      lk.NodeID,
		Users:       len(users),
		SyncedUsers: synced,
		State:       lk.Device.State(),
	}
}

package service

import "errors"

// Typed failures surfaced to callers.  All of them are recoverable at the
// command layer; none are fatal to the engine.
var (
	ErrOutOfRange      = errors.New("slot out of range")
	ErrInvalidCode     = errors.New("invalid code")
	ErrInvalidStatus   = errors.New("invalid user status")
	ErrInvalidSchedule = errors.New("invalid schedule")
	ErrInvalidLimit    = errors.New("invalid usage limit")
	ErrSlotOccupied    = errors.New("slot occupied by an unmanaged code")
	ErrSlotNotFound    = errors.New("no user in slot")
	ErrLockNotFound    = errors.New("unknown lock")

	// ErrVerificationFailed means the gateway accepted a write but the
	// read-back did not match what was written.  Distinct from ErrHardware:
	// the command was delivered, the lock just did not apply it.
	ErrVerificationFailed = errors.New("hardware verification failed")

	ErrHardwareTimeout = errors.New("hardware command timed out")
	ErrHardware        = errors.New("hardware command failed")
)

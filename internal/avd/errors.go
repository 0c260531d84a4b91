// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package avd

import (
	"fmt"
	"time"
)

// CreationError means avdmanager could not create the virtual device,
// even after the device-template fallback retry.
type CreationError struct {
	Name   string
	Output string
	Err    error
}

func (e *CreationError) Error() string {
	return fmt.Sprintf("avd creation failed: %s: %v", e.Name, e.Err)
}

func (e *CreationError) Unwrap() error { return e.Err }

// BootTimeoutError means the emulator process is up but Android never
// reported boot completion within the budget.
type BootTimeoutError struct {
	Serial  string
	Timeout time.Duration
	LastADB string
}

func (e *BootTimeoutError) Error() string {
	msg := fmt.Sprintf("boot timeout after %s on %s", e.Timeout, e.Serial)
	if e.LastADB != "" {
		msg += " (last adb error: " + e.LastADB + ")"
	}
	return msg
}

// LaunchError means the emulator process could not be started or crashed
// inside the crash-detection window, even after retrying with
// acceleration disabled.
type LaunchError struct {
	Name    string
	LogPath string
	Err     error
}

func (e *LaunchError) Error() string {
	msg := fmt.Sprintf("emulator launch failed: %s: %v", e.Name, e.Err)
	if e.LogPath != "" {
		msg += " (log: " + e.LogPath + ")"
	}
	return msg
}

func (e *LaunchError) Unwrap() error { return e.Err }

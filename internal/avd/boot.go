// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package avd

import (
	"bytes"
	"os/exec"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// pollInterval paces the adb polling loops. The budget that matters is
// the caller's timeout; this only bounds how often adb gets invoked.
const pollInterval = 500 * time.Millisecond

type deviceEntry struct {
	serial string
	state  string // "device", "offline", "unauthorized", ...
}

// adbDevices parses `adb devices` output into serial/state pairs.
func adbDevices(env Env) []deviceEntry {
	var buf bytes.Buffer
	cmd := exec.Command(env.ADB, "devices")
	cmd.Env = env.environ()
	cmd.Stdout = &buf
	_ = cmd.Run()

	var out []deviceEntry
	for _, line := range strings.Split(buf.String(), "\n") {
		f := strings.Fields(line)
		if len(f) >= 2 && f[0] != "List" {
			out = append(out, deviceEntry{serial: f[0], state: f[1]})
		}
	}
	return out
}

// bootCompleted reads the boot-completion system property on serial.
func bootCompleted(env Env, serial string) bool {
	var buf bytes.Buffer
	cmd := exec.Command(env.ADB, "-s", serial, "shell", "getprop", "sys.boot_completed")
	cmd.Env = env.environ()
	cmd.Stdout = &buf
	cmd.Stderr = &bytes.Buffer{}
	if cmd.Run() != nil {
		return false
	}
	return strings.TrimSpace(buf.String()) == "1"
}

// WaitForBoot blocks until serial is fully booted: first the device must
// be listed by adb in "device" state (an emulator shows up "offline"
// while the console port is up but adbd is not), then the boot-completed
// system property must read 1. A started emulator process is not a
// booted device; only the property flip counts.
func WaitForBoot(env Env, serial string, timeout time.Duration) error {
	_, span := startSpan(
		env,
		"avd.WaitForBoot",
		attribute.String("serial", serial),
		attribute.String("timeout", timeout.String()),
	)
	defer span.End()

	deadline := time.Now().Add(timeout)

	seen := false
	for time.Now().Before(deadline) {
		for _, d := range adbDevices(env) {
			if d.serial == serial && d.state == "device" {
				seen = true
			}
		}
		if seen {
			break
		}
		time.Sleep(pollInterval)
	}
	if !seen {
		err := &BootTimeoutError{Serial: serial, Timeout: timeout, LastADB: "device never reached 'device' state"}
		recordSpanError(span, err)
		return err
	}

	lastError := ""
	for time.Now().Before(deadline) {
		var out, errOut bytes.Buffer
		cmd := exec.Command(env.ADB, "-s", serial, "shell", "getprop", "sys.boot_completed")
		cmd.Env = env.environ()
		cmd.Stdout = &out
		cmd.Stderr = &errOut
		err := cmd.Run()

		if strings.TrimSpace(out.String()) == "1" {
			span.SetAttributes(attribute.Bool("boot_completed", true))
			logEvent(env, "device booted", "serial", serial)
			return nil
		}
		if err != nil {
			lastError = strings.TrimSpace(errOut.String())
			if lastError == "" {
				lastError = err.Error()
			}
		}
		time.Sleep(pollInterval)
	}

	terr := &BootTimeoutError{Serial: serial, Timeout: timeout, LastADB: lastError}
	logWarn(env, "wait for boot timeout", "serial", serial, "timeout", timeout.String(), "adb_error", lastError)
	recordSpanError(span, terr)
	return terr
}

// FindBooted returns the serial of an already-booted emulator, if any.
// The pipeline uses this to skip AVD creation and emulator launch when a
// usable device is running.
func FindBooted(env Env) (string, bool) {
	for _, d := range adbDevices(env) {
		if strings.HasPrefix(d.serial, "emulator-") && d.state == "device" && bootCompleted(env, d.serial) {
			return d.serial, true
		}
	}
	return "", false
}

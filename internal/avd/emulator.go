// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package avd

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// crashWindow is how long a freshly started emulator process is watched
// for an early exit before it is considered launched.
const crashWindow = 10 * time.Second

// Session is a running emulator owned by this rig.
type Session struct {
	Name    string
	Serial  string
	Port    int
	PID     int
	LogPath string

	cmd *exec.Cmd
}

// Kill terminates the emulator process. Normal runs leave the emulator
// alive; this exists for tests and explicit stop commands.
func (s *Session) Kill() error {
	if s.cmd == nil || s.cmd.Process == nil {
		return nil
	}
	return s.cmd.Process.Kill()
}

// Launch starts the emulator for an AVD on a free even port with a
// deterministic argument set. If the process dies inside the crash
// window, launch is retried once with acceleration disabled before
// failing. The emulator is left running when the rig exits.
func Launch(env Env, name string) (*Session, error) {
	return launchWithWindow(env, name, crashWindow)
}

func launchWithWindow(env Env, name string, window time.Duration) (*Session, error) {
	_, span := startSpan(env, "avd.Launch", attribute.String("name", name))
	defer span.End()

	ensureADB(env)
	port, err := FindFreeEvenPort(5554, 5800)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	sess, err := launchOnce(env, name, port, true, window)
	if err != nil {
		logWarn(env, "emulator crashed early, retrying without acceleration",
			"name", name, "error", err)
		sess, err = launchOnce(env, name, port, false, window)
	}
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	span.SetAttributes(
		attribute.String("serial", sess.Serial),
		attribute.Int("pid", sess.PID),
	)
	return sess, nil
}

func launchOnce(env Env, name string, port int, accel bool, window time.Duration) (*Session, error) {
	// The emulator claims a console/adb port pair; ports must be even.
	if port%2 != 0 {
		return nil, fmt.Errorf("port %d is odd; emulator requires even port numbers", port)
	}

	logPath := filepath.Join(os.TempDir(), fmt.Sprintf("devrig-emulator-%s-%d.log", name, port))
	logFile, err := os.Create(logPath)
	if err != nil {
		return nil, fmt.Errorf("open emulator log: %w", err)
	}

	accelMode := "on"
	gpu := env.GPUMode
	if !accel {
		accelMode = "off"
		gpu = "swiftshader_indirect"
	}
	args := []string{
		"-avd", name,
		"-port", strconv.Itoa(port),
		"-no-snapshot",
		"-no-boot-anim",
		"-no-audio",
		"-no-metrics",
		"-accel", accelMode,
		"-gpu", gpu,
	}

	cmd := exec.Command(env.Emulator, args...)
	streamLog := newLineLogWriter(env, "name", name, "port", port)
	cmd.Stdout = io.MultiWriter(logFile, streamLog)
	cmd.Stderr = io.MultiWriter(logFile, streamLog)
	cmd.Env = env.environ("QEMU_FILE_LOCKING=off")

	if err := cmd.Start(); err != nil {
		_ = logFile.Close()
		return nil, &LaunchError{Name: name, LogPath: logPath, Err: err}
	}

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	select {
	case werr := <-exited:
		_ = logFile.Close()
		if werr == nil {
			werr = fmt.Errorf("emulator exited during startup")
		}
		return nil, &LaunchError{Name: name, LogPath: logPath, Err: werr}
	case <-time.After(window):
	}

	serial := fmt.Sprintf("emulator-%d", port)
	logEvent(env, "emulator started",
		"name", name, "port", port, "serial", serial, "pid", cmd.Process.Pid, "log_path", logPath)
	return &Session{
		Name:    name,
		Serial:  serial,
		Port:    port,
		PID:     cmd.Process.Pid,
		LogPath: logPath,
		cmd:     cmd,
	}, nil
}

// ensureADB starts the adb server (idempotent).
func ensureADB(env Env) {
	cmd := exec.Command(env.ADB, "start-server")
	cmd.Env = env.environ()
	_ = cmd.Run()
}

// FindFreeEvenPort returns the first free even port in [start, end) (the
// emulator uses port and port+1).
func FindFreeEvenPort(start, end int) (int, error) {
	if start%2 != 0 {
		start++
	}
	for p := start; p < end; p += 2 {
		if isPortFree(p) && isPortFree(p+1) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("no free even port found in %d..%d", start, end)
}

func isPortFree(port int) bool {
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	_ = l.Close()
	return true
}

// KillEmulator asks the emulator console on serial to shut down.
func KillEmulator(env Env, serial string) {
	cmd := exec.Command(env.ADB, "-s", serial, "emu", "kill")
	cmd.Env = env.environ()
	_ = cmd.Run()
	time.Sleep(1 * time.Second)
}

// StopBySerial stops a running emulator, falling back to signalling the
// process when the adb console command does not work.
func StopBySerial(env Env, serial string) error {
	if !strings.HasPrefix(serial, "emulator-") {
		return fmt.Errorf("invalid serial format: %s (expected emulator-XXXX)", serial)
	}
	port, _ := strconv.Atoi(strings.TrimPrefix(serial, "emulator-"))

	_, span := startSpan(
		env,
		"avd.StopBySerial",
		attribute.String("serial", serial),
		attribute.Int("port", port),
	)
	defer span.End()

	cmd := exec.Command(env.ADB, "-s", serial, "emu", "kill")
	cmd.Env = env.environ()
	var errBuf bytes.Buffer
	cmd.Stderr = &errBuf
	adbErr := cmd.Run()
	time.Sleep(1 * time.Second)

	pid := findEmulatorPID(port)
	if pid == 0 {
		logEvent(env, "emulator stopped", "serial", serial, "port", port)
		return nil
	}

	if proc, err := os.FindProcess(pid); err == nil {
		if killErr := proc.Signal(os.Interrupt); killErr == nil {
			time.Sleep(2 * time.Second)
			if findEmulatorPID(port) > 0 {
				_ = proc.Kill()
			}
			logEvent(env, "emulator stopped", "serial", serial, "port", port, "pid", pid)
			return nil
		}
	}

	if adbErr != nil {
		recordSpanError(span, adbErr)
		return fmt.Errorf("failed to stop %s via adb: %w\nadb error: %s\nalso failed to kill PID %d",
			serial, adbErr, errBuf.String(), pid)
	}
	return nil
}

// ProcInfo describes a running emulator discovered on this host.
type ProcInfo struct {
	Serial string `json:"serial"`
	Name   string `json:"name"`
	Port   int    `json:"port"`
	PID    int    `json:"pid"`
	Booted bool   `json:"booted"`
}

// ListRunning discovers running emulators: first from adb devices, then
// by scanning /proc for emulator processes adb has not registered yet.
func ListRunning(env Env) ([]ProcInfo, error) {
	_, span := startSpan(env, "avd.ListRunning")
	defer span.End()
	ensureADB(env)

	var procs []ProcInfo
	seen := make(map[int]bool)

	for _, d := range adbDevices(env) {
		if !strings.HasPrefix(d.serial, "emulator-") {
			continue
		}
		port, err := strconv.Atoi(strings.TrimPrefix(d.serial, "emulator-"))
		if err != nil {
			continue
		}
		seen[port] = true
		pid := findEmulatorPID(port)
		procs = append(procs, ProcInfo{
			Serial: d.serial,
			Name:   avdNameFromSerial(env, d.serial, pid),
			Port:   port,
			PID:    pid,
			Booted: d.state == "device" && bootCompleted(env, d.serial),
		})
	}

	for port := 5554; port <= 5800; port += 2 {
		if seen[port] {
			continue
		}
		pid := findEmulatorPID(port)
		if pid == 0 {
			continue
		}
		serial := fmt.Sprintf("emulator-%d", port)
		procs = append(procs, ProcInfo{
			Serial: serial,
			Name:   avdNameFromSerial(env, serial, pid),
			Port:   port,
			PID:    pid,
			Booted: bootCompleted(env, serial),
		})
	}

	return procs, nil
}

func avdNameFromSerial(env Env, serial string, pid int) string {
	var buf bytes.Buffer
	cmd := exec.Command(env.ADB, "-s", serial, "emu", "avd", "name")
	cmd.Env = env.environ()
	cmd.Stdout = &buf
	_ = cmd.Run()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) > 0 {
		if strings.TrimSpace(lines[len(lines)-1]) == "OK" && len(lines) > 1 {
			lines = lines[:len(lines)-1]
		}
		if name := strings.TrimSpace(lines[0]); name != "" && name != "OK" {
			return name
		}
	}
	return avdNameFromPID(pid)
}

// findEmulatorPID scans /proc cmdlines for an emulator bound to port.
// Linux-only, best effort.
func findEmulatorPID(port int) int {
	entries, _ := filepath.Glob("/proc/[0-9]*/cmdline")
	for _, p := range entries {
		b, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		if bytes.Contains(b, []byte(fmt.Sprintf("-port%c%d", 0, port))) &&
			(bytes.Contains(b, []byte("qemu-system")) || bytes.Contains(b, []byte("emulator"))) {
			base := filepath.Base(filepath.Dir(p))
			if n, err := strconv.Atoi(base); err == nil {
				if _, statErr := os.Stat(filepath.Join("/proc", base, "stat")); statErr == nil {
					return n
				}
			}
		}
	}
	return 0
}

// avdNameFromPID extracts the AVD name from a null-separated cmdline.
func avdNameFromPID(pid int) string {
	if pid == 0 {
		return ""
	}
	b, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "cmdline"))
	if err != nil {
		return ""
	}
	parts := bytes.Split(b, []byte{0})
	for i, part := range parts {
		if string(part) == "-avd" && i+1 < len(parts) {
			return string(parts[i+1])
		}
	}
	return ""
}

// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package avd

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"
)

// fakeADB writes a shell script that plays back scripted `adb devices`
// states and boot-completed property values, advancing a counter file on
// every call.
func fakeADB(t *testing.T, dir string, deviceStates, bootProps []string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stub scripts are POSIX shell")
	}

	script := "#!/bin/sh\n" +
		"dir=\"" + dir + "\"\n" +
		"bump() {\n" +
		"  n=0\n" +
		"  [ -f \"$dir/$1\" ] && n=$(cat \"$dir/$1\")\n" +
		"  echo $((n+1)) > \"$dir/$1\"\n" +
		"  echo $n\n" +
		"}\n" +
		"pick() {\n" +
		"  idx=$1; shift\n" +
		"  i=0\n" +
		"  for v in \"$@\"; do\n" +
		"    [ $i -eq $idx ] && { echo \"$v\"; return; }\n" +
		"    i=$((i+1))\n" +
		"  done\n" +
		"  echo \"$v\"\n" + // clamp to last value
		"}\n" +
		"case \"$1\" in\n" +
		"  devices)\n" +
		"    n=$(bump devices.count)\n" +
		"    state=$(pick $n " + strings.Join(deviceStates, " ") + ")\n" +
		"    echo 'List of devices attached'\n" +
		"    echo \"emulator-5554\t$state\"\n" +
		"    exit 0 ;;\n" +
		"  -s)\n" +
		"    n=$(bump boot.count)\n" +
		"    pick $n " + strings.Join(bootProps, " ") + "\n" +
		"    exit 0 ;;\n" +
		"  start-server) exit 0 ;;\n" +
		"esac\n" +
		"exit 0\n"

	path := filepath.Join(dir, "adb")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write adb stub: %v", err)
	}
	return path
}

func readCount(t *testing.T, dir, name string) int {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return 0
	}
	n, _ := strconv.Atoi(strings.TrimSpace(string(b)))
	return n
}

func TestWaitForBootPollsUntilDeviceThenBootCompleted(t *testing.T) {
	dir := t.TempDir()
	adb := fakeADB(t, dir,
		[]string{"offline", "offline", "offline", "device"},
		[]string{"0", "0", "1"},
	)
	env := Env{ADB: adb}

	start := time.Now()
	if err := WaitForBoot(env, "emulator-5554", 30*time.Second); err != nil {
		t.Fatalf("WaitForBoot: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 2*pollInterval {
		t.Fatalf("gate returned too early (%s); offline polls were not respected", elapsed)
	}

	// Three offline polls before the device state, then three property
	// reads before boot-completed flipped to 1.
	if got := readCount(t, dir, "devices.count"); got < 4 {
		t.Fatalf("expected at least 4 devices polls, got %d", got)
	}
	if got := readCount(t, dir, "boot.count"); got != 3 {
		t.Fatalf("expected exactly 3 boot property polls, got %d", got)
	}
}

func TestWaitForBootTimesOutWhileOffline(t *testing.T) {
	dir := t.TempDir()
	adb := fakeADB(t, dir, []string{"offline"}, []string{"0"})
	env := Env{ADB: adb}

	err := WaitForBoot(env, "emulator-5554", 1200*time.Millisecond)
	if err == nil {
		t.Fatal("expected BootTimeoutError")
	}
	if _, ok := err.(*BootTimeoutError); !ok {
		t.Fatalf("expected *BootTimeoutError, got %T: %v", err, err)
	}
	// The property must never have been polled: the device never left
	// the offline state.
	if got := readCount(t, dir, "boot.count"); got != 0 {
		t.Fatalf("boot property polled %d times for an offline device", got)
	}
}

func TestFindBooted(t *testing.T) {
	dir := t.TempDir()
	adb := fakeADB(t, dir, []string{"device"}, []string{"1"})
	env := Env{ADB: adb}

	serial, ok := FindBooted(env)
	if !ok || serial != "emulator-5554" {
		t.Fatalf("FindBooted = %q, %v", serial, ok)
	}
}

func TestFindBootedIgnoresOfflineDevice(t *testing.T) {
	dir := t.TempDir()
	adb := fakeADB(t, dir, []string{"offline"}, []string{"1"})
	env := Env{ADB: adb}

	if serial, ok := FindBooted(env); ok {
		t.Fatalf("offline device reported as booted: %s", serial)
	}
}

// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package apk

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/forkbombeu/devrig/internal/config"
)

// fakeADB writes a stub adb that appends its arguments to calls.log.
// When failInstall is set, install invocations exit 1 with an adb-style
// failure line.
func fakeADB(t *testing.T, dir string, failInstall bool) string {
	t.Helper()
	logPath := filepath.Join(dir, "calls.log")
	script := "#!/bin/sh\necho \"$@\" >> " + logPath + "\n"
	if failInstall {
		script += "case \"$*\" in *install*) echo 'adb: failed to install: INSTALL_FAILED_OLDER_SDK'; exit 1;; esac\n"
	}
	script += "exit 0\n"
	path := filepath.Join(dir, "adb")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func readCalls(t *testing.T, dir string) []string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, "calls.log"))
	if err != nil {
		t.Fatalf("read calls.log: %v", err)
	}
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func TestResolveMissingArtifact(t *testing.T) {
	cfg := config.Config{ArtifactPath: filepath.Join(t.TempDir(), "app-debug.apk")}
	_, err := Resolve(cfg)
	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected *NotFoundError, got %v", err)
	}
}

func TestResolveRejectsDirectory(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Config{ArtifactPath: dir}
	if _, err := Resolve(cfg); err == nil {
		t.Fatal("expected error for directory artifact")
	}
}

func TestResolveReturnsAbsolutePath(t *testing.T) {
	dir := t.TempDir()
	apk := filepath.Join(dir, "app-debug.apk")
	if err := os.WriteFile(apk, []byte("PK"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := Resolve(config.Config{ArtifactPath: apk})
	if err != nil {
		t.Fatal(err)
	}
	if !filepath.IsAbs(got) {
		t.Fatalf("expected absolute path, got %q", got)
	}
}

func TestInstallPassesReinstallAndGrantFlags(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("stub scripts need a POSIX shell")
	}
	dir := t.TempDir()
	inst := Installer{ADB: fakeADB(t, dir, false), Serial: "emulator-5554"}

	if err := inst.Install(context.Background(), "/tmp/app-debug.apk"); err != nil {
		t.Fatal(err)
	}

	calls := readCalls(t, dir)
	if len(calls) != 1 {
		t.Fatalf("expected one adb call, got %d", len(calls))
	}
	want := "-s emulator-5554 install -r -g /tmp/app-debug.apk"
	if calls[0] != want {
		t.Fatalf("adb called with %q, want %q", calls[0], want)
	}
}

func TestInstallFailureCarriesOutput(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("stub scripts need a POSIX shell")
	}
	dir := t.TempDir()
	inst := Installer{ADB: fakeADB(t, dir, true), Serial: "emulator-5554"}

	err := inst.Install(context.Background(), "/tmp/app-debug.apk")
	var installErr *InstallError
	if !errors.As(err, &installErr) {
		t.Fatalf("expected *InstallError, got %v", err)
	}
	if !strings.Contains(installErr.Output, "INSTALL_FAILED_OLDER_SDK") {
		t.Fatalf("adb output not captured: %q", installErr.Output)
	}
}

func TestLaunchExpandsDotActivity(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("stub scripts need a POSIX shell")
	}
	dir := t.TempDir()
	inst := Installer{ADB: fakeADB(t, dir, false), Serial: "emulator-5554"}

	if err := inst.Launch(context.Background(), "dev.webviewshell.app", ".MainActivity"); err != nil {
		t.Fatal(err)
	}

	calls := readCalls(t, dir)
	want := "-s emulator-5554 shell am start -n dev.webviewshell.app/dev.webviewshell.app.MainActivity"
	if calls[0] != want {
		t.Fatalf("adb called with %q, want %q", calls[0], want)
	}
}

func TestLaunchFallsBackToMonkeyWithoutActivity(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("stub scripts need a POSIX shell")
	}
	dir := t.TempDir()
	inst := Installer{ADB: fakeADB(t, dir, false), Serial: "emulator-5554"}

	if err := inst.Launch(context.Background(), "dev.webviewshell.app", ""); err != nil {
		t.Fatal(err)
	}

	calls := readCalls(t, dir)
	want := "-s emulator-5554 shell monkey -p dev.webviewshell.app -c android.intent.category.LAUNCHER 1"
	if calls[0] != want {
		t.Fatalf("adb called with %q, want %q", calls[0], want)
	}
}

func TestComponentName(t *testing.T) {
	cases := []struct {
		appID, activity, want string
	}{
		{"dev.webviewshell.app", ".MainActivity", "dev.webviewshell.app/dev.webviewshell.app.MainActivity"},
		{"dev.webviewshell.app", "dev.other.Main", "dev.webviewshell.app/dev.other.Main"},
	}
	for _, c := range cases {
		if got := ComponentName(c.appID, c.activity); got != c.want {
			t.Errorf("ComponentName(%q, %q) = %q, want %q", c.appID, c.activity, got, c.want)
		}
	}
}

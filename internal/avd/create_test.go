// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package avd

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// fakeAvdManager fails any invocation carrying a -d template argument
// when failTemplate is set, and records every argv line to calls.log.
// Successful invocations create the .avd directory the way the real tool
// does.
func fakeAvdManager(t *testing.T, dir, avdHome string, failTemplate bool) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stub scripts are POSIX shell")
	}
	fail := ""
	if failTemplate {
		fail = "case \"$*\" in *' -d '*) echo 'Error: device not found' >&2; exit 1;; esac\n"
	}
	script := "#!/bin/sh\n" +
		"echo \"$*\" >> \"" + dir + "/calls.log\"\n" +
		fail +
		"name=''\n" +
		"prev=''\n" +
		"for a in \"$@\"; do\n" +
		"  [ \"$prev\" = '-n' ] && name=$a\n" +
		"  prev=$a\n" +
		"done\n" +
		"mkdir -p \"" + avdHome + "/$name.avd\"\n" +
		"echo 'hw.device.name=template' > \"" + avdHome + "/$name.avd/config.ini\"\n" +
		"exit 0\n"
	path := filepath.Join(dir, "avdmanager")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write avdmanager stub: %v", err)
	}
	return path
}

func TestCreateRetriesWithoutDeviceTemplate(t *testing.T) {
	dir := t.TempDir()
	avdHome := filepath.Join(dir, "avd")
	env := Env{
		AVDHome: avdHome,
		AvdMgr:  fakeAvdManager(t, dir, avdHome, true),
		GPUMode: "swiftshader_indirect",
	}

	profile, err := ProfileByName("pixel-6")
	if err != nil {
		t.Fatal(err)
	}
	if err := Create(env, "dev", profile, "system-images;android-35;google_apis;x86_64"); err != nil {
		t.Fatalf("Create should succeed via template fallback: %v", err)
	}

	calls, err := os.ReadFile(filepath.Join(dir, "calls.log"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(calls)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected exactly 2 avdmanager invocations, got %d:\n%s", len(lines), calls)
	}
	if !strings.Contains(lines[0], "-d pixel_6") {
		t.Fatalf("first attempt should pass the template: %s", lines[0])
	}
	if strings.Contains(lines[1], "-d ") {
		t.Fatalf("fallback attempt must not pass a template: %s", lines[1])
	}

	// The config merge ran after the fallback created the directory.
	b, err := os.ReadFile(filepath.Join(avdHome, "dev.avd", "config.ini"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), "hw.lcd.width=1080") {
		t.Fatalf("hardware config not written: %s", b)
	}
}

func TestCreateFailsAfterBothAttempts(t *testing.T) {
	dir := t.TempDir()
	stub := filepath.Join(dir, "avdmanager")
	if runtime.GOOS == "windows" {
		t.Skip("stub scripts are POSIX shell")
	}
	if err := os.WriteFile(stub, []byte("#!/bin/sh\nexit 1\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	env := Env{AVDHome: filepath.Join(dir, "avd"), AvdMgr: stub}

	err := Create(env, "dev", DefaultProfile(), "system-images;android-35;google_apis;x86_64")
	var cerr *CreationError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *CreationError, got %T: %v", err, err)
	}
}

func TestDeleteIdempotent(t *testing.T) {
	env := Env{AVDHome: t.TempDir()}
	if err := Delete(env, "missing"); err != nil {
		t.Fatalf("delete missing: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(env.AVDHome, "temp.avd"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := Delete(env, "temp"); err != nil {
		t.Fatalf("delete existing: %v", err)
	}
	if err := Delete(env, "temp"); err != nil {
		t.Fatalf("delete again: %v", err)
	}
}

func TestListFindsAVDDirs(t *testing.T) {
	env := Env{AVDHome: t.TempDir()}
	for _, name := range []string{"one.avd", "two.avd", "not-an-avd"} {
		if err := os.MkdirAll(filepath.Join(env.AVDHome, name), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	names, err := List(env)
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 {
		t.Fatalf("expected 2 AVDs, got %v", names)
	}
}

// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package config

import (
	"strings"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ANDROID_SDK_ROOT", "/sdk")
	t.Setenv("ANDROID_AVD", "")
	t.Setenv("SKIP_VITE_SERVER", "")

	cfg := Load()
	if cfg.AVDName != "webview-dev" {
		t.Fatalf("default AVD name: %s", cfg.AVDName)
	}
	if cfg.DevServerURL != "http://localhost:5173" {
		t.Fatalf("default dev server URL: %s", cfg.DevServerURL)
	}
	if cfg.SkipDevServer {
		t.Fatal("SkipDevServer should default to false")
	}
	if cfg.SystemImage() != "system-images;android-35;google_apis;"+cfg.ABI {
		t.Fatalf("system image: %s", cfg.SystemImage())
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ANDROID_AVD", "pixel-test")
	t.Setenv("VITE_DEV_SERVER_URL", "http://10.0.2.2:5173")
	t.Setenv("SKIP_VITE_SERVER", "1")
	t.Setenv("DEVRIG_API_LEVEL", "34")
	t.Setenv("DEVRIG_BOOT_TIMEOUT", "90s")

	cfg := Load()
	if cfg.AVDName != "pixel-test" {
		t.Fatalf("AVD name: %s", cfg.AVDName)
	}
	if cfg.DevServerURL != "http://10.0.2.2:5173" {
		t.Fatalf("dev server URL: %s", cfg.DevServerURL)
	}
	if !cfg.SkipDevServer {
		t.Fatal("SKIP_VITE_SERVER=1 should set SkipDevServer")
	}
	if cfg.APILevel != 34 {
		t.Fatalf("API level: %d", cfg.APILevel)
	}
	if cfg.BootTimeout.Seconds() != 90 {
		t.Fatalf("boot timeout: %s", cfg.BootTimeout)
	}
}

func TestChildEnvOverridesWithoutMutation(t *testing.T) {
	t.Setenv("ANDROID_HOME", "/stale/sdk")
	t.Setenv("ANDROID_SDK_ROOT", "/stale/sdk")

	cfg := Load()
	cfg.SDKRoot = "/fresh/sdk"
	cfg.JavaHome = "/fresh/jdk"

	env := cfg.ChildEnv()
	var sawHome, sawJava, sawPath bool
	for _, kv := range env {
		switch {
		case kv == "ANDROID_HOME=/fresh/sdk":
			sawHome = true
		case kv == "JAVA_HOME=/fresh/jdk":
			sawJava = true
		case strings.HasPrefix(kv, "PATH="):
			sawPath = true
			if !strings.Contains(kv, "platform-tools") {
				t.Fatalf("PATH missing platform-tools: %s", kv)
			}
		case kv == "ANDROID_HOME=/stale/sdk":
			t.Fatal("stale ANDROID_HOME leaked into child env")
		}
	}
	if !sawHome || !sawJava || !sawPath {
		t.Fatalf("missing overrides: home=%v java=%v path=%v", sawHome, sawJava, sawPath)
	}

	// A second call must return an independent slice.
	env2 := cfg.ChildEnv("EXTRA=1")
	if len(env2) == len(env) {
		t.Fatal("expected extra variable in second env")
	}
}

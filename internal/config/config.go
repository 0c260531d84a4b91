// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

// Package config resolves the rig configuration once per run. The result
// is an immutable value threaded through every step; external-tool
// environments are derived from it per call instead of mutating the
// process environment.
package config

import (
	"context"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/forkbombeu/devrig/internal/hostos"
)

// Config holds everything a pipeline run needs. Values come from the
// process environment, optionally seeded from a .env file in the working
// directory (the dev-server projects this rig serves keep their settings
// there anyway).
type Config struct {
	Platform hostos.Platform

	SDKRoot  string // ANDROID_SDK_ROOT / ANDROID_HOME
	JavaHome string // JAVA_HOME
	AVDHome  string // ANDROID_AVD_HOME (default ~/.android/avd)
	ToolsDir string // private install dir for downloaded toolchains

	AVDName      string // ANDROID_AVD
	APILevel     int    // DEVRIG_API_LEVEL
	ImageVariant string // DEVRIG_IMAGE_VARIANT (google_apis, default, ...)
	ABI          string // DEVRIG_ABI
	DeviceName   string // DEVRIG_DEVICE (empty = interactive prompt)
	GPUMode      string // DEVRIG_GPU

	EmulatorBin   string // ANDROID_EMULATOR override
	ADBBin        string // ANDROID_ADB override
	AvdManagerBin string // DEVRIG_AVDMANAGER override
	SdkManagerBin string // DEVRIG_SDKMANAGER override

	DevServerURL      string        // VITE_DEV_SERVER_URL
	DevServerCmd      string        // DEVRIG_DEV_SERVER_CMD
	SkipDevServer     bool          // SKIP_VITE_SERVER
	DevServerAttempts int           // DEVRIG_DEV_SERVER_ATTEMPTS
	DevServerInterval time.Duration // DEVRIG_DEV_SERVER_INTERVAL

	ArtifactPath string // DEVRIG_APK
	AppID        string // DEVRIG_APP_ID
	MainActivity string // DEVRIG_MAIN_ACTIVITY

	BootTimeout  time.Duration // DEVRIG_BOOT_TIMEOUT
	DevToolsPort int           // DEVRIG_DEVTOOLS_PORT

	HistoryDB    string // DEVRIG_HISTORY_DB ("" disables the journal)
	OTLPEndpoint string // OTEL_EXPORTER_OTLP_ENDPOINT

	// CorrelationID ties logs and spans to a specific workflow run.
	CorrelationID string
	// Context parents OpenTelemetry spans.
	Context context.Context
}

// Load resolves a Config from the environment. A .env file in the current
// directory is read first but never overrides variables already set in
// the process environment.
func Load() Config {
	_ = godotenv.Load()

	p := hostos.Current()
	home := homeDir()

	sdk := getenv("ANDROID_SDK_ROOT", os.Getenv("ANDROID_HOME"))
	if sdk == "" {
		sdk = p.DefaultSDKRoot(home)
	}

	abi := "x86_64"
	if p.Arch == "arm64" {
		abi = "arm64-v8a"
	}

	return Config{
		Platform: p,

		SDKRoot:  sdk,
		JavaHome: os.Getenv("JAVA_HOME"),
		AVDHome:  getenv("ANDROID_AVD_HOME", filepath.Join(home, ".android", "avd")),
		ToolsDir: getenv("DEVRIG_TOOLS_DIR", filepath.Join(home, ".devrig", "toolchain")),

		AVDName:      getenv("ANDROID_AVD", "webview-dev"),
		APILevel:     envInt("DEVRIG_API_LEVEL", 35),
		ImageVariant: getenv("DEVRIG_IMAGE_VARIANT", "google_apis"),
		ABI:          getenv("DEVRIG_ABI", abi),
		DeviceName:   os.Getenv("DEVRIG_DEVICE"),
		GPUMode:      getenv("DEVRIG_GPU", "swiftshader_indirect"),

		EmulatorBin:   os.Getenv("ANDROID_EMULATOR"),
		ADBBin:        os.Getenv("ANDROID_ADB"),
		AvdManagerBin: os.Getenv("DEVRIG_AVDMANAGER"),
		SdkManagerBin: os.Getenv("DEVRIG_SDKMANAGER"),

		DevServerURL:      getenv("VITE_DEV_SERVER_URL", "http://localhost:5173"),
		DevServerCmd:      getenv("DEVRIG_DEV_SERVER_CMD", "npm run dev"),
		SkipDevServer:     envBool("SKIP_VITE_SERVER", false),
		DevServerAttempts: envInt("DEVRIG_DEV_SERVER_ATTEMPTS", 120),
		DevServerInterval: envDuration("DEVRIG_DEV_SERVER_INTERVAL", time.Second),

		ArtifactPath: getenv("DEVRIG_APK", filepath.Join("android", "app", "build", "outputs", "apk", "debug", "app-debug.apk")),
		AppID:        getenv("DEVRIG_APP_ID", "dev.webviewshell.app"),
		MainActivity: getenv("DEVRIG_MAIN_ACTIVITY", ".MainActivity"),

		BootTimeout:  envDuration("DEVRIG_BOOT_TIMEOUT", 5*time.Minute),
		DevToolsPort: envInt("DEVRIG_DEVTOOLS_PORT", 9222),

		HistoryDB:    getenv("DEVRIG_HISTORY_DB", filepath.Join(home, ".devrig", "history.db")),
		OTLPEndpoint: getenv("OTEL_EXPORTER_OTLP_ENDPOINT", os.Getenv("DEVRIG_OTLP_ENDPOINT")),

		CorrelationID: os.Getenv("DEVRIG_CORRELATION_ID"),
		Context:       context.Background(),
	}
}

// SystemImage is the sdkmanager package ID of the configured system image.
func (c Config) SystemImage() string {
	return "system-images;android-" + strconv.Itoa(c.APILevel) + ";" + c.ImageVariant + ";" + c.ABI
}

// PlatformPackage is the sdkmanager package ID of the configured platform.
func (c Config) PlatformPackage() string {
	return "platforms;android-" + strconv.Itoa(c.APILevel)
}

// ChildEnv builds a fresh environment for one external-tool invocation:
// the process environment with SDK/Java variables overridden and the SDK
// tool directories prepended to PATH. The slice is newly allocated on
// every call so no step can contaminate another.
func (c Config) ChildEnv(extra ...string) []string {
	overrides := map[string]string{
		"ANDROID_HOME":     c.SDKRoot,
		"ANDROID_SDK_ROOT": c.SDKRoot,
		"ANDROID_AVD_HOME": c.AVDHome,
	}
	if c.JavaHome != "" {
		overrides["JAVA_HOME"] = c.JavaHome
	}
	for _, kv := range extra {
		if k, v, ok := strings.Cut(kv, "="); ok {
			overrides[k] = v
		}
	}

	sep := ":"
	if c.Platform.IsWindows() {
		sep = ";"
	}
	pathPrepend := strings.Join([]string{
		filepath.Join(c.SDKRoot, "platform-tools"),
		filepath.Join(c.SDKRoot, "emulator"),
		filepath.Join(c.SDKRoot, "cmdline-tools", "latest", "bin"),
	}, sep)
	if c.JavaHome != "" {
		pathPrepend = filepath.Join(c.JavaHome, "bin") + sep + pathPrepend
	}

	out := make([]string, 0, len(os.Environ())+len(overrides))
	for _, kv := range os.Environ() {
		k, _, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if _, replaced := overrides[k]; replaced {
			continue
		}
		if strings.EqualFold(k, "PATH") {
			continue
		}
		out = append(out, kv)
	}
	for k, v := range overrides {
		out = append(out, k+"="+v)
	}
	out = append(out, "PATH="+pathPrepend+sep+os.Getenv("PATH"))
	return out
}

func homeDir() string {
	if usr, err := user.Current(); err == nil && usr.HomeDir != "" {
		return usr.HomeDir
	}
	return os.Getenv("HOME")
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envBool(k string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

func envDuration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return d
		}
	}
	return def
}

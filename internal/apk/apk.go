// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

// Package apk installs and launches the shell application on a booted
// emulator. The artifact is built by the host project's Gradle wrapper;
// this package never synthesizes one.
package apk

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/forkbombeu/devrig/internal/config"
)

// NotFoundError means the APK artifact is missing on disk. It is raised
// before any device interaction so a forgotten build fails fast.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("apk artifact not found: %s (run the project's assembleDebug first)", e.Path)
}

// InstallError means adb install returned a non-zero exit code.
type InstallError struct {
	Serial string
	Output string
	Err    error
}

func (e *InstallError) Error() string {
	return fmt.Sprintf("apk install failed on %s: %v", e.Serial, e.Err)
}

func (e *InstallError) Unwrap() error { return e.Err }

// Resolve validates the configured artifact path and returns it
// absolute. The file only has to exist; adb decides whether it is a
// valid package.
func Resolve(cfg config.Config) (string, error) {
	path := cfg.ArtifactPath
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", &NotFoundError{Path: path}
	}
	return path, nil
}

// BuildDebug runs the project's Gradle wrapper to produce the debug
// artifact. Callers that manage builds themselves skip this and go
// straight to Resolve.
func BuildDebug(ctx context.Context, cfg config.Config, projectDir string) error {
	wrapper := filepath.Join(projectDir, "gradlew"+cfg.Platform.ScriptSuffix())
	if _, err := os.Stat(wrapper); err != nil {
		return fmt.Errorf("gradle wrapper not found in %s: %w", projectDir, err)
	}

	cmd := exec.CommandContext(ctx, wrapper, "assembleDebug")
	cmd.Dir = projectDir
	cmd.Env = cfg.ChildEnv("JAVA_HOME=" + cfg.JavaHome)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	slog.Info("building debug apk", "dir", projectDir)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("gradle assembleDebug: %w", err)
	}
	return nil
}

// Installer targets one device serial with a resolved adb binary.
type Installer struct {
	ADB    string
	Serial string

	// Environ builds a fresh child environment per invocation. Nil
	// falls back to the process environment.
	Environ func(extra ...string) []string

	CorrelationID string
}

func (i Installer) environ() []string {
	if i.Environ != nil {
		return i.Environ()
	}
	return os.Environ()
}

// Install pushes the APK with -r (reinstall, keep data) and -g (grant
// runtime permissions). The adb exit code is the sole success signal;
// adb prints "Success" on some versions and nothing on others.
func (i Installer) Install(ctx context.Context, apkPath string) error {
	cmd := exec.CommandContext(ctx, i.ADB, "-s", i.Serial, "install", "-r", "-g", apkPath)
	cmd.Env = i.environ()
	out, err := cmd.CombinedOutput()
	if err != nil {
		return &InstallError{Serial: i.Serial, Output: string(out), Err: err}
	}
	slog.Info("apk installed", "serial", i.Serial, "apk", apkPath, "correlation_id", i.CorrelationID)
	return nil
}

// Launch starts the app's main activity via the activity manager. A
// leading dot on the activity is shorthand for a class inside the
// application package. Without a configured activity the app is poked
// through monkey, which resolves the launcher activity on-device.
func (i Installer) Launch(ctx context.Context, appID, activity string) error {
	if activity == "" {
		return i.launchViaMonkey(ctx, appID)
	}
	component := ComponentName(appID, activity)
	cmd := exec.CommandContext(ctx, i.ADB, "-s", i.Serial, "shell", "am", "start", "-n", component)
	cmd.Env = i.environ()
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("am start %s: %w: %s", component, err, strings.TrimSpace(string(out)))
	}
	// am start exits 0 even when the activity does not exist; the
	// failure shows up in its output instead.
	if strings.Contains(string(out), "Error") {
		return fmt.Errorf("am start %s: %s", component, strings.TrimSpace(string(out)))
	}
	slog.Info("app launched", "serial", i.Serial, "component", component, "correlation_id", i.CorrelationID)
	return nil
}

func (i Installer) launchViaMonkey(ctx context.Context, appID string) error {
	cmd := exec.CommandContext(ctx, i.ADB, "-s", i.Serial, "shell", "monkey",
		"-p", appID, "-c", "android.intent.category.LAUNCHER", "1")
	cmd.Env = i.environ()
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("monkey launch %s: %w: %s", appID, err, strings.TrimSpace(string(out)))
	}
	slog.Info("app launched", "serial", i.Serial, "app_id", appID, "correlation_id", i.CorrelationID)
	return nil
}

// ComponentName joins an application ID and activity into the
// package/class form am expects.
func ComponentName(appID, activity string) string {
	if strings.HasPrefix(activity, ".") {
		return appID + "/" + appID + activity
	}
	return appID + "/" + activity
}

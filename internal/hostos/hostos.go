// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

// Package hostos isolates every Windows/macOS/Linux difference the rig
// cares about behind a single capability object. Nothing outside this
// package is allowed to branch on runtime.GOOS.
package hostos

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// Platform describes the host the rig runs on.
type Platform struct {
	OS   string // runtime.GOOS value
	Arch string // runtime.GOARCH value
}

// Current returns the Platform for the running process.
func Current() Platform {
	return Platform{OS: runtime.GOOS, Arch: runtime.GOARCH}
}

func (p Platform) IsWindows() bool { return p.OS == "windows" }

// ExeSuffix is the suffix of native executables (".exe" on Windows).
func (p Platform) ExeSuffix() string {
	if p.IsWindows() {
		return ".exe"
	}
	return ""
}

// ScriptSuffix is the suffix of SDK launcher scripts (sdkmanager,
// avdmanager, gradlew) which ship as .bat files on Windows.
func (p Platform) ScriptSuffix() string {
	if p.IsWindows() {
		return ".bat"
	}
	return ""
}

// DefaultSDKRoot is where the Android SDK lives when ANDROID_HOME and
// ANDROID_SDK_ROOT give no hint.
func (p Platform) DefaultSDKRoot(home string) string {
	switch p.OS {
	case "windows":
		if local := os.Getenv("LOCALAPPDATA"); local != "" {
			return filepath.Join(local, "Android", "Sdk")
		}
		return filepath.Join(home, "AppData", "Local", "Android", "Sdk")
	case "darwin":
		return filepath.Join(home, "Library", "Android", "sdk")
	default:
		return filepath.Join(home, "Android", "Sdk")
	}
}

// cmdline-tools archive names published on dl.google.com. The revision is
// pinned so repeated bootstraps stay reproducible.
const cmdlineToolsRevision = "11076708"

// CmdlineToolsURL is the download URL of the Android command-line tools
// archive for this platform.
func (p Platform) CmdlineToolsURL() string {
	osName := map[string]string{
		"windows": "win",
		"darwin":  "mac",
		"linux":   "linux",
	}[p.OS]
	if osName == "" {
		osName = "linux"
	}
	return fmt.Sprintf(
		"https://dl.google.com/android/repository/commandlinetools-%s-%s_latest.zip",
		osName, cmdlineToolsRevision,
	)
}

// JDKArchiveURL is the download URL of an Eclipse Temurin 17 JDK archive
// for this platform.
func (p Platform) JDKArchiveURL() string {
	osName := p.OS
	if osName == "darwin" {
		osName = "mac"
	}
	arch := p.Arch
	if arch == "amd64" {
		arch = "x64"
	}
	ext := "tar.gz"
	if p.IsWindows() {
		ext = "zip"
	}
	return fmt.Sprintf(
		"https://api.adoptium.net/v3/binary/latest/17/ga/%s/%s/jdk/hotspot/normal/eclipse?project=jdk&archive=%s",
		osName, arch, ext,
	)
}

// BrowserCommand returns the command that opens url in the default
// browser. The returned Cmd is not started.
func (p Platform) BrowserCommand(url string) *exec.Cmd {
	switch p.OS {
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	case "darwin":
		return exec.Command("open", url)
	default:
		return exec.Command("xdg-open", url)
	}
}

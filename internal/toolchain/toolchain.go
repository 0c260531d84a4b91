// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

// Package toolchain prepares the host for emulator work: a Java runtime
// new enough for the Android tooling, the SDK command-line tools, and the
// SDK packages the pipeline needs. Every operation is idempotent; a
// second run probes and downloads nothing.
package toolchain

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/ysmood/lookpath"

	"github.com/forkbombeu/devrig/internal/config"
)

// minJavaMajor is the oldest Java release the current SDK tooling accepts.
const minJavaMajor = 17

// Bootstrapper installs missing toolchain pieces under cfg.ToolsDir and
// cfg.SDKRoot.
type Bootstrapper struct {
	cfg config.Config

	// Fetch downloads a URL to a local file. Tests replace it; the
	// default is the shared HTTP fetch.
	Fetch func(ctx context.Context, url, dest string) error
}

// New returns a Bootstrapper for cfg.
func New(cfg config.Config) *Bootstrapper {
	return &Bootstrapper{cfg: cfg, Fetch: fetch}
}

// EnsureJava resolves a Java >= 17 home directory, installing a JDK under
// the rig's tools dir when none is found. The returned path is suitable
// for JAVA_HOME.
func (b *Bootstrapper) EnsureJava(ctx context.Context) (string, error) {
	exe := "java" + b.cfg.Platform.ExeSuffix()

	// Probe order: explicit JAVA_HOME, a previous rig install, PATH.
	if b.cfg.JavaHome != "" {
		if home, ok := b.probeJavaHome(b.cfg.JavaHome, exe); ok {
			return home, nil
		}
	}
	privateJDK := filepath.Join(b.cfg.ToolsDir, "jdk")
	if home, ok := b.probeJavaHome(privateJDK, exe); ok {
		return home, nil
	}
	if p, err := lookpath.LookPath(os.Getenv("PATH"), exe); err == nil {
		if javaVersionOK(p) {
			// JAVA_HOME is two levels up from <home>/bin/java.
			return filepath.Dir(filepath.Dir(p)), nil
		}
	}

	home, err := b.installJDK(ctx, privateJDK, exe)
	if err != nil {
		return "", &UnavailableError{Tool: "java", Err: err}
	}
	return home, nil
}

func (b *Bootstrapper) probeJavaHome(home, exe string) (string, bool) {
	java := filepath.Join(home, "bin", exe)
	if _, err := os.Stat(java); err != nil {
		return "", false
	}
	if !javaVersionOK(java) {
		return "", false
	}
	return home, true
}

func (b *Bootstrapper) installJDK(ctx context.Context, dest, exe string) (string, error) {
	url := b.cfg.Platform.JDKArchiveURL()
	ext := ".tar.gz"
	if strings.Contains(url, "archive=zip") || strings.HasSuffix(url, ".zip") {
		ext = ".zip"
	}
	archive := filepath.Join(b.cfg.ToolsDir, "cache", "jdk"+strconv.Itoa(minJavaMajor)+ext)
	if err := b.Fetch(ctx, url, archive); err != nil {
		return "", err
	}

	stage := dest + ".extract"
	_ = os.RemoveAll(stage)
	if err := extractArchive(archive, stage); err != nil {
		return "", err
	}
	root, err := locateToolRoot(stage, filepath.Join("bin", exe))
	if err != nil {
		return "", err
	}
	_ = os.RemoveAll(dest)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", errors.Wrap(err, "create tools dir")
	}
	if err := os.Rename(root, dest); err != nil {
		return "", errors.Wrap(err, "move JDK into place")
	}
	_ = os.RemoveAll(stage)
	if !javaVersionOK(filepath.Join(dest, "bin", exe)) {
		return "", errors.New("installed JDK fails version probe")
	}
	return dest, nil
}

// EnsureCmdlineTools makes sure sdkmanager exists under
// <sdk>/cmdline-tools/latest and returns its path.
func (b *Bootstrapper) EnsureCmdlineTools(ctx context.Context) (string, error) {
	script := "sdkmanager" + b.cfg.Platform.ScriptSuffix()
	latest := filepath.Join(b.cfg.SDKRoot, "cmdline-tools", "latest")
	sdkmanager := filepath.Join(latest, "bin", script)
	if _, err := os.Stat(sdkmanager); err == nil {
		return sdkmanager, nil
	}

	archive := filepath.Join(b.cfg.ToolsDir, "cache", "cmdline-tools.zip")
	if err := b.Fetch(ctx, b.cfg.Platform.CmdlineToolsURL(), archive); err != nil {
		return "", &UnavailableError{Tool: "sdkmanager", Err: err}
	}
	stage := latest + ".extract"
	_ = os.RemoveAll(stage)
	if err := extractArchive(archive, stage); err != nil {
		return "", &UnavailableError{Tool: "sdkmanager", Err: err}
	}
	// Google's zip nests a cmdline-tools/ directory; newer revisions have
	// nested it twice. Find whichever level actually holds bin/sdkmanager.
	root, err := locateToolRoot(stage, filepath.Join("bin", script))
	if err != nil {
		return "", &UnavailableError{Tool: "sdkmanager", Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(latest), 0o755); err != nil {
		return "", &UnavailableError{Tool: "sdkmanager", Err: err}
	}
	_ = os.RemoveAll(latest)
	if err := os.Rename(root, latest); err != nil {
		return "", &UnavailableError{Tool: "sdkmanager", Err: err}
	}
	_ = os.RemoveAll(stage)
	if _, err := os.Stat(sdkmanager); err != nil {
		return "", &UnavailableError{Tool: "sdkmanager", Err: err}
	}
	return sdkmanager, nil
}

// locateToolRoot returns the directory containing probe, looking at dir
// itself and then one and two levels deep. Archives sometimes nest an
// extra directory level.
func locateToolRoot(dir, probe string) (string, error) {
	candidates := []string{dir}
	for _, depth1 := range listDirs(dir) {
		candidates = append(candidates, depth1)
		candidates = append(candidates, listDirs(depth1)...)
	}
	for _, c := range candidates {
		if _, err := os.Stat(filepath.Join(c, probe)); err == nil {
			return c, nil
		}
	}
	return "", errors.Errorf("no %s found under %s", probe, dir)
}

func listDirs(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	return out
}

var javaVersionRe = regexp.MustCompile(`version "([0-9._]+)"`)

// javaVersionOK runs `java -version` and reports whether the major
// release is at least minJavaMajor.
func javaVersionOK(java string) bool {
	out, err := exec.Command(java, "-version").CombinedOutput()
	if err != nil {
		return false
	}
	return javaMajor(string(out)) >= minJavaMajor
}

// javaMajor parses the major release out of `java -version` output.
// Legacy runtimes report "1.8.0_392" for Java 8.
func javaMajor(versionOutput string) int {
	m := javaVersionRe.FindStringSubmatch(versionOutput)
	if m == nil {
		return 0
	}
	parts := strings.FieldsFunc(m[1], func(r rune) bool { return r == '.' || r == '_' })
	if len(parts) == 0 {
		return 0
	}
	major, _ := strconv.Atoi(parts[0])
	if major == 1 && len(parts) > 1 {
		major, _ = strconv.Atoi(parts[1])
	}
	return major
}

// Tools holds resolved filesystem locations of the external binaries the
// pipeline invokes. Resolution happens once per run; every path is
// guaranteed to exist at resolution time.
type Tools struct {
	SdkManager string
	AvdManager string
	Emulator   string
	ADB        string
}

// ResolveTools locates all external tools for cfg. A tool resolves to an
// existing file or the whole resolution fails; a dead path is never
// handed downstream.
func ResolveTools(cfg config.Config) (Tools, error) {
	exe := cfg.Platform.ExeSuffix()
	script := cfg.Platform.ScriptSuffix()

	sdkmanager, err := LookupTool(cfg, cfg.SdkManagerBin, "sdkmanager"+script,
		filepath.Join(cfg.SDKRoot, "cmdline-tools", "latest", "bin"))
	if err != nil {
		return Tools{}, err
	}
	avdmanager, err := LookupTool(cfg, cfg.AvdManagerBin, "avdmanager"+script,
		filepath.Join(cfg.SDKRoot, "cmdline-tools", "latest", "bin"))
	if err != nil {
		return Tools{}, err
	}
	emulator, err := LookupTool(cfg, cfg.EmulatorBin, "emulator"+exe,
		filepath.Join(cfg.SDKRoot, "emulator"))
	if err != nil {
		return Tools{}, err
	}
	adb, err := LookupTool(cfg, cfg.ADBBin, "adb"+exe,
		filepath.Join(cfg.SDKRoot, "platform-tools"))
	if err != nil {
		return Tools{}, err
	}
	return Tools{SdkManager: sdkmanager, AvdManager: avdmanager, Emulator: emulator, ADB: adb}, nil
}

// LookupTool resolves one binary: an explicit override must exist as
// given; otherwise the SDK-relative location is probed, then PATH.
func LookupTool(cfg config.Config, override, name, sdkDir string) (string, error) {
	if override != "" {
		if _, err := os.Stat(override); err != nil {
			return "", fmt.Errorf("configured %s does not exist: %s", name, override)
		}
		return override, nil
	}
	candidate := filepath.Join(sdkDir, name)
	if _, err := os.Stat(candidate); err == nil {
		return candidate, nil
	}
	if p, err := lookpath.LookPath(os.Getenv("PATH"), name); err == nil {
		return p, nil
	}
	return "", fmt.Errorf("%s not found (looked in %s and PATH)", name, sdkDir)
}

// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package avd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// MergeConfigINI upserts patch into a key=value config file body.
// Existing keys are overridden in place, unknown keys and #-comments are
// kept untouched, and new keys are appended in sorted order so repeated
// merges are stable.
func MergeConfigINI(base []byte, patch map[string]string) []byte {
	remaining := make(map[string]string, len(patch))
	for k, v := range patch {
		remaining[k] = v
	}

	var out []string
	for _, line := range strings.Split(string(base), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			out = append(out, line)
			continue
		}
		key, _, found := strings.Cut(trimmed, "=")
		key = strings.TrimSpace(key)
		if !found {
			out = append(out, line)
			continue
		}
		if v, ok := remaining[key]; ok {
			out = append(out, key+"="+v)
			delete(remaining, key)
			continue
		}
		out = append(out, line)
	}

	// Drop a single trailing blank so appended keys don't leave gaps.
	for len(out) > 0 && strings.TrimSpace(out[len(out)-1]) == "" {
		out = out[:len(out)-1]
	}

	keys := make([]string, 0, len(remaining))
	for k := range remaining {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+remaining[k])
	}

	return []byte(strings.Join(out, "\n") + "\n")
}

// hardwarePatch builds the deterministic hardware overrides for a
// profile. The merge preserves whatever else avdmanager wrote.
func hardwarePatch(env Env, profile DeviceProfile, sysImage string) (map[string]string, error) {
	ramMB, err := profile.RAMMegabytes()
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", profile.Name, err)
	}
	patch := map[string]string{
		"hw.lcd.width":           fmt.Sprint(profile.Width),
		"hw.lcd.height":          fmt.Sprint(profile.Height),
		"hw.lcd.density":         fmt.Sprint(profile.Density),
		"hw.ramSize":             fmt.Sprint(ramMB),
		"hw.keyboard":            "yes",
		"hw.gpu.enabled":         "yes",
		"hw.gpu.mode":            env.GPUMode,
		"fastboot.forceColdBoot": "yes",
	}
	if abi := imageABI(sysImage); abi != "" {
		patch["abi.type"] = abi
	}
	if sysdir := imageSysdir(sysImage); sysdir != "" {
		patch["image.sysdir.1"] = sysdir
	}
	return patch, nil
}

// WriteConfig rewrites the AVD's config.ini with the profile's hardware
// configuration. The AVD directory must already exist (the creation tool
// makes it); a missing directory is an error, not something to create.
func WriteConfig(env Env, name string, profile DeviceProfile, sysImage string) error {
	avdDir := filepath.Join(env.AVDHome, name+".avd")
	if _, err := os.Stat(avdDir); err != nil {
		return fmt.Errorf("avd directory missing for %s: %w", name, err)
	}
	cfgPath := filepath.Join(avdDir, "config.ini")
	base, err := os.ReadFile(cfgPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read %s: %w", cfgPath, err)
	}
	patch, err := hardwarePatch(env, profile, sysImage)
	if err != nil {
		return err
	}
	merged := MergeConfigINI(base, patch)
	if err := os.WriteFile(cfgPath, merged, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", cfgPath, err)
	}
	logEvent(env, "avd config written", "name", name, "profile", profile.Name)
	return nil
}

// imageABI extracts the ABI from a system-image package ID, e.g.
// "system-images;android-35;google_apis;x86_64" -> "x86_64".
func imageABI(sysImage string) string {
	parts := strings.Split(sysImage, ";")
	if len(parts) < 4 {
		return ""
	}
	return parts[3]
}

// imageSysdir converts a system-image package ID into the SDK-relative
// directory config.ini expects.
func imageSysdir(sysImage string) string {
	parts := strings.Split(sysImage, ";")
	if len(parts) < 4 || parts[0] != "system-images" {
		return ""
	}
	return strings.Join(parts, "/") + "/"
}

// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package avd

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// Exists reports whether an AVD directory is present under AVDHome.
func Exists(env Env, name string) bool {
	_, err := os.Stat(filepath.Join(env.AVDHome, name+".avd"))
	return err == nil
}

// Create makes a virtual device via avdmanager and pins its hardware
// configuration to the profile. When the SDK does not know the profile's
// device template, creation is retried once without the template before
// giving up.
func Create(env Env, name string, profile DeviceProfile, sysImage string) error {
	_, span := startSpan(
		env,
		"avd.Create",
		attribute.String("name", name),
		attribute.String("profile", profile.Name),
	)
	defer span.End()

	if name == "" {
		err := errors.New("empty AVD name")
		recordSpanError(span, err)
		return err
	}
	if err := os.MkdirAll(env.AVDHome, 0o755); err != nil {
		recordSpanError(span, err)
		return err
	}

	out, err := runCreate(env, name, sysImage, profile.Template)
	if err != nil && profile.Template != "" {
		// Older SDKs ship without some device templates; the AVD still
		// works without one since the config merge pins the hardware.
		logWarn(env, "avd create with device template failed, retrying without",
			"name", name, "template", profile.Template, "error", err)
		out, err = runCreate(env, name, sysImage, "")
	}
	if err != nil {
		cerr := &CreationError{Name: name, Output: out, Err: err}
		recordSpanError(span, cerr)
		return cerr
	}

	if err := WriteConfig(env, name, profile, sysImage); err != nil {
		recordSpanError(span, err)
		return err
	}
	logEvent(env, "avd created", "name", name, "profile", profile.Name, "image", sysImage)
	return nil
}

func runCreate(env Env, name, sysImage, template string) (string, error) {
	args := []string{"create", "avd", "-n", name, "-k", sysImage, "--force"}
	if template != "" {
		args = append(args, "-d", template)
	}
	cmd := exec.Command(env.AvdMgr, args...)
	cmd.Stdin = strings.NewReader("no\n") // decline the custom hardware profile prompt
	cmd.Env = env.environ()
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// Delete removes an AVD and its .ini. Idempotent.
func Delete(env Env, name string) error {
	if name == "" {
		return errors.New("empty name")
	}
	_ = os.RemoveAll(filepath.Join(env.AVDHome, name+".avd"))
	_ = os.Remove(filepath.Join(env.AVDHome, name+".ini"))
	return nil
}

// List returns the AVD names under AVDHome.
func List(env Env) ([]string, error) {
	entries, err := os.ReadDir(env.AVDHome)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && strings.HasSuffix(e.Name(), ".avd") {
			out = append(out, strings.TrimSuffix(e.Name(), ".avd"))
		}
	}
	return out, nil
}

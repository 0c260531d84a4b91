// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package avd

import (
	"context"
	"os"

	"github.com/forkbombeu/devrig/internal/config"
	"github.com/forkbombeu/devrig/internal/toolchain"
)

// Env carries the resolved tool paths and directories every AVD operation
// needs. It is a value; operations never mutate it.
type Env struct {
	SDKRoot string // ANDROID_SDK_ROOT
	AVDHome string // ANDROID_AVD_HOME (default ~/.android/avd)

	Emulator string // emulator binary
	ADB      string // adb binary
	AvdMgr   string // avdmanager binary

	GPUMode string // emulator -gpu backend

	// Environ builds a fresh child environment per tool invocation.
	// Nil falls back to the process environment.
	Environ func(extra ...string) []string

	// CorrelationID ties logs to a specific workflow run.
	CorrelationID string
	// Context parents OpenTelemetry spans.
	Context context.Context
}

// FromConfig builds an Env from the run configuration and resolved tools.
func FromConfig(cfg config.Config, tools toolchain.Tools) Env {
	return Env{
		SDKRoot:       cfg.SDKRoot,
		AVDHome:       cfg.AVDHome,
		Emulator:      tools.Emulator,
		ADB:           tools.ADB,
		AvdMgr:        tools.AvdManager,
		GPUMode:       cfg.GPUMode,
		Environ:       cfg.ChildEnv,
		CorrelationID: cfg.CorrelationID,
		Context:       cfg.Context,
	}
}

func (e Env) environ(extra ...string) []string {
	if e.Environ != nil {
		return e.Environ(extra...)
	}
	return append(os.Environ(), extra...)
}

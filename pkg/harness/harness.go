// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

// Package harness provides a Go library for driving the WebView
// dev-shell pipeline programmatically: toolchain bootstrap, emulator
// lifecycle, app install/launch, and the DevTools bridge.
package harness

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/forkbombeu/devrig/internal/apk"
	"github.com/forkbombeu/devrig/internal/avd"
	"github.com/forkbombeu/devrig/internal/config"
	"github.com/forkbombeu/devrig/internal/devtools"
	"github.com/forkbombeu/devrig/internal/history"
	"github.com/forkbombeu/devrig/internal/pipeline"
	"github.com/forkbombeu/devrig/internal/toolchain"
)

var tracer = otel.Tracer("devrig")

// Harness wraps a resolved configuration. External tools are resolved
// lazily on first use and cached.
type Harness struct {
	cfg   config.Config
	tools *toolchain.Tools
}

func (h *Harness) startSpan(name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if h.cfg.CorrelationID != "" {
		attrs = append(attrs, attribute.String("correlation_id", h.cfg.CorrelationID))
	}
	ctx := h.cfg.Context
	if ctx == nil {
		ctx = context.Background()
	}
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// New creates a Harness from the process environment (including a .env
// file in the working directory, if present).
func New() *Harness {
	return &Harness{cfg: config.Load()}
}

// NewWithConfig creates a Harness from an explicit configuration.
func NewWithConfig(cfg config.Config) *Harness {
	return &Harness{cfg: cfg}
}

// NewWithContextAndCorrelationID creates a Harness whose operations are
// traced under ctx and tagged with correlationID in structured logs.
func NewWithContextAndCorrelationID(ctx context.Context, correlationID string) *Harness {
	cfg := config.Load()
	if ctx != nil {
		cfg.Context = ctx
	}
	cfg.CorrelationID = correlationID
	return &Harness{cfg: cfg}
}

// Config returns a copy of the harness configuration.
func (h *Harness) Config() config.Config { return h.cfg }

// Bootstrap installs any missing toolchain pieces and resolves the
// external tools. Safe to call repeatedly; a provisioned host resolves
// in milliseconds.
func (h *Harness) Bootstrap(ctx context.Context) error {
	tools, err := pipeline.Bootstrap(ctx, &h.cfg)
	if err != nil {
		return err
	}
	h.tools = &tools
	return nil
}

func (h *Harness) ensureTools(ctx context.Context) (toolchain.Tools, error) {
	if h.tools != nil {
		return *h.tools, nil
	}
	if err := h.Bootstrap(ctx); err != nil {
		return toolchain.Tools{}, err
	}
	return *h.tools, nil
}

func (h *Harness) env(ctx context.Context, tools toolchain.Tools) avd.Env {
	env := avd.FromConfig(h.cfg, tools)
	if ctx != nil {
		env.Context = ctx
	}
	return env
}

// UpOptions overrides parts of the configuration for one full
// pipeline run.
type UpOptions struct {
	Device        string // device profile name ("" = config, then prompt)
	AVDName       string // AVD name override
	SkipDevServer bool   // ride an externally managed dev server
}

// Up runs the whole pipeline: bootstrap, device selection, emulator
// boot and dev-server gate in parallel, install, launch, DevTools.
func (h *Harness) Up(ctx context.Context, opts UpOptions) (*pipeline.Result, error) {
	cfg := h.cfg
	if opts.Device != "" {
		cfg.DeviceName = opts.Device
	}
	if opts.AVDName != "" {
		cfg.AVDName = opts.AVDName
	}
	if opts.SkipDevServer {
		cfg.SkipDevServer = true
	}
	_, span := h.startSpan("harness.Up", attribute.String("avd_name", cfg.AVDName))
	defer span.End()
	result, err := pipeline.Run(ctx, cfg)
	if err != nil {
		span.RecordError(err)
	}
	return result, err
}

// CreateAVDOptions configures AVD creation.
type CreateAVDOptions struct {
	Name    string // AVD name (required)
	Profile string // device profile name (default: catalog default)
}

// CreateAVD creates the virtual device if it does not exist yet.
func (h *Harness) CreateAVD(ctx context.Context, opts CreateAVDOptions) error {
	tools, err := h.ensureTools(ctx)
	if err != nil {
		return err
	}
	profile := avd.DefaultProfile()
	if opts.Profile != "" {
		profile, err = avd.ProfileByName(opts.Profile)
		if err != nil {
			return err
		}
	}
	env := h.env(ctx, tools)
	if avd.Exists(env, opts.Name) {
		return nil
	}
	return avd.Create(env, opts.Name, profile, h.cfg.SystemImage())
}

// BootOptions configures emulator boot.
type BootOptions struct {
	Name    string        // AVD name (required)
	Timeout time.Duration // boot timeout (default: config)
}

// Boot launches the emulator and blocks until Android reports boot
// completion, returning the device serial.
func (h *Harness) Boot(ctx context.Context, opts BootOptions) (string, error) {
	tools, err := h.ensureTools(ctx)
	if err != nil {
		return "", err
	}
	env := h.env(ctx, tools)
	if procs, err := avd.ListRunning(env); err == nil {
		for _, p := range procs {
			if p.Name == opts.Name && p.Booted {
				return p.Serial, nil
			}
		}
	}
	session, err := avd.Launch(env, opts.Name)
	if err != nil {
		return "", err
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = h.cfg.BootTimeout
	}
	if err := avd.WaitForBoot(env, session.Serial, timeout); err != nil {
		_ = session.Kill()
		return "", err
	}
	return session.Serial, nil
}

// InstallOptions configures an APK install.
type InstallOptions struct {
	Serial  string // device serial (required)
	APKPath string // artifact path ("" = configured artifact)
}

// Install pushes the APK onto the device.
func (h *Harness) Install(ctx context.Context, opts InstallOptions) error {
	tools, err := h.ensureTools(ctx)
	if err != nil {
		return err
	}
	path := opts.APKPath
	if path == "" {
		path, err = apk.Resolve(h.cfg)
		if err != nil {
			return err
		}
	}
	installer := apk.Installer{ADB: tools.ADB, Serial: opts.Serial, Environ: h.cfg.ChildEnv, CorrelationID: h.cfg.CorrelationID}
	return installer.Install(ctx, path)
}

// Launch starts the configured main activity on the device.
func (h *Harness) Launch(ctx context.Context, serial string) error {
	tools, err := h.ensureTools(ctx)
	if err != nil {
		return err
	}
	installer := apk.Installer{ADB: tools.ADB, Serial: serial, Environ: h.cfg.ChildEnv, CorrelationID: h.cfg.CorrelationID}
	return installer.Launch(ctx, h.cfg.AppID, h.cfg.MainActivity)
}

// DevTools forwards the WebView debug socket of the running app and
// returns the inspectable pages.
func (h *Harness) DevTools(ctx context.Context, serial string) ([]devtools.Target, error) {
	tools, err := h.ensureTools(ctx)
	if err != nil {
		return nil, err
	}
	bridge := devtools.Bridge{
		ADB:      tools.ADB,
		Serial:   serial,
		AppID:    h.cfg.AppID,
		HostPort: h.cfg.DevToolsPort,
		Platform: h.cfg.Platform,
		Environ:  h.cfg.ChildEnv,
	}
	if err := bridge.Forward(ctx); err != nil {
		return nil, err
	}
	return bridge.Targets(ctx)
}

// ProcessInfo describes one running emulator.
type ProcessInfo struct {
	Serial string // emulator serial (e.g. emulator-5554)
	Name   string // AVD name
	Port   int    // console port
	PID    int    // process ID
	Booted bool   // whether Android fully booted
}

// ListRunning returns all running emulator instances.
func (h *Harness) ListRunning(ctx context.Context) ([]ProcessInfo, error) {
	tools, err := h.ensureTools(ctx)
	if err != nil {
		return nil, err
	}
	procs, err := avd.ListRunning(h.env(ctx, tools))
	if err != nil {
		return nil, err
	}
	result := make([]ProcessInfo, len(procs))
	for i, p := range procs {
		result[i] = ProcessInfo{Serial: p.Serial, Name: p.Name, Port: p.Port, PID: p.PID, Booted: p.Booted}
	}
	return result, nil
}

// Stop stops a running emulator by serial (e.g. "emulator-5554").
func (h *Harness) Stop(ctx context.Context, serial string) error {
	tools, err := h.ensureTools(ctx)
	if err != nil {
		return err
	}
	return avd.StopBySerial(h.env(ctx, tools), serial)
}

// DeleteAVD removes the virtual device and its .ini file.
func (h *Harness) DeleteAVD(ctx context.Context, name string) error {
	tools, err := h.ensureTools(ctx)
	if err != nil {
		return err
	}
	return avd.Delete(h.env(ctx, tools), name)
}

// Profiles returns the device-profile catalog.
func (h *Harness) Profiles() []avd.DeviceProfile { return avd.Catalog() }

// History returns the latest journaled runs, newest first. Without a
// configured journal it returns nothing.
func (h *Harness) History(ctx context.Context, limit int) ([]history.Run, error) {
	journal, err := history.Open(h.cfg.HistoryDB)
	if err != nil {
		return nil, err
	}
	defer journal.Close()
	return journal.Recent(ctx, limit)
}

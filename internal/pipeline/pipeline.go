// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

// Package pipeline drives a full dev-shell bring-up: toolchain
// bootstrap, device selection, emulator boot, dev-server gate, app
// install and launch, and the DevTools bridge. Emulator boot and the
// dev-server gate run concurrently; everything else is sequential.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/forkbombeu/devrig/internal/apk"
	"github.com/forkbombeu/devrig/internal/avd"
	"github.com/forkbombeu/devrig/internal/config"
	"github.com/forkbombeu/devrig/internal/devserver"
	"github.com/forkbombeu/devrig/internal/devtools"
	"github.com/forkbombeu/devrig/internal/history"
	"github.com/forkbombeu/devrig/internal/prompt"
	"github.com/forkbombeu/devrig/internal/toolchain"
)

var tracer = otel.Tracer("devrig")

// Result describes a successful bring-up.
type Result struct {
	Serial  string
	AVDName string
	Profile avd.DeviceProfile
	RunID   int64

	// Server is non-nil when the rig spawned the dev server and owns
	// its lifetime.
	Server *devserver.Server
}

type runner struct {
	cfg     config.Config
	journal *history.Journal
	runID   int64
}

// Run executes the whole pipeline for cfg. The APK artifact is
// validated before anything else so a forgotten build fails in
// milliseconds, not after an emulator boot.
func Run(ctx context.Context, cfg config.Config) (*Result, error) {
	apkPath, err := apk.Resolve(cfg)
	if err != nil {
		return nil, err
	}

	journal, err := history.Open(cfg.HistoryDB)
	if err != nil {
		slog.Warn("history journal unavailable, continuing without", "error", err)
		journal = nil
	}
	defer journal.Close()

	profile, err := prompt.ChooseProfile(cfg.DeviceName)
	if err != nil {
		return nil, err
	}
	slog.Info("device profile selected", "profile", profile.String())

	runID, err := journal.StartRun(ctx, cfg.CorrelationID, cfg.AVDName, profile.Name, cfg.APILevel)
	if err != nil {
		slog.Warn("history journal write failed", "error", err)
	}

	r := &runner{cfg: cfg, journal: journal, runID: runID}
	result, runErr := r.run(ctx, profile, apkPath)
	if err := journal.FinishRun(ctx, runID, runErr); err != nil {
		slog.Warn("history journal write failed", "error", err)
	}
	if runErr != nil {
		return nil, runErr
	}
	result.RunID = runID
	return result, nil
}

func (r *runner) run(ctx context.Context, profile avd.DeviceProfile, apkPath string) (*Result, error) {
	var tools toolchain.Tools
	err := r.step(ctx, "bootstrap", func(ctx context.Context) error {
		var err error
		tools, err = Bootstrap(ctx, &r.cfg)
		return err
	})
	if err != nil {
		return nil, err
	}

	env := avd.FromConfig(r.cfg, tools)
	env.Context = ctx

	// Emulator boot and the dev-server gate are independent; run them
	// side by side and fail the run on whichever breaks first.
	var serial string
	var server *devserver.Server
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return r.step(groupCtx, "boot-emulator", func(context.Context) error {
			var err error
			serial, err = r.ensureBooted(env, profile)
			return err
		})
	})
	group.Go(func() error {
		return r.step(groupCtx, "dev-server", func(ctx context.Context) error {
			var err error
			server, err = r.ensureDevServer(ctx)
			return err
		})
	})
	if err := group.Wait(); err != nil {
		server.Stop()
		return nil, err
	}

	installer := apk.Installer{
		ADB:           tools.ADB,
		Serial:        serial,
		Environ:       r.cfg.ChildEnv,
		CorrelationID: r.cfg.CorrelationID,
	}
	err = r.step(ctx, "install", func(ctx context.Context) error {
		return installer.Install(ctx, apkPath)
	})
	if err != nil {
		server.Stop()
		return nil, err
	}
	err = r.step(ctx, "launch", func(ctx context.Context) error {
		return installer.Launch(ctx, r.cfg.AppID, r.cfg.MainActivity)
	})
	if err != nil {
		server.Stop()
		return nil, err
	}

	// The DevTools bridge is a convenience; a broken bridge downgrades
	// to printed instructions instead of failing a working app.
	bridge := devtools.Bridge{
		ADB:      tools.ADB,
		Serial:   serial,
		AppID:    r.cfg.AppID,
		HostPort: r.cfg.DevToolsPort,
		Platform: r.cfg.Platform,
		Environ:  r.cfg.ChildEnv,
	}
	_ = r.step(ctx, "devtools", func(ctx context.Context) error {
		if err := r.connectDevTools(ctx, bridge); err != nil {
			slog.Warn("devtools bridge failed", "error", err)
			fmt.Fprint(os.Stderr, bridge.Instructions())
			return err
		}
		return nil
	})

	return &Result{
		Serial:  serial,
		AVDName: r.cfg.AVDName,
		Profile: profile,
		Server:  server,
	}, nil
}

// step runs fn under a span and journals its outcome.
func (r *runner) step(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := tracer.Start(ctx, name)
	defer span.End()

	started := time.Now()
	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		slog.Error("step failed", "step", name, "elapsed", time.Since(started).Round(time.Millisecond), "error", err)
	} else {
		slog.Info("step done", "step", name, "elapsed", time.Since(started).Round(time.Millisecond))
	}
	if jerr := r.journal.RecordStep(ctx, r.runID, name, started, err); jerr != nil {
		slog.Warn("history journal write failed", "error", jerr)
	}
	return err
}

// Bootstrap makes the host emulator-ready and resolves every external
// tool to an existing binary. It updates cfg.JavaHome so later child
// environments inherit the runtime it settled on.
func Bootstrap(ctx context.Context, cfg *config.Config) (toolchain.Tools, error) {
	b := toolchain.New(*cfg)

	javaHome, err := b.EnsureJava(ctx)
	if err != nil {
		return toolchain.Tools{}, err
	}
	cfg.JavaHome = javaHome
	slog.Info("java runtime ready", "java_home", javaHome)

	sdkmanager, err := b.EnsureCmdlineTools(ctx)
	if err != nil {
		return toolchain.Tools{}, err
	}

	if err := toolchain.AcceptLicenses(*cfg, sdkmanager); err != nil {
		return toolchain.Tools{}, err
	}
	for _, pkg := range toolchain.RequiredPackages(*cfg) {
		if packageInstalled(*cfg, pkg) {
			continue
		}
		slog.Info("installing sdk package", "package", pkg)
		if err := toolchain.InstallPackage(*cfg, sdkmanager, pkg); err != nil {
			return toolchain.Tools{}, err
		}
	}
	for _, pkg := range toolchain.OptionalPackages() {
		if packageInstalled(*cfg, pkg) {
			continue
		}
		if err := toolchain.InstallPackage(*cfg, sdkmanager, pkg); err != nil {
			slog.Warn("optional sdk package skipped", "package", pkg, "error", err)
		}
	}

	return toolchain.ResolveTools(*cfg)
}

// packageInstalled reports whether a sdkmanager package already has its
// directory under the SDK root. sdkmanager is idempotent anyway; this
// just skips its slow no-op runs.
func packageInstalled(cfg config.Config, pkg string) bool {
	rel := filepath.Join(strings.Split(pkg, ";")...)
	info, err := os.Stat(filepath.Join(cfg.SDKRoot, rel))
	return err == nil && info.IsDir()
}

// ensureBooted returns the serial of a booted emulator for the run's
// AVD, reusing an already-running one when possible.
func (r *runner) ensureBooted(env avd.Env, profile avd.DeviceProfile) (string, error) {
	if serial, ok := avd.FindBooted(env); ok {
		slog.Info("reusing booted emulator", "serial", serial)
		return serial, nil
	}

	if !avd.Exists(env, r.cfg.AVDName) {
		if err := avd.Create(env, r.cfg.AVDName, profile, r.cfg.SystemImage()); err != nil {
			return "", err
		}
	}

	session, err := avd.Launch(env, r.cfg.AVDName)
	if err != nil {
		return "", err
	}
	if err := avd.WaitForBoot(env, session.Serial, r.cfg.BootTimeout); err != nil {
		_ = session.Kill()
		return "", err
	}
	return session.Serial, nil
}

// ensureDevServer spawns the dev server (unless the run rides an
// external one) and gates on its HTTP readiness. The skip flag skips
// the gate as well: a run without a server must not wait for one.
func (r *runner) ensureDevServer(ctx context.Context) (*devserver.Server, error) {
	if r.cfg.SkipDevServer {
		slog.Info("dev server skipped")
		return nil, nil
	}

	server, err := devserver.Start(r.cfg)
	if err != nil {
		return nil, err
	}
	gate := devserver.Gate{
		URL:      r.cfg.DevServerURL,
		Interval: r.cfg.DevServerInterval,
		Attempts: r.cfg.DevServerAttempts,
	}
	if err := gate.Wait(ctx); err != nil {
		server.Stop()
		return nil, err
	}
	return server, nil
}

func (r *runner) connectDevTools(ctx context.Context, bridge devtools.Bridge) error {
	if err := bridge.Forward(ctx); err != nil {
		return err
	}
	if port, ok := devServerPort(r.cfg.DevServerURL); ok {
		if err := bridge.Reverse(ctx, port); err != nil {
			slog.Warn("dev server port reverse failed", "error", err)
		}
	}
	targets, err := bridge.Targets(ctx)
	if err != nil {
		return err
	}
	slog.Info("devtools ready", "targets", len(targets), "port", r.cfg.DevToolsPort)
	return bridge.OpenBrowser(ctx, targets)
}

// devServerPort extracts the TCP port of the dev-server URL.
func devServerPort(raw string) (int, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return 0, false
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		return port, err == nil
	}
	switch u.Scheme {
	case "http":
		return 80, true
	case "https":
		return 443, true
	}
	return 0, false
}

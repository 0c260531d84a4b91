// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

/*
Package harness provides a Go library for driving a WebView dev-shell
environment end to end: toolchain bootstrap, AVD and emulator
lifecycle, APK install and launch, and the Chrome DevTools bridge.

# Quick Start

	import "github.com/forkbombeu/devrig/pkg/harness"

	func main() {
		h := harness.New()

		// One call does everything: bootstrap, boot, gate, install,
		// launch, DevTools.
		result, err := h.Up(context.Background(), harness.UpOptions{
			Device: "pixel-6",
		})
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println("shell running on", result.Serial)
	}

# Key Concepts

**Bootstrap**: probes for a Java 17+ runtime and the SDK command-line
tools, downloading whatever is missing into a private tools directory.
Idempotent; a provisioned host resolves in milliseconds.

**Device profile**: a named hardware description (screen, density,
RAM) from a fixed catalog. Profiles map onto AVD config.ini hardware
keys.

**Dev-server gate**: the readiness poll against the local dev server's
HTTP endpoint. The WebView shell is only launched after the gate
passes, so the first page load never races the bundler.

**DevTools bridge**: an adb port forward onto the WebView's remote
debugging socket, plus a reverse forward so pages inside the emulator
reach the dev server at localhost.

# Granular Control

Each pipeline stage is also exposed on its own:

	h := harness.New()
	if err := h.Bootstrap(ctx); err != nil { ... }
	serial, err := h.Boot(ctx, harness.BootOptions{Name: "webview-dev"})
	err = h.Install(ctx, harness.InstallOptions{Serial: serial})
	err = h.Launch(ctx, serial)
	targets, err := h.DevTools(ctx, serial)

Operations log structured events (slog) and emit OpenTelemetry spans;
both carry the harness correlation ID when one is set.
*/
package harness

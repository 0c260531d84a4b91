// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package harness_test

import (
	"context"
	"fmt"
	"log"

	"github.com/forkbombeu/devrig/pkg/harness"
)

func Example_fullPipeline() {
	h := harness.New()

	result, err := h.Up(context.Background(), harness.UpOptions{
		Device: "pixel-6",
	})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("shell running on %s (AVD %s)\n", result.Serial, result.AVDName)

	// Keep the spawned dev server alive until you are done.
	defer result.Server.Stop()
}

func Example_stepByStep() {
	ctx := context.Background()
	h := harness.New()

	if err := h.Bootstrap(ctx); err != nil {
		log.Fatal(err)
	}

	if err := h.CreateAVD(ctx, harness.CreateAVDOptions{
		Name:    "webview-dev",
		Profile: "pixel-6",
	}); err != nil {
		log.Fatal(err)
	}

	serial, err := h.Boot(ctx, harness.BootOptions{Name: "webview-dev"})
	if err != nil {
		log.Fatal(err)
	}

	if err := h.Install(ctx, harness.InstallOptions{Serial: serial}); err != nil {
		log.Fatal(err)
	}
	if err := h.Launch(ctx, serial); err != nil {
		log.Fatal(err)
	}

	targets, err := h.DevTools(ctx, serial)
	if err != nil {
		log.Fatal(err)
	}
	for _, t := range targets {
		fmt.Printf("inspectable: %s (%s)\n", t.Title, t.URL)
	}
}

func Example_externalDevServer() {
	// The dev server is already running in another terminal; skip the
	// spawn but keep everything else.
	h := harness.New()
	result, err := h.Up(context.Background(), harness.UpOptions{
		Device:        "pixel-6",
		SkipDevServer: true,
	})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("shell running on", result.Serial)
}

func Example_monitoring() {
	ctx := context.Background()
	h := harness.New()

	running, err := h.ListRunning(ctx)
	if err != nil {
		log.Fatal(err)
	}
	for _, p := range running {
		fmt.Printf("%s on %s (port %d, booted: %v)\n", p.Name, p.Serial, p.Port, p.Booted)
	}

	runs, err := h.History(ctx, 5)
	if err != nil {
		log.Fatal(err)
	}
	for _, r := range runs {
		fmt.Printf("%s: %s (%s)\n", r.StartedAt.Format("2006-01-02 15:04"), r.Status, r.Profile)
	}
}

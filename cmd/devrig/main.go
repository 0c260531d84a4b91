// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/forkbombeu/devrig/internal/apk"
	"github.com/forkbombeu/devrig/internal/avd"
	"github.com/forkbombeu/devrig/internal/config"
	"github.com/forkbombeu/devrig/internal/devserver"
	"github.com/forkbombeu/devrig/internal/devtools"
	"github.com/forkbombeu/devrig/internal/history"
	"github.com/forkbombeu/devrig/internal/pipeline"
	"github.com/forkbombeu/devrig/internal/telemetry"
	"github.com/forkbombeu/devrig/internal/toolchain"
)

func main() {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cfg.Context = ctx

	shutdownTracing, err := telemetry.Setup(ctx, cfg.OTLPEndpoint, cfg.CorrelationID)
	if err != nil {
		fmt.Fprintln(os.Stderr, "tracing disabled:", err)
		shutdownTracing = func(context.Context) error { return nil }
	}
	defer shutdownTracing(context.Background())

	root := &cobra.Command{
		Use:   "devrig",
		Short: "Android WebView dev-shell orchestrator (emulator, dev server, DevTools)",
	}

	// up
	var upDevice, upAVD, upAPK string
	var upSkipServer, upDetach bool
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Bring up the whole dev shell: emulator, dev server, app, DevTools",
		RunE: func(cmd *cobra.Command, args []string) error {
			if upDevice != "" {
				cfg.DeviceName = upDevice
			}
			if upAVD != "" {
				cfg.AVDName = upAVD
			}
			if upAPK != "" {
				cfg.ArtifactPath = upAPK
			}
			if upSkipServer {
				cfg.SkipDevServer = true
			}

			result, err := pipeline.Run(ctx, cfg)
			if err != nil {
				return err
			}
			fmt.Printf("Shell running on %s (AVD %s, profile %s)\n", result.Serial, result.AVDName, result.Profile.Name)

			// A dev server this rig spawned dies with the rig; stay in
			// the foreground until interrupted.
			if result.Server != nil && !upDetach {
				fmt.Println("Dev server attached; Ctrl-C to stop.")
				<-ctx.Done()
				result.Server.Stop()
			}
			return nil
		},
	}
	upCmd.Flags().StringVar(&upDevice, "device", "", "device profile (skip the prompt)")
	upCmd.Flags().StringVar(&upAVD, "avd", "", "AVD name override")
	upCmd.Flags().StringVar(&upAPK, "apk", "", "APK artifact path override")
	upCmd.Flags().BoolVar(&upSkipServer, "skip-dev-server", false, "ride an externally managed dev server")
	upCmd.Flags().BoolVar(&upDetach, "detach", false, "exit after bring-up, leaving the dev server running")
	root.AddCommand(upCmd)

	// bootstrap
	bootstrapCmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Install missing toolchain pieces (JDK, cmdline-tools, SDK packages)",
		RunE: func(cmd *cobra.Command, args []string) error {
			tools, err := pipeline.Bootstrap(ctx, &cfg)
			if err != nil {
				return err
			}
			fmt.Printf("sdkmanager: %s\navdmanager: %s\nemulator:   %s\nadb:        %s\n",
				tools.SdkManager, tools.AvdManager, tools.Emulator, tools.ADB)
			return nil
		},
	}
	root.AddCommand(bootstrapCmd)

	// doctor
	doctorCmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the host without changing anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cfg)
		},
	}
	root.AddCommand(doctorCmd)

	// avd
	avdCmd := &cobra.Command{Use: "avd", Short: "Manage virtual devices"}
	var createName, createProfile string
	avdCreateCmd := &cobra.Command{
		Use:   "create",
		Short: "Create the AVD if it does not exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := resolveEnv(ctx, &cfg)
			if err != nil {
				return err
			}
			name := createName
			if name == "" {
				name = cfg.AVDName
			}
			profile := avd.DefaultProfile()
			if createProfile != "" {
				if profile, err = avd.ProfileByName(createProfile); err != nil {
					return err
				}
			}
			if avd.Exists(env, name) {
				fmt.Printf("%s already exists\n", name)
				return nil
			}
			if err := avd.Create(env, name, profile, cfg.SystemImage()); err != nil {
				return err
			}
			fmt.Printf("Created %s (%s)\n", name, profile)
			return nil
		},
	}
	avdCreateCmd.Flags().StringVar(&createName, "name", "", "AVD name (default: configured name)")
	avdCreateCmd.Flags().StringVar(&createProfile, "profile", "", "device profile")
	avdCmd.AddCommand(avdCreateCmd)

	avdListCmd := &cobra.Command{
		Use:   "list",
		Short: "List AVDs under ANDROID_AVD_HOME",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := resolveEnv(ctx, &cfg)
			if err != nil {
				return err
			}
			names, err := avd.List(env)
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Println(n)
			}
			return nil
		},
	}
	avdCmd.AddCommand(avdListCmd)

	avdDeleteCmd := &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete an AVD (+ .ini)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := resolveEnv(ctx, &cfg)
			if err != nil {
				return err
			}
			return avd.Delete(env, args[0])
		},
	}
	avdCmd.AddCommand(avdDeleteCmd)
	root.AddCommand(avdCmd)

	// emulator
	emuCmd := &cobra.Command{Use: "emulator", Short: "Manage running emulators"}
	var runName string
	emuRunCmd := &cobra.Command{
		Use:   "run",
		Short: "Launch the emulator headless and wait for boot",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := resolveEnv(ctx, &cfg)
			if err != nil {
				return err
			}
			name := runName
			if name == "" {
				name = cfg.AVDName
			}
			session, err := avd.Launch(env, name)
			if err != nil {
				return err
			}
			if err := avd.WaitForBoot(env, session.Serial, cfg.BootTimeout); err != nil {
				_ = session.Kill()
				return err
			}
			fmt.Printf("Booted %s on %s (log: %s)\n", name, session.Serial, session.LogPath)
			return nil
		},
	}
	emuRunCmd.Flags().StringVar(&runName, "name", "", "AVD name (default: configured name)")
	emuCmd.AddCommand(emuRunCmd)

	var stopSerial, stopName string
	emuStopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop a running emulator by --serial or --name",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := resolveEnv(ctx, &cfg)
			if err != nil {
				return err
			}
			serial := stopSerial
			if serial == "" {
				if stopName == "" {
					return errors.New("use --serial or --name")
				}
				procs, err := avd.ListRunning(env)
				if err != nil {
					return err
				}
				for _, p := range procs {
					if p.Name == stopName {
						serial = p.Serial
						break
					}
				}
				if serial == "" {
					return fmt.Errorf("no running emulator named %s", stopName)
				}
			}
			if err := avd.StopBySerial(env, serial); err != nil {
				return err
			}
			fmt.Printf("Stopped %s\n", serial)
			return nil
		},
	}
	emuStopCmd.Flags().StringVar(&stopSerial, "serial", "", "emulator serial (e.g. emulator-5554)")
	emuStopCmd.Flags().StringVar(&stopName, "name", "", "AVD name")
	emuCmd.AddCommand(emuStopCmd)

	var psJSON bool
	emuPsCmd := &cobra.Command{
		Use:   "ps",
		Short: "List running emulators with AVD name, serial, port, PID",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := resolveEnv(ctx, &cfg)
			if err != nil {
				return err
			}
			procs, err := avd.ListRunning(env)
			if err != nil {
				return err
			}
			if psJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(procs)
			}
			if len(procs) == 0 {
				fmt.Println("(no emulators)")
				return nil
			}
			for _, p := range procs {
				state := "booting"
				if p.Booted {
					state = "ready"
				}
				fmt.Printf("%-18s %-14s port=%-5d pid=%-7d %s\n", p.Name, p.Serial, p.Port, p.PID, state)
			}
			return nil
		},
	}
	emuPsCmd.Flags().BoolVar(&psJSON, "json", false, "output JSON")
	emuCmd.AddCommand(emuPsCmd)
	root.AddCommand(emuCmd)

	// install
	var installSerial, installAPK string
	installCmd := &cobra.Command{
		Use:   "install",
		Short: "Install the shell APK and launch its main activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			if installAPK != "" {
				cfg.ArtifactPath = installAPK
			}
			apkPath, err := apk.Resolve(cfg)
			if err != nil {
				return err
			}
			env, err := resolveEnv(ctx, &cfg)
			if err != nil {
				return err
			}
			serial := installSerial
			if serial == "" {
				booted, ok := avd.FindBooted(env)
				if !ok {
					return errors.New("no booted emulator; use --serial or `devrig emulator run`")
				}
				serial = booted
			}
			installer := apk.Installer{ADB: env.ADB, Serial: serial, Environ: cfg.ChildEnv, CorrelationID: cfg.CorrelationID}
			if err := installer.Install(ctx, apkPath); err != nil {
				return err
			}
			return installer.Launch(ctx, cfg.AppID, cfg.MainActivity)
		},
	}
	installCmd.Flags().StringVar(&installSerial, "serial", "", "device serial (default: first booted emulator)")
	installCmd.Flags().StringVar(&installAPK, "apk", "", "APK artifact path override")
	root.AddCommand(installCmd)

	// devtools
	var dtSerial string
	devtoolsCmd := &cobra.Command{
		Use:   "devtools",
		Short: "Forward the WebView DevTools socket and open a browser on it",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := resolveEnv(ctx, &cfg)
			if err != nil {
				return err
			}
			serial := dtSerial
			if serial == "" {
				booted, ok := avd.FindBooted(env)
				if !ok {
					return errors.New("no booted emulator; use --serial")
				}
				serial = booted
			}
			bridge := devtools.Bridge{
				ADB:      env.ADB,
				Serial:   serial,
				AppID:    cfg.AppID,
				HostPort: cfg.DevToolsPort,
				Platform: cfg.Platform,
				Environ:  cfg.ChildEnv,
			}
			if err := bridge.Forward(ctx); err != nil {
				fmt.Fprint(os.Stderr, bridge.Instructions())
				return err
			}
			targets, err := bridge.Targets(ctx)
			if err != nil {
				fmt.Fprint(os.Stderr, bridge.Instructions())
				return err
			}
			for _, t := range targets {
				fmt.Printf("%-30s %s\n", t.Title, t.URL)
			}
			return bridge.OpenBrowser(ctx, targets)
		},
	}
	devtoolsCmd.Flags().StringVar(&dtSerial, "serial", "", "device serial (default: first booted emulator)")
	root.AddCommand(devtoolsCmd)

	// history
	var histLimit int
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent pipeline runs from the journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			journal, err := history.Open(cfg.HistoryDB)
			if err != nil {
				return err
			}
			if journal == nil {
				fmt.Println("journal disabled (set DEVRIG_HISTORY_DB)")
				return nil
			}
			defer journal.Close()
			runs, err := journal.Recent(ctx, histLimit)
			if err != nil {
				return err
			}
			for _, r := range runs {
				elapsed := ""
				if !r.FinishedAt.IsZero() {
					elapsed = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
				}
				fmt.Printf("#%-4d %s  %-7s %-12s api=%-3d %6s  %s\n",
					r.ID, r.StartedAt.Format("2006-01-02 15:04:05"), r.Status, r.Profile, r.APILevel, elapsed, r.Error)
			}
			return nil
		},
	}
	historyCmd.Flags().IntVar(&histLimit, "limit", 10, "number of runs to show")
	root.AddCommand(historyCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// resolveEnv resolves the external tools without installing anything.
func resolveEnv(ctx context.Context, cfg *config.Config) (avd.Env, error) {
	tools, err := toolchain.ResolveTools(*cfg)
	if err != nil {
		return avd.Env{}, err
	}
	env := avd.FromConfig(*cfg, tools)
	env.Context = ctx
	return env, nil
}

// runDoctor reports host readiness without modifying anything.
func runDoctor(cfg config.Config) error {
	ok := true
	check := func(name string, err error, detail string) {
		if err != nil {
			ok = false
			fmt.Printf("✗ %-14s %v\n", name, err)
			return
		}
		fmt.Printf("✓ %-14s %s\n", name, detail)
	}

	tools, err := toolchain.ResolveTools(cfg)
	check("sdkmanager", err, tools.SdkManager)
	if err == nil {
		check("avdmanager", nil, tools.AvdManager)
		check("emulator", nil, tools.Emulator)
		check("adb", nil, tools.ADB)
	}

	if _, err := apk.Resolve(cfg); err != nil {
		fmt.Printf("✗ %-14s %v\n", "artifact", err)
		ok = false
	} else {
		fmt.Printf("✓ %-14s %s\n", "artifact", cfg.ArtifactPath)
	}

	gate := devserver.Gate{URL: cfg.DevServerURL, Attempts: 1, Interval: time.Millisecond}
	if err := gate.Wait(context.Background()); err != nil {
		fmt.Printf("- %-14s %s not responding (fine if not started yet)\n", "dev server", cfg.DevServerURL)
	} else {
		fmt.Printf("✓ %-14s %s\n", "dev server", cfg.DevServerURL)
	}

	if !ok {
		return errors.New("host not ready; run `devrig bootstrap`")
	}
	return nil
}

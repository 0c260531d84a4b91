// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

// Package devtools exposes the WebView's remote-debugging socket on the
// host and points a browser at it. Everything here is a convenience on
// top of a working app; failures degrade to printed instructions
// instead of failing the run.
package devtools

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/forkbombeu/devrig/internal/hostos"
)

const (
	pidAttempts    = 20
	pidInterval    = 500 * time.Millisecond
	socketTemplate = "webview_devtools_remote_%d"
)

// Bridge wires one device's WebView debug socket to a host TCP port.
type Bridge struct {
	ADB      string
	Serial   string
	AppID    string
	HostPort int
	Platform hostos.Platform

	// Environ builds a fresh child environment per invocation. Nil
	// falls back to the process environment.
	Environ func(extra ...string) []string

	// Client overrides the /json probe client, mainly for tests.
	Client *http.Client
}

// Target is one inspectable page reported by the WebView.
type Target struct {
	Title string
	URL   string
	// FrontendURL opens the page in the Chrome DevTools frontend.
	FrontendURL string
}

func (b Bridge) environ() []string {
	if b.Environ != nil {
		return b.Environ()
	}
	return os.Environ()
}

func (b Bridge) adb(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, b.ADB, append([]string{"-s", b.Serial}, args...)...)
	cmd.Env = b.environ()
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("adb %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

// Forward maps the host port onto the app's devtools abstract socket.
// The socket name carries the WebView's PID, so the app must already be
// running; the lookup polls briefly to ride out a slow cold start.
func (b Bridge) Forward(ctx context.Context) error {
	pid, err := b.appPID(ctx)
	if err != nil {
		return err
	}
	socket := fmt.Sprintf(socketTemplate, pid)
	if _, err := b.adb(ctx, "forward", "tcp:"+strconv.Itoa(b.HostPort), "localabstract:"+socket); err != nil {
		return fmt.Errorf("forward devtools socket: %w", err)
	}
	slog.Info("devtools forwarded", "serial", b.Serial, "socket", socket, "host_port", b.HostPort)
	return nil
}

// Reverse maps a device TCP port back to the same host port, so pages
// inside the WebView can reach the dev server at localhost.
func (b Bridge) Reverse(ctx context.Context, port int) error {
	spec := "tcp:" + strconv.Itoa(port)
	if _, err := b.adb(ctx, "reverse", spec, spec); err != nil {
		return fmt.Errorf("reverse dev server port: %w", err)
	}
	return nil
}

func (b Bridge) appPID(ctx context.Context) (int, error) {
	deadline := time.Now().Add(pidAttempts * pidInterval)
	var lastErr error
	for time.Now().Before(deadline) {
		out, err := b.adb(ctx, "shell", "pidof", "-s", b.AppID)
		if err == nil && out != "" {
			pid, perr := strconv.Atoi(strings.Fields(out)[0])
			if perr == nil {
				return pid, nil
			}
			lastErr = fmt.Errorf("unexpected pidof output %q", out)
		} else if err != nil {
			lastErr = err
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(pidInterval):
		}
	}
	return 0, fmt.Errorf("app %s not running on %s: %w", b.AppID, b.Serial, lastErr)
}

// Targets queries the forwarded /json endpoint and returns the
// inspectable pages.
func (b Bridge) Targets(ctx context.Context) ([]Target, error) {
	client := b.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	url := fmt.Sprintf("http://localhost:%d/json", b.HostPort)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("probe devtools endpoint: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return parseTargets(body, b.HostPort), nil
}

func parseTargets(body []byte, hostPort int) []Target {
	var targets []Target
	gjson.ParseBytes(body).ForEach(func(_, page gjson.Result) bool {
		t := Target{
			Title:       page.Get("title").String(),
			URL:         page.Get("url").String(),
			FrontendURL: page.Get("devtoolsFrontendUrl").String(),
		}
		// Older WebViews return a ws:// path only; synthesize the
		// frontend URL the way chrome://inspect does.
		if t.FrontendURL == "" {
			ws := page.Get("webSocketDebuggerUrl").String()
			if ws != "" {
				t.FrontendURL = "https://chrome-devtools-frontend.appspot.com/serve_rev/@latest/inspector.html?ws=" +
					strings.TrimPrefix(strings.TrimPrefix(ws, "ws://"), "localhost")
			}
		}
		if strings.HasPrefix(t.FrontendURL, "/") {
			t.FrontendURL = fmt.Sprintf("http://localhost:%d%s", hostPort, t.FrontendURL)
		}
		targets = append(targets, t)
		return true
	})
	return targets
}

// OpenBrowser points the platform browser at the first inspectable
// page, falling back to the raw /json listing when no page reported a
// frontend URL.
func (b Bridge) OpenBrowser(ctx context.Context, targets []Target) error {
	url := fmt.Sprintf("http://localhost:%d/json", b.HostPort)
	for _, t := range targets {
		if t.FrontendURL != "" {
			url = t.FrontendURL
			break
		}
	}
	cmd := b.Platform.BrowserCommand(url)
	cmd.Env = b.environ()
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("open browser: %w", err)
	}
	go func() { _ = cmd.Wait() }()
	slog.Info("browser opened", "url", url)
	return nil
}

// Instructions renders the manual fallback shown when any bridge step
// fails. The run still succeeds; the developer just wires DevTools by
// hand.
func (b Bridge) Instructions() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "DevTools bridge could not be set up automatically. To inspect manually:\n")
	fmt.Fprintf(&sb, "  1. %s -s %s shell pidof -s %s\n", b.ADB, b.Serial, b.AppID)
	fmt.Fprintf(&sb, "  2. %s -s %s forward tcp:%d localabstract:webview_devtools_remote_<pid>\n", b.ADB, b.Serial, b.HostPort)
	fmt.Fprintf(&sb, "  3. open chrome://inspect or http://localhost:%d/json in a browser\n", b.HostPort)
	return sb.String()
}

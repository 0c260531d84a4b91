// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

// Package devserver blocks the pipeline until the local dev server
// answers, and can spawn the server itself when the rig owns its
// lifetime.
package devserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// UnavailableError means the dev server never answered inside the
// attempt budget.
type UnavailableError struct {
	URL      string
	Attempts int
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("dev server unavailable: %s did not respond after %d probes", e.URL, e.Attempts)
}

// Gate polls an HTTP endpoint until it responds. Individual probe
// failures are expected (the server is still compiling) and swallowed;
// only exhausting the attempt budget is an error.
type Gate struct {
	URL      string
	Interval time.Duration // probe spacing, default 1s
	Attempts int           // probe budget, default 120

	// Client overrides the probe client, mainly for tests.
	Client *http.Client
}

func (g Gate) client() *http.Client {
	if g.Client != nil {
		return g.Client
	}
	return &http.Client{Timeout: 5 * time.Second}
}

// Wait blocks until the endpoint responds or the budget runs out.
func (g Gate) Wait(ctx context.Context) error {
	interval := g.Interval
	if interval <= 0 {
		interval = time.Second
	}
	attempts := g.Attempts
	if attempts <= 0 {
		attempts = 120
	}

	for i := 1; i <= attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if g.probe(ctx) {
			slog.Info("dev server ready", "url", g.URL, "probes", i)
			return nil
		}
		if i < attempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(interval):
			}
		}
	}
	return &UnavailableError{URL: g.URL, Attempts: attempts}
}

func (g Gate) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.URL, nil)
	if err != nil {
		return false
	}
	resp, err := g.client().Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 400
}

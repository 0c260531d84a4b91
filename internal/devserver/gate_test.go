// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package devserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flakyServer(t *testing.T, failures int32) (*httptest.Server, *int32) {
	t.Helper()
	var probes int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&probes, 1)
		if n <= failures {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, &probes
}

func TestGateSucceedsAfterExactlyNProbes(t *testing.T) {
	const n = 5
	srv, probes := flakyServer(t, n-1)

	gate := Gate{URL: srv.URL, Interval: 10 * time.Millisecond, Attempts: 20}
	require.NoError(t, gate.Wait(context.Background()))
	assert.EqualValues(t, n, atomic.LoadInt32(probes), "gate should stop on the first success")
}

func TestGateFailsAfterExactlyBudget(t *testing.T) {
	srv, probes := flakyServer(t, 1<<30)

	gate := Gate{URL: srv.URL, Interval: 5 * time.Millisecond, Attempts: 7}
	err := gate.Wait(context.Background())
	require.Error(t, err)

	var unavailable *UnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, 7, unavailable.Attempts)
	assert.EqualValues(t, 7, atomic.LoadInt32(probes), "gate must use the whole budget, no more")
}

func TestGateSwallowsConnectionRefused(t *testing.T) {
	// Point at a server that only comes up after a few refused probes.
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	go func() {
		time.Sleep(50 * time.Millisecond)
		srv.Start()
	}()

	// The URL is unknown until Start, so probe the listener address.
	gate := Gate{URL: "http://" + srv.Listener.Addr().String(), Interval: 10 * time.Millisecond, Attempts: 50}
	require.NoError(t, gate.Wait(context.Background()))
}

func TestGateHonorsContextCancellation(t *testing.T) {
	srv, _ := flakyServer(t, 1<<30)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	gate := Gate{URL: srv.URL, Interval: 10 * time.Millisecond, Attempts: 10000}
	err := gate.Wait(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.sqlite"))
	require.NoError(t, err)
	require.NotNil(t, j)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestJournalRecordsRunLifecycle(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t)

	runID, err := j.StartRun(ctx, "run-abc", "webview-dev", "pixel-6", 35)
	require.NoError(t, err)
	require.NotZero(t, runID)

	started := time.Now().Add(-time.Second)
	require.NoError(t, j.RecordStep(ctx, runID, "bootstrap", started, nil))
	require.NoError(t, j.RecordStep(ctx, runID, "boot", started, errors.New("boot timeout after 5m0s")))
	require.NoError(t, j.FinishRun(ctx, runID, errors.New("boot timeout after 5m0s")))

	runs, err := j.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-abc", runs[0].CorrelationID)
	assert.Equal(t, "webview-dev", runs[0].AVDName)
	assert.Equal(t, 35, runs[0].APILevel)
	assert.Equal(t, "failed", runs[0].Status)
	assert.Contains(t, runs[0].Error, "boot timeout")
	assert.False(t, runs[0].FinishedAt.IsZero())

	steps, err := j.Steps(ctx, runID)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, "bootstrap", steps[0].Name)
	assert.Equal(t, "ok", steps[0].Status)
	assert.Equal(t, "boot", steps[1].Name)
	assert.Equal(t, "failed", steps[1].Status)
}

func TestRecentOrdersNewestFirst(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t)

	for _, cid := range []string{"run-1", "run-2", "run-3"} {
		id, err := j.StartRun(ctx, cid, "webview-dev", "pixel-6", 35)
		require.NoError(t, err)
		require.NoError(t, j.FinishRun(ctx, id, nil))
	}

	runs, err := j.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-3", runs[0].CorrelationID)
	assert.Equal(t, "run-2", runs[1].CorrelationID)
}

func TestOpenWithEmptyPathDisablesJournal(t *testing.T) {
	j, err := Open("")
	require.NoError(t, err)
	assert.Nil(t, j)
}

func TestNilJournalIsNoOp(t *testing.T) {
	ctx := context.Background()
	var j *Journal

	id, err := j.StartRun(ctx, "run-x", "webview-dev", "pixel-6", 35)
	require.NoError(t, err)
	assert.Zero(t, id)
	require.NoError(t, j.RecordStep(ctx, id, "bootstrap", time.Now(), nil))
	require.NoError(t, j.FinishRun(ctx, id, nil))

	runs, err := j.Recent(ctx, 5)
	require.NoError(t, err)
	assert.Nil(t, runs)
	require.NoError(t, j.Close())
}

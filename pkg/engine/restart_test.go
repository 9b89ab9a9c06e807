package engine

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a3s-box/box/pkg/boxstore"
	"github.com/a3s-box/box/pkg/types"
)

func TestShouldRestartPolicies(t *testing.T) {
	cases := []struct {
		name   string
		record types.BoxRecord
		want   bool
	}{
		{"no policy never restarts", types.BoxRecord{Config: types.BoxConfig{RestartPolicy: types.RestartPolicy{Name: types.RestartPolicyNo}}}, false},
		{"always restarts", types.BoxRecord{Config: types.BoxConfig{RestartPolicy: types.RestartPolicy{Name: types.RestartPolicyAlways}}}, true},
		{"on-failure skips clean exit", types.BoxRecord{ExitCode: 0, Config: types.BoxConfig{RestartPolicy: types.RestartPolicy{Name: types.RestartPolicyOnFailure}}}, false},
		{"on-failure restarts non-zero exit", types.BoxRecord{ExitCode: 1, Config: types.BoxConfig{RestartPolicy: types.RestartPolicy{Name: types.RestartPolicyOnFailure}}}, true},
		{"max retry count reached", types.BoxRecord{RestartCount: 3, Config: types.BoxConfig{RestartPolicy: types.RestartPolicy{Name: types.RestartPolicyAlways, MaxRetryCount: 3}}}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, shouldRestart(&tc.record))
		})
	}
}

func TestBackoffElapsedGrowsExponentially(t *testing.T) {
	r := &types.BoxRecord{
		FinishedAt: time.Now(),
		Config: types.BoxConfig{
			RestartPolicy: types.RestartPolicy{
				InitialBackoff: 100 * time.Millisecond,
				MaxBackoff:     time.Second,
			},
		},
	}

	assert.False(t, backoffElapsed(r), "should not be allowed to restart immediately")

	r.FinishedAt = time.Now().Add(-150 * time.Millisecond)
	assert.True(t, backoffElapsed(r), "first retry backoff (100ms) should have elapsed")

	r.RestartCount = 3
	r.FinishedAt = time.Now().Add(-150 * time.Millisecond)
	assert.False(t, backoffElapsed(r), "backoff after 3 retries (800ms) should not have elapsed yet")
}

func TestResetCrashLoopIfSustainedClearsCounterAfterWindow(t *testing.T) {
	store := boxstore.New(filepath.Join(t.TempDir(), "boxes.json"))
	require.NoError(t, store.Load())
	e := &Engine{store: store}

	record := &types.BoxRecord{
		ID: "web",
		Config: types.BoxConfig{
			Name:  "web",
			Image: "alpine:3.20",
			RestartPolicy: types.RestartPolicy{
				Name:              types.RestartPolicyAlways,
				ResetAfterHealthy: 50 * time.Millisecond,
			},
		},
		State:                  types.BoxStateRunning,
		StartedAt:              time.Now().Add(-100 * time.Millisecond),
		RestartCount:           2,
		RestartWindowStartedAt: time.Now().Add(-200 * time.Millisecond),
	}
	require.NoError(t, store.Create(record))

	rec, err := store.Get(record.ID)
	require.NoError(t, err)
	e.resetCrashLoopIfSustained(rec)

	got, err := store.Get(record.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.RestartCount)
	assert.True(t, got.RestartWindowStartedAt.IsZero())
}

func TestResetCrashLoopIfSustainedSkipsBeforeWindowElapses(t *testing.T) {
	store := boxstore.New(filepath.Join(t.TempDir(), "boxes.json"))
	require.NoError(t, store.Load())
	e := &Engine{store: store}

	record := &types.BoxRecord{
		ID: "web",
		Config: types.BoxConfig{
			Name:  "web",
			Image: "alpine:3.20",
			RestartPolicy: types.RestartPolicy{
				Name:              types.RestartPolicyAlways,
				ResetAfterHealthy: time.Hour,
			},
		},
		State:        types.BoxStateRunning,
		StartedAt:    time.Now(),
		RestartCount: 2,
	}
	require.NoError(t, store.Create(record))

	rec, err := store.Get(record.ID)
	require.NoError(t, err)
	e.resetCrashLoopIfSustained(rec)

	got, err := store.Get(record.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.RestartCount)
}

func TestUpdateHealthStatusAccumulates(t *testing.T) {
	status := &types.HealthStatus{Status: types.HealthStatusStarting}

	updateHealthStatus(status, false, "fail 1", 3)
	assert.Equal(t, types.HealthStatusStarting, status.Status, "one failure under retries=3 must not flip to unhealthy")
	assert.Equal(t, 1, status.ConsecutiveFailures)

	updateHealthStatus(status, false, "fail 2", 3)
	updateHealthStatus(status, false, "fail 3", 3)
	assert.Equal(t, types.HealthStatusUnhealthy, status.Status)

	updateHealthStatus(status, true, "ok", 3)
	assert.Equal(t, types.HealthStatusHealthy, status.Status)
	assert.Equal(t, 0, status.ConsecutiveFailures)
}

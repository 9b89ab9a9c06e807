package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/a3s-box/box/pkg/transport"
	"github.com/a3s-box/box/pkg/types"
)

type fakeHealthRunner struct {
	healthy bool
	output  string
	calls   int
}

func (f *fakeHealthRunner) Run(ctx context.Context, boxID string, command []string, timeout time.Duration) (bool, string) {
	f.calls++
	return f.healthy, f.output
}

func TestNewDefaultsHealthRunnerByDepsStub(t *testing.T) {
	stub := New(Options{DepsStub: true})
	_, ok := stub.healthRunner.(localExecRunner)
	assert.True(t, ok, "DepsStub engines must run health checks on the host, not over a guest channel that nothing serves")

	production := New(Options{})
	_, ok = production.healthRunner.(transportExecRunner)
	assert.True(t, ok, "production engines must dispatch health checks over the exec control channel per spec.md §4.5")
}

func TestNewPrefersExplicitHealthRunnerOverride(t *testing.T) {
	runner := &fakeHealthRunner{healthy: true}
	e := New(Options{HealthRunner: runner})
	assert.Same(t, HealthRunner(runner), e.healthRunner)
}

func TestRunHealthCheckDispatchesThroughConfiguredRunner(t *testing.T) {
	e, _ := newTestEngine(t)
	runner := &fakeHealthRunner{healthy: true, output: "ok"}
	e.healthRunner = runner

	record, err := e.Create(types.BoxConfig{
		Name:  "web",
		Image: "alpine:3.20",
		HealthCheck: &types.HealthCheck{
			Type:    types.HealthCheckTypeExec,
			Command: []string{"true"},
			Retries: 1,
		},
	})
	assert.NoError(t, err)

	e.runHealthCheck(record.ID, *record.Config.HealthCheck)
	assert.Equal(t, 1, runner.calls)

	got, err := e.Inspect(record.ID)
	assert.NoError(t, err)
	assert.Equal(t, types.HealthStatusHealthy, got.Health.Status)
	assert.Equal(t, "ok", got.Health.LastOutput)
}

func TestTransportExecRunnerReportsNoControlChannelWithoutSupervisor(t *testing.T) {
	runner := transportExecRunner{dialerFor: func(boxID string) (transport.Dialer, bool) {
		return nil, false
	}}

	healthy, output := runner.Run(context.Background(), "web", []string{"true"}, time.Second)
	assert.False(t, healthy)
	assert.Equal(t, "no control channel for box", output)
}

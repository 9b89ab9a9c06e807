package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a3s-box/box/pkg/boxstore"
	"github.com/a3s-box/box/pkg/events"
	"github.com/a3s-box/box/pkg/types"
)

type fakeRegistry struct {
	images map[string]*types.Image
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{images: make(map[string]*types.Image)}
}

func (f *fakeRegistry) Inspect(ref string) (*types.Image, error) {
	img, ok := f.images[ref]
	if !ok {
		return nil, assert.AnError
	}
	return img, nil
}

func (f *fakeRegistry) Pull(ref string, broker *events.Broker) (*types.Image, error) {
	return nil, assert.AnError // tests only exercise already-cached images
}

func newTestEngine(t *testing.T) (*Engine, *fakeRegistry) {
	t.Helper()
	store := boxstore.New(filepath.Join(t.TempDir(), "boxes.json"))
	require.NoError(t, store.Load())

	reg := newFakeRegistry()
	reg.images["alpine:3.20"] = &types.Image{Reference: "alpine:3.20", Layers: nil}

	e := New(Options{
		Store:               store,
		Registry:            reg,
		Composer:            stubComposer{path: filepath.Join(t.TempDir(), "rootfs")},
		Broker:              events.NewBroker(),
		CgroupRoot:          t.TempDir(),
		RestartTickInterval: 20 * time.Millisecond,
		HealthTickInterval:  20 * time.Millisecond,
	})
	return e, reg
}

type stubComposer struct{ path string }

func (s stubComposer) Compose(layers []types.Layer) (string, error) { return s.path, nil }

func TestEngineCreateAndInspect(t *testing.T) {
	e, _ := newTestEngine(t)
	record, err := e.Create(types.BoxConfig{Name: "web", Image: "alpine:3.20"})
	require.NoError(t, err)
	assert.Equal(t, types.BoxStateCreated, record.State)

	got, err := e.Inspect(record.ID)
	require.NoError(t, err)
	assert.Equal(t, record.ID, got.ID)
}

func TestEngineStartStop(t *testing.T) {
	e, _ := newTestEngine(t)
	record, err := e.Create(types.BoxConfig{Name: "web", Image: "alpine:3.20"})
	require.NoError(t, err)

	require.NoError(t, e.Start(context.Background(), record.ID))

	got, err := e.Inspect(record.ID)
	require.NoError(t, err)
	assert.Equal(t, types.BoxStateRunning, got.State)
	assert.NotZero(t, got.PID)

	require.NoError(t, e.Stop(context.Background(), record.ID, time.Second))
	got, err = e.Inspect(record.ID)
	require.NoError(t, err)
	assert.Equal(t, types.BoxStateStopped, got.State)
}

func TestEngineStartTwiceFails(t *testing.T) {
	e, _ := newTestEngine(t)
	record, err := e.Create(types.BoxConfig{Name: "web", Image: "alpine:3.20"})
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background(), record.ID))

	err = e.Start(context.Background(), record.ID)
	assert.Error(t, err)
}

func TestEnginePauseResume(t *testing.T) {
	e, _ := newTestEngine(t)
	record, err := e.Create(types.BoxConfig{Name: "web", Image: "alpine:3.20"})
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background(), record.ID))

	require.NoError(t, e.Pause(record.ID))
	got, err := e.Inspect(record.ID)
	require.NoError(t, err)
	assert.Equal(t, types.BoxStatePaused, got.State)

	require.NoError(t, e.Resume(record.ID))
	got, err = e.Inspect(record.ID)
	require.NoError(t, err)
	assert.Equal(t, types.BoxStateRunning, got.State)
}

func TestEngineRemoveRefusesRunning(t *testing.T) {
	e, _ := newTestEngine(t)
	record, err := e.Create(types.BoxConfig{Name: "web", Image: "alpine:3.20"})
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background(), record.ID))

	err = e.Remove(record.ID)
	assert.Error(t, err)

	require.NoError(t, e.Stop(context.Background(), record.ID, time.Second))
	require.NoError(t, e.Remove(record.ID))
}

func TestRestartDaemonRestartsAlwaysPolicyBox(t *testing.T) {
	e, _ := newTestEngine(t)
	record, err := e.Create(types.BoxConfig{
		Name:  "worker",
		Image: "alpine:3.20",
		RestartPolicy: types.RestartPolicy{
			Name:           types.RestartPolicyAlways,
			InitialBackoff: 10 * time.Millisecond,
			MaxBackoff:     50 * time.Millisecond,
		},
	})
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background(), record.ID))

	e.supervisorsMu.Lock()
	sup := e.supervisors[record.ID]
	e.supervisorsMu.Unlock()
	require.NotNil(t, sup)

	// Crash the guest out from under the engine without going through
	// Stop, so watchExit observes it as an unexpected exit and marks
	// the box Dead rather than Stopped.
	require.NoError(t, sup.Stop(context.Background(), "SIGKILL", time.Second))

	e.StartDaemons()
	defer e.StopDaemons()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		got, err := e.Inspect(record.ID)
		require.NoError(t, err)
		if got.RestartCount > 0 && got.State == types.BoxStateRunning {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("restart daemon never restarted the crashed box")
}

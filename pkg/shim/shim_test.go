package shim

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a3s-box/box/pkg/types"
)

func TestSupervisorStartSignalsReady(t *testing.T) {
	hv := NewSimHypervisor(0, nil)
	sup := New("box1", hv)

	err := sup.Start(context.Background(), InstanceSpec{BoxID: "box1"}, t.TempDir())
	require.NoError(t, err)

	select {
	case <-sup.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("ready was never signaled")
	}
	assert.NotZero(t, sup.Pid())
}

func TestSupervisorStopGraceful(t *testing.T) {
	hv := NewSimHypervisor(0, nil)
	sup := New("box2", hv)
	require.NoError(t, sup.Start(context.Background(), InstanceSpec{BoxID: "box2"}, t.TempDir()))
	<-sup.Ready()

	err := sup.Stop(context.Background(), "SIGTERM", 2*time.Second)
	require.NoError(t, err)

	select {
	case <-sup.Exited():
	default:
		t.Fatal("expected exited channel closed after Stop returns")
	}
	code, waitErr := sup.ExitResult()
	assert.NoError(t, waitErr)
	assert.Equal(t, 0, code)
}

func TestSupervisorBootFailure(t *testing.T) {
	wantErr := errors.New("boot failed")
	hv := NewSimHypervisor(0, func() error { return wantErr })
	sup := New("box3", hv)

	err := sup.Start(context.Background(), InstanceSpec{BoxID: "box3"}, t.TempDir())
	require.Error(t, err)

	select {
	case <-sup.Ready():
		t.Fatal("ready must not be signaled on boot failure")
	default:
	}
}

func TestTranslateInstanceSpecDefaults(t *testing.T) {
	cfg := types.BoxConfig{
		Name:      "web",
		Image:     "alpine:3.20",
		Resources: types.ResourceSpec{VCPUs: 2, MemoryBytes: 256 << 20},
	}
	spec := TranslateInstanceSpec("box4", cfg, "/var/a3s/rootfs/abc", 42, nil)

	assert.Equal(t, 2, spec.VCPUs)
	assert.Equal(t, int64(256<<20), spec.MemoryBytes)
	assert.Equal(t, uint32(42), spec.VsockCID)
	assert.Equal(t, 10*time.Second, spec.StopTimeout)
	assert.Contains(t, spec.KernelArgs, "rw")
}

func TestTranslateInstanceSpecReadOnlyRoot(t *testing.T) {
	cfg := types.BoxConfig{ReadOnlyRoot: true, StopTimeout: 30 * time.Second}
	spec := TranslateInstanceSpec("box5", cfg, "/rootfs", 1, nil)
	assert.Contains(t, spec.KernelArgs, "ro")
	assert.Equal(t, 30*time.Second, spec.StopTimeout)
}

func TestWriteCgroupLimits(t *testing.T) {
	dir := t.TempDir()
	err := writeCgroupLimits(dir, "box6", types.ResourceSpec{
		VCPUs: 2, MemoryBytes: 1 << 30, CPUWeight: 100, PidsLimit: 64,
	})
	require.NoError(t, err)
}

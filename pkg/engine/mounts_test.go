package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a3s-box/box/pkg/boxstore"
	"github.com/a3s-box/box/pkg/events"
	"github.com/a3s-box/box/pkg/types"
	"github.com/a3s-box/box/pkg/volume"
)

func newTestEngineWithVolumes(t *testing.T) (*Engine, *volume.Manager) {
	t.Helper()
	store := boxstore.New(filepath.Join(t.TempDir(), "boxes.json"))
	require.NoError(t, store.Load())

	vols := volume.NewManager(afero.NewMemMapFs(), "/home/volumes")

	reg := newFakeRegistry()
	reg.images["alpine:3.20"] = &types.Image{Reference: "alpine:3.20", Layers: nil}

	e := New(Options{
		Store:               store,
		Registry:            reg,
		Composer:            stubComposer{path: filepath.Join(t.TempDir(), "rootfs")},
		Volumes:             vols,
		Broker:              events.NewBroker(),
		CgroupRoot:          t.TempDir(),
		RestartTickInterval: 20 * time.Millisecond,
		HealthTickInterval:  20 * time.Millisecond,
	})
	return e, vols
}

func TestEngineAttachesNamedVolumeOnStart(t *testing.T) {
	e, vols := newTestEngineWithVolumes(t)
	_, err := vols.Create("data", "", nil)
	require.NoError(t, err)

	record, err := e.Create(types.BoxConfig{
		Name:  "web",
		Image: "alpine:3.20",
		Mounts: []types.MountSpec{
			{Kind: types.MountKindNamed, VolumeName: "data", Target: "/data"},
		},
	})
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background(), record.ID))

	got, err := e.Inspect(record.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"data"}, got.AttachedVolumes)

	v, err := vols.Get("data")
	require.NoError(t, err)
	assert.Equal(t, 1, v.RefCount)

	require.NoError(t, e.Stop(context.Background(), record.ID, time.Second))

	v, err = vols.Get("data")
	require.NoError(t, err)
	assert.Equal(t, 0, v.RefCount)

	got, err = e.Inspect(record.ID)
	require.NoError(t, err)
	assert.Empty(t, got.AttachedVolumes)
}

func TestEngineAnonymousVolumeCreatedAndReleasedOnStop(t *testing.T) {
	e, vols := newTestEngineWithVolumes(t)

	record, err := e.Create(types.BoxConfig{
		Name:  "web",
		Image: "alpine:3.20",
		Mounts: []types.MountSpec{
			{Kind: types.MountKindAnonymous, Target: "/scratch"},
		},
	})
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background(), record.ID))

	got, err := e.Inspect(record.ID)
	require.NoError(t, err)
	require.Len(t, got.AttachedVolumes, 1)
	anonName := got.AttachedVolumes[0]

	v, err := vols.Get(anonName)
	require.NoError(t, err)
	assert.True(t, v.Anonymous)

	require.NoError(t, e.Stop(context.Background(), record.ID, time.Second))

	_, err = vols.Get(anonName)
	assert.ErrorIs(t, err, volume.ErrNotFound)
}

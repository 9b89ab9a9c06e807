package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/a3s-box/box/pkg/boxstore"
	"github.com/a3s-box/box/pkg/errs"
	"github.com/a3s-box/box/pkg/events"
	"github.com/a3s-box/box/pkg/log"
	"github.com/a3s-box/box/pkg/metrics"
	"github.com/a3s-box/box/pkg/rootfs"
	"github.com/a3s-box/box/pkg/shim"
	"github.com/a3s-box/box/pkg/transport"
	"github.com/a3s-box/box/pkg/types"
)

// ImageResolver is the subset of *registry.Client the engine needs:
// inspect a cached image or pull it if absent. Accepting the
// interface rather than the concrete type keeps the engine testable
// without a live registry.
type ImageResolver interface {
	Inspect(ref string) (*types.Image, error)
	Pull(ref string, broker *events.Broker) (*types.Image, error)
}

// RootfsComposer is the subset of *rootfs.Composer the engine needs.
type RootfsComposer interface {
	Compose(layers []types.Layer) (string, error)
}

// VolumeResolver is the subset of *volume.Manager the engine needs to
// resolve named-mount host paths and reference-count attachments.
// Accepting the interface (rather than importing pkg/volume directly)
// keeps the engine testable without a real volume manager and mirrors
// how ImageResolver/RootfsComposer decouple the engine from their
// concrete packages.
type VolumeResolver interface {
	Attach(name, boxID string) (string, error)
	Detach(name, boxID string) error
	CreateAnonymous(labels map[string]string) (*types.Volume, error)
}

// Options configures a new Engine.
type Options struct {
	Store      *boxstore.Store
	Registry   ImageResolver
	Composer   RootfsComposer
	Volumes    VolumeResolver
	Broker     *events.Broker
	CgroupRoot string
	TEEFactory TEEFactory

	// HealthRunner overrides the default health-check dispatcher.
	// Tests supply a fake; production leaves this nil and gets
	// Engine.New's transport-backed default, falling back to a host
	// subprocess runner only when DepsStub is set.
	HealthRunner HealthRunner
	DepsStub     bool

	RestartTickInterval time.Duration
	HealthTickInterval  time.Duration
}

// Engine drives every box through Created -> Running -> Paused ->
// Stopped -> Dead, owning the restart-policy daemon and health-check
// loop that run above it.
type Engine struct {
	store      *boxstore.Store
	registry   ImageResolver
	composer   RootfsComposer
	volumes    VolumeResolver
	broker     *events.Broker
	cgroupRoot string
	logger     zerolog.Logger

	restartInterval time.Duration
	healthInterval  time.Duration

	boxLocksMu sync.Mutex
	boxLocks   map[string]*sync.Mutex

	supervisorsMu sync.Mutex
	supervisors   map[string]*shim.Supervisor

	teeFactory TEEFactory
	teeMu      sync.Mutex
	tee        map[string]transport.AttestationHandler

	healthRunner HealthRunner

	vsockNext atomic.Uint32

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New returns an Engine backed by the given store, registry, and
// rootfs composer. The restart and health daemons are not started
// until StartDaemons is called.
func New(opts Options) *Engine {
	if opts.RestartTickInterval <= 0 {
		opts.RestartTickInterval = time.Second
	}
	if opts.HealthTickInterval <= 0 {
		opts.HealthTickInterval = time.Second
	}
	e := &Engine{
		store:           opts.Store,
		registry:        opts.Registry,
		composer:        opts.Composer,
		volumes:         opts.Volumes,
		broker:          opts.Broker,
		cgroupRoot:      opts.CgroupRoot,
		teeFactory:      opts.TEEFactory,
		logger:          log.WithComponent("engine"),
		restartInterval: opts.RestartTickInterval,
		healthInterval:  opts.HealthTickInterval,
		boxLocks:        make(map[string]*sync.Mutex),
		supervisors:     make(map[string]*shim.Supervisor),
		stopCh:          make(chan struct{}),
	}
	e.vsockNext.Store(3) // CIDs 0-2 are reserved (VMADDR_CID_HYPERVISOR/LOCAL/HOST)

	switch {
	case opts.HealthRunner != nil:
		e.healthRunner = opts.HealthRunner
	case opts.DepsStub:
		e.healthRunner = localExecRunner{}
	default:
		e.healthRunner = transportExecRunner{dialerFor: e.dialerForBox}
	}

	return e
}

// dialerForBox resolves the transport.Dialer for boxID's live guest,
// built from its shim.Supervisor's vsock CID. It reports ok=false if
// the box has no running supervisor (e.g. Dead, or between a restart
// attempt's store update and startInner completing).
func (e *Engine) dialerForBox(boxID string) (transport.Dialer, bool) {
	e.supervisorsMu.Lock()
	sup, ok := e.supervisors[boxID]
	e.supervisorsMu.Unlock()
	if !ok {
		return nil, false
	}
	return transport.VsockDialer{CID: sup.VsockCID()}, true
}

// StartDaemons launches the restart-policy and health-check
// background loops.
func (e *Engine) StartDaemons() {
	e.wg.Add(2)
	go e.runRestartLoop()
	go e.runHealthLoop()
}

// StopDaemons stops the background loops and waits for them to exit.
func (e *Engine) StopDaemons() {
	close(e.stopCh)
	e.wg.Wait()
}

func (e *Engine) lockFor(boxID string) *sync.Mutex {
	e.boxLocksMu.Lock()
	defer e.boxLocksMu.Unlock()
	l, ok := e.boxLocks[boxID]
	if !ok {
		l = &sync.Mutex{}
		e.boxLocks[boxID] = l
	}
	return l
}

// Create registers a new box in Created state. It does not pull the
// image or start anything.
func (e *Engine) Create(cfg types.BoxConfig) (*types.BoxRecord, error) {
	if cfg.Name == "" {
		return nil, errs.New(errs.KindUser, "engine.create", "", fmt.Errorf("name is required"))
	}
	if cfg.RestartPolicy.Name == "" {
		cfg.RestartPolicy.Name = types.RestartPolicyNo
	}

	id := uuid.New().String()
	record := &types.BoxRecord{
		ID:        id,
		ShortID:   id[:12],
		Config:    cfg,
		State:     types.BoxStateCreated,
		CreatedAt: time.Now(),
	}
	if err := e.store.Create(record); err != nil {
		return nil, err
	}
	e.publish(events.EventBoxCreated, record.ID)
	return record, nil
}

// Inspect returns the current record for ref.
func (e *Engine) Inspect(ref string) (*types.BoxRecord, error) {
	return e.store.Get(ref)
}

// List returns every box record.
func (e *Engine) List() ([]*types.BoxRecord, error) {
	return e.store.List()
}

// Start resolves ref's image, composes its rootfs, boots a shim
// supervisor, and transitions the box to Running.
func (e *Engine) Start(ctx context.Context, ref string) error {
	record, err := e.store.Get(ref)
	if err != nil {
		return err
	}

	lock := e.lockFor(record.ID)
	lock.Lock()
	defer lock.Unlock()

	return e.startInner(ctx, record.ID)
}

// startInner is Start's body, assuming the caller already holds
// e.lockFor(boxID); attemptRestart calls this directly since it
// acquires the same lock itself.
func (e *Engine) startInner(ctx context.Context, boxID string) error {
	record, err := e.store.Get(boxID)
	if err != nil {
		return err
	}
	if record.State == types.BoxStateRunning || record.State == types.BoxStatePaused {
		return errs.New(errs.KindPrecondition, "engine.start", record.ID,
			fmt.Errorf("box is already %s", record.State))
	}

	e.publish(events.EventBoxStartRequested, record.ID)
	timer := metrics.NewTimer()

	img, err := e.resolveImage(record.Config.Image)
	if err != nil {
		return err
	}

	rootfsPath, err := e.composer.Compose(img.Layers)
	if err != nil {
		return err
	}

	cid := e.vsockNext.Add(1)
	mounts, attachedVolumes, err := e.mountsFromConfig(record.ID, record.Config)
	if err != nil {
		return err
	}
	spec := shim.TranslateInstanceSpec(record.ID, record.Config, rootfsPath, cid, mounts)

	hv := shim.NewSimHypervisor(50*time.Millisecond, nil)
	sup := shim.New(record.ID, hv)

	if err := sup.Start(ctx, spec, e.cgroupRoot); err != nil {
		return err
	}
	select {
	case <-sup.Ready():
	case <-ctx.Done():
		return ctx.Err()
	}

	e.supervisorsMu.Lock()
	e.supervisors[record.ID] = sup
	e.supervisorsMu.Unlock()

	err = e.store.Update(record.ID, func(r *types.BoxRecord) error {
		r.State = types.BoxStateRunning
		r.PID = sup.Pid()
		r.StartedAt = time.Now()
		r.Error = ""
		r.RootfsFingerprint = rootfs.Fingerprint(img.Layers)
		r.AttachedVolumes = attachedVolumes
		if r.Config.HealthCheck != nil {
			r.Health = types.HealthStatus{Status: types.HealthStatusStarting, StartedAt: time.Now()}
		}
		return nil
	})
	if err != nil {
		return err
	}

	metrics.BoxesStarted.Inc()
	metrics.BoxStartDuration.Observe(timer.Duration().Seconds())
	e.publish(events.EventBoxRunning, record.ID)

	e.wg.Add(1)
	go e.watchExit(record.ID, sup)

	return nil
}

// watchExit blocks until sup exits and records the box as Dead,
// leaving the decision to restart to the restart-policy daemon.
func (e *Engine) watchExit(boxID string, sup *shim.Supervisor) {
	defer e.wg.Done()
	<-sup.Exited()
	code, waitErr := sup.ExitResult()

	e.supervisorsMu.Lock()
	delete(e.supervisors, boxID)
	e.supervisorsMu.Unlock()

	var attachedVolumes []string
	_ = e.store.Update(boxID, func(r *types.BoxRecord) error {
		if r.State == types.BoxStateStopped {
			return nil // user-initiated stop already recorded the terminal state
		}
		attachedVolumes = r.AttachedVolumes
		r.State = types.BoxStateDead
		r.FinishedAt = time.Now()
		r.ExitCode = code
		r.AttachedVolumes = nil
		if waitErr != nil {
			r.Error = waitErr.Error()
		}
		return nil
	})
	e.detachVolumes(boxID, attachedVolumes)
	e.publish(events.EventBoxDied, boxID)
}

// detachVolumes releases every named/anonymous volume attachment a
// box held, logging (rather than failing the caller) on error since
// this always runs after the box has already stopped or died.
func (e *Engine) detachVolumes(boxID string, names []string) {
	if e.volumes == nil {
		return
	}
	for _, name := range names {
		if err := e.volumes.Detach(name, boxID); err != nil {
			e.logger.Warn().Err(err).Str("volume", name).Msg("failed to detach volume")
		}
	}
}

// Stop requests a graceful guest shutdown, falling back to SIGKILL
// after timeout. A non-positive timeout falls back to the box's
// configured StopTimeout, and to 10s when that is unset too.
func (e *Engine) Stop(ctx context.Context, ref string, timeout time.Duration) error {
	record, err := e.store.Get(ref)
	if err != nil {
		return err
	}
	lock := e.lockFor(record.ID)
	lock.Lock()
	defer lock.Unlock()

	record, err = e.store.Get(record.ID)
	if err != nil {
		return err
	}
	if record.State != types.BoxStateRunning && record.State != types.BoxStatePaused {
		return errs.New(errs.KindPrecondition, "engine.stop", record.ID,
			fmt.Errorf("box is not running (state=%s)", record.State))
	}

	e.supervisorsMu.Lock()
	sup := e.supervisors[record.ID]
	e.supervisorsMu.Unlock()
	if sup == nil {
		return errs.New(errs.KindInternal, "engine.stop", record.ID, fmt.Errorf("no active supervisor"))
	}

	if timeout <= 0 {
		timeout = record.Config.StopTimeout
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	timer := metrics.NewTimer()
	if err := sup.Stop(ctx, "SIGTERM", timeout); err != nil {
		return err
	}
	metrics.BoxStopDuration.Observe(timer.Duration().Seconds())

	var attachedVolumes []string
	err = e.store.Update(record.ID, func(r *types.BoxRecord) error {
		r.State = types.BoxStateStopped
		r.FinishedAt = time.Now()
		attachedVolumes = r.AttachedVolumes
		r.AttachedVolumes = nil
		return nil
	})
	if err != nil {
		return err
	}
	e.detachVolumes(record.ID, attachedVolumes)
	return nil
}

// Pause and Resume deliver pause/resume to the running supervisor and
// update the record's state accordingly.
func (e *Engine) Pause(ref string) error {
	return e.withRunningSupervisor(ref, types.BoxStateRunning, types.BoxStatePaused, func(s *shim.Supervisor) error {
		return s.Pause()
	})
}

func (e *Engine) Resume(ref string) error {
	return e.withRunningSupervisor(ref, types.BoxStatePaused, types.BoxStateRunning, func(s *shim.Supervisor) error {
		return s.Resume()
	})
}

func (e *Engine) withRunningSupervisor(ref string, from, to types.BoxState, fn func(*shim.Supervisor) error) error {
	record, err := e.store.Get(ref)
	if err != nil {
		return err
	}
	lock := e.lockFor(record.ID)
	lock.Lock()
	defer lock.Unlock()

	record, err = e.store.Get(record.ID)
	if err != nil {
		return err
	}
	if record.State != from {
		return errs.New(errs.KindPrecondition, "engine.pauseresume", record.ID,
			fmt.Errorf("expected state %s, got %s", from, record.State))
	}

	e.supervisorsMu.Lock()
	sup := e.supervisors[record.ID]
	e.supervisorsMu.Unlock()
	if sup == nil {
		return errs.New(errs.KindInternal, "engine.pauseresume", record.ID, fmt.Errorf("no active supervisor"))
	}
	if err := fn(sup); err != nil {
		return err
	}
	return e.store.Update(record.ID, func(r *types.BoxRecord) error {
		r.State = to
		return nil
	})
}

// Remove deletes a box record. It refuses to remove a box that is
// still Running or Paused.
func (e *Engine) Remove(ref string) error {
	record, err := e.store.Get(ref)
	if err != nil {
		return err
	}
	if record.State == types.BoxStateRunning || record.State == types.BoxStatePaused {
		return errs.New(errs.KindPrecondition, "engine.remove", record.ID,
			fmt.Errorf("box must be stopped before removal (state=%s)", record.State))
	}
	if err := e.store.Delete(record.ID); err != nil {
		return err
	}
	e.publish(events.EventBoxRemoved, record.ID)
	return nil
}

func (e *Engine) resolveImage(ref string) (*types.Image, error) {
	img, err := e.registry.Inspect(ref)
	if err == nil {
		return img, nil
	}
	return e.registry.Pull(ref, e.broker)
}

func (e *Engine) publish(t events.EventType, boxID string) {
	if e.broker == nil {
		return
	}
	e.broker.Publish(&events.Event{Type: t, Message: boxID})
}

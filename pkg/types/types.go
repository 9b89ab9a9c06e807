package types

import "time"

// BoxState is the lifecycle state of a box.
type BoxState string

const (
	BoxStateCreated BoxState = "created"
	BoxStateRunning BoxState = "running"
	BoxStatePaused  BoxState = "paused"
	BoxStateStopped BoxState = "stopped"
	BoxStateDead    BoxState = "dead"
)

// RestartPolicyName selects the restart behavior applied when a box's
// vm supervisor exits.
type RestartPolicyName string

const (
	RestartPolicyNo            RestartPolicyName = "no"
	RestartPolicyOnFailure     RestartPolicyName = "on-failure"
	RestartPolicyAlways        RestartPolicyName = "always"
	RestartPolicyUnlessStopped RestartPolicyName = "unless-stopped"
)

// RestartPolicy configures the restart-policy daemon for a box.
type RestartPolicy struct {
	Name              RestartPolicyName `json:"name"`
	MaxRetryCount     int               `json:"maxRetryCount,omitempty"`
	InitialBackoff    time.Duration     `json:"initialBackoff,omitempty"`
	MaxBackoff        time.Duration     `json:"maxBackoff,omitempty"`
	ResetAfterHealthy time.Duration     `json:"resetAfterHealthy,omitempty"`
}

// HealthCheckType selects the probe mechanism for a box health check.
type HealthCheckType string

const (
	HealthCheckTypeExec HealthCheckType = "exec"
	HealthCheckTypeNone HealthCheckType = "none"
)

// HealthCheck describes how the engine probes a running box.
type HealthCheck struct {
	Type        HealthCheckType `json:"type"`
	Command     []string        `json:"command,omitempty"`
	Interval    time.Duration   `json:"interval"`
	Timeout     time.Duration   `json:"timeout"`
	Retries     int             `json:"retries"`
	StartPeriod time.Duration   `json:"startPeriod"`
}

// HealthStatusValue is the externally-visible health state of a box.
type HealthStatusValue string

const (
	HealthStatusStarting  HealthStatusValue = "starting"
	HealthStatusHealthy   HealthStatusValue = "healthy"
	HealthStatusUnhealthy HealthStatusValue = "unhealthy"
	HealthStatusNone      HealthStatusValue = "none"
)

// HealthStatus is the accumulated health-check state for a box.
type HealthStatus struct {
	Status               HealthStatusValue `json:"status"`
	ConsecutiveFailures  int               `json:"consecutiveFailures"`
	ConsecutiveSuccesses int               `json:"consecutiveSuccesses"`
	LastCheck            time.Time         `json:"lastCheck,omitempty"`
	LastOutput           string            `json:"lastOutput,omitempty"`
	StartedAt            time.Time         `json:"startedAt,omitempty"`
}

// ResourceSpec bounds CPU/memory for a box's guest.
type ResourceSpec struct {
	VCPUs       int   `json:"vcpus,omitempty"`
	MemoryBytes int64 `json:"memoryBytes,omitempty"`
	CPUWeight   int   `json:"cpuWeight,omitempty"`
	PidsLimit   int64 `json:"pidsLimit,omitempty"`
}

// MountKind distinguishes named volumes, anonymous volumes, bind mounts
// and tmpfs overlays attached to a box.
type MountKind string

const (
	MountKindNamed     MountKind = "named"
	MountKindAnonymous MountKind = "anonymous"
	MountKindBind      MountKind = "bind"
	MountKindTmpfs     MountKind = "tmpfs"
)

// MountSpec describes one virtio-fs tag or tmpfs overlay presented to the
// guest.
type MountSpec struct {
	Kind       MountKind `json:"kind"`
	Source     string    `json:"source,omitempty"`
	Target     string    `json:"target"`
	ReadOnly   bool      `json:"readOnly,omitempty"`
	VolumeName string    `json:"volumeName,omitempty"`
}

// PortPublish maps a guest port to a host port over the network
// connector.
type PortPublish struct {
	ContainerPort int    `json:"containerPort"`
	HostPort      int    `json:"hostPort,omitempty"`
	Protocol      string `json:"protocol"`
	HostIP        string `json:"hostIP,omitempty"`
}

// NetworkMode selects how a box's guest interface is attached.
type NetworkMode string

const (
	NetworkModeDefault NetworkMode = "default"
	NetworkModeNamed   NetworkMode = "named"
	NetworkModeHost    NetworkMode = "host"
	NetworkModeNone    NetworkMode = "none"
)

// BoxConfig is the user-specified, immutable-after-create configuration
// for a box; it is the portion of BoxRecord the CLI builds directly.
type BoxConfig struct {
	Name          string            `json:"name"`
	Image         string            `json:"image"`
	Command       []string          `json:"command,omitempty"`
	Env           map[string]string `json:"env,omitempty"`
	WorkingDir    string            `json:"workingDir,omitempty"`
	Labels        map[string]string `json:"labels,omitempty"`
	Resources     ResourceSpec      `json:"resources,omitempty"`
	Mounts        []MountSpec       `json:"mounts,omitempty"`
	Ports         []PortPublish     `json:"ports,omitempty"`
	NetworkMode   NetworkMode       `json:"networkMode,omitempty"`
	NetworkName   string            `json:"networkName,omitempty"`
	RestartPolicy RestartPolicy     `json:"restartPolicy,omitempty"`
	HealthCheck   *HealthCheck      `json:"healthCheck,omitempty"`
	ReadOnlyRoot  bool              `json:"readOnlyRoot,omitempty"`
	TEE           *TEEConfig        `json:"tee,omitempty"`
	StopTimeout   time.Duration     `json:"stopTimeout,omitempty"`
}

// TEEConfig requests confidential-computing guarantees for a box.
type TEEConfig struct {
	Enabled       bool       `json:"enabled"`
	Policy        SealPolicy `json:"policy,omitempty"`
	RequireVerify bool       `json:"requireVerify,omitempty"`
}

// BoxRecord is the full persisted state of one box, as stored in
// boxes.json.
type BoxRecord struct {
	ID         string    `json:"id"`
	ShortID    string    `json:"shortId"`
	Config     BoxConfig `json:"config"`
	State      BoxState  `json:"state"`
	PID        int       `json:"pid,omitempty"`
	IPAddress  string    `json:"ipAddress,omitempty"`
	MACAddress string    `json:"macAddress,omitempty"`

	CreatedAt  time.Time `json:"createdAt"`
	StartedAt  time.Time `json:"startedAt,omitempty"`
	FinishedAt time.Time `json:"finishedAt,omitempty"`

	ExitCode int    `json:"exitCode"`
	Error    string `json:"error,omitempty"`

	RestartCount           int       `json:"restartCount"`
	RestartWindowStartedAt time.Time `json:"restartWindowStartedAt,omitempty"`
	RestartIntentRunning   bool      `json:"restartIntentRunning,omitempty"`

	Health HealthStatus `json:"health,omitempty"`

	AttachedVolumes []string `json:"attachedVolumes,omitempty"`

	RootfsFingerprint string `json:"rootfsFingerprint,omitempty"`
}

// Layer is one content-addressed filesystem diff belonging to an image.
type Layer struct {
	Digest    string `json:"digest"`
	DiffID    string `json:"diffId"`
	Size      int64  `json:"size"`
	MediaType string `json:"mediaType"`
}

// Image is the locally-cached record of a pulled OCI image.
type Image struct {
	Reference string      `json:"reference"`
	Digest    string      `json:"digest"`
	Layers    []Layer     `json:"layers"`
	Config    ImageConfig `json:"config"`
	Size      int64       `json:"size"`
	PulledAt  time.Time   `json:"pulledAt"`
	Tags      []string    `json:"tags,omitempty"`
}

// ImageConfig mirrors the subset of the OCI image config relevant to
// box creation (entrypoint/cmd/env/workdir/stop-signal/stop-timeout).
type ImageConfig struct {
	Entrypoint   []string            `json:"entrypoint,omitempty"`
	Cmd          []string            `json:"cmd,omitempty"`
	Env          []string            `json:"env,omitempty"`
	WorkingDir   string              `json:"workingDir,omitempty"`
	StopSignal   string              `json:"stopSignal,omitempty"`
	StopTimeout  time.Duration       `json:"stopTimeout,omitempty"`
	Labels       map[string]string   `json:"labels,omitempty"`
	Volumes      map[string]struct{} `json:"volumes,omitempty"`
	ExposedPorts map[string]struct{} `json:"exposedPorts,omitempty"`
}

// Volume is a named, driver-managed persistent storage unit.
type Volume struct {
	Name      string            `json:"name"`
	Driver    string            `json:"driver"`
	CreatedAt time.Time         `json:"createdAt"`
	Labels    map[string]string `json:"labels,omitempty"`
	Anonymous bool              `json:"anonymous,omitempty"`
	RefCount  int               `json:"refCount"`
}

// Network is a user-defined virtual network boxes can attach to.
type Network struct {
	Name      string            `json:"name"`
	Subnet    string            `json:"subnet"`
	Gateway   string            `json:"gateway"`
	CreatedAt time.Time         `json:"createdAt"`
	Labels    map[string]string `json:"labels,omitempty"`
}

// SealPolicy selects which attestation claims a sealed-storage key is
// bound to.
type SealPolicy string

const (
	SealPolicyMeasurementAndChip SealPolicy = "measurement-and-chip"
	SealPolicyMeasurementOnly    SealPolicy = "measurement-only"
	SealPolicyChipOnly           SealPolicy = "chip-only"
)

/*
Package types defines the core data structures shared across a3s box.

This package holds the domain model: boxes, images, layers, volumes,
networks, and the health/restart/TEE sub-structures attached to a box.
These types are the literal persisted representation used by
pkg/boxstore and pkg/registry (JSON on disk), so every field carries a
json tag even where the teacher's equivalent package did not need one.

# Core Types

Box lifecycle:
  - BoxRecord: full persisted state of one box
  - BoxConfig: user-specified, immutable-after-create configuration
  - BoxState: created, running, paused, stopped, dead
  - RestartPolicy: backoff-driven restart behavior
  - HealthCheck / HealthStatus: probe configuration and accumulated state

Images:
  - Image: locally cached record of a pulled OCI image
  - Layer: one content-addressed filesystem diff
  - ImageConfig: entrypoint/cmd/env/stop-signal/stop-timeout

Storage and networking:
  - Volume: named, driver-managed persistent storage
  - Network: user-defined virtual network
  - MountSpec / PortPublish: per-box attachment records

TEE:
  - TEEConfig: confidential-computing request on a BoxConfig
  - SealPolicy: measurement-and-chip, measurement-only, chip-only

# Design Patterns

Enums are typed strings, matching the convention used throughout this
codebase. Optional configuration uses pointers (*HealthCheck, *TEEConfig)
so "absent" and "zero value" stay distinguishable.

# Thread Safety

Types in this package carry no synchronization themselves. Mutation of
shared BoxRecord/Image/Volume/Network values is the caller's
responsibility; pkg/boxstore and pkg/registry serialize access to their
on-disk copies.
*/
package types

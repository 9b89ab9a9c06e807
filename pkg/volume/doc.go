/*
Package volume manages named, anonymous, and bind-mounted persistent
storage for boxes. Named volumes live under <home>/volumes/<name>/_data
with metadata in a sibling meta.json; bind mounts and tmpfs overlays
need no on-disk bookkeeping of their own and are handled directly by
the engine's mount table.

Every volume is attach-list reference counted: Attach is called once
per box that mounts it, Detach once on stop/rm, and an anonymous
volume is deleted the moment its attach list goes empty (it is tied to
the lifetime of the one box that created it). Named volumes with an
empty attach list survive until pruned explicitly, unless pinned via
the "a3s.pin" label.

This is a direct generalization of cuemby-warren/pkg/volume/local.go's
LocalDriver (Create/Delete/Mount/Unmount/GetPath), moved onto
afero.Fs for the same in-memory-filesystem testability
pkg/rootfs uses, and extended with the reference-counting and
persistence rules spec.md §3/§4.7 require that the original driver
did not have.
*/
package volume

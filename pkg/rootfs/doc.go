/*
Package rootfs composes a box's root filesystem from an image's
layers: extracting each layer in order, honoring OCI whiteout
(.wh.<name>) and opaque-directory (.wh..wh..opq) markers, and caching
the result keyed by a fingerprint of the layer digest chain so a
second box from the same image reuses the composed tree instead of
re-extracting it.

Layer decompression uses klauspost/compress (gzip and zstd) instead of
stdlib compress/gzip, both for speed and because stdlib has no zstd
decoder at all — a real concern since OCI layers increasingly use
zstd. Filesystem mutation goes through afero.Fs so the whiteout/
opaque-dir logic can be exercised against an in-memory
filesystem in tests without root.

This generalizes hectolitro-yeet's pkg/targz (a minimal tar-over-gzip
reader) into a full layer-application pipeline with the whiteout
semantics a real container runtime needs.
*/
package rootfs

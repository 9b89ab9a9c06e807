/*
Package registry implements image resolution, pull/push, and local
cache management against OCI Distribution-spec registries.

# Architecture

	resolve -> name.ParseReference (go-containerregistry)
	pull    -> remote.Get -> v1.Image/v1.Layer -> digest-verified
	           write to <home>/images/blobs/sha256/<hex>
	cache   -> bbolt index (<home>/images/cache-index.db), LRU eviction
	creds   -> <home>/images/auth/credentials.json, fsnotify-refreshed

Pulls of the same digest from concurrent callers coalesce onto a
single in-flight remote.Layer fetch via the Client's inflight map, so
only one network transfer happens per digest regardless of how many
boxes reference it.

This mirrors pkg/runtime/containerd.go's PullImage/role in the teacher
codebase, but the actual registry protocol client is
google/go-containerregistry rather than containerd's remotes/docker,
and the cache index is a repurposed bbolt store (the same storage
engine pkg/storage used for cluster state) rather than containerd's
content store.
*/
package registry

// Package api implements a3s box's local control API: the HTTP+JSON
// surface that cmd/box talks to and cmd/boxd serves.
//
// Unlike cuemby-warren's pkg/api, which fronts a multi-node raft
// cluster and therefore needs gRPC plus mTLS between nodes, a3s box
// is a single-host daemon — there is no remote peer to authenticate,
// only a local admin process and the user's own CLI invocations. The
// server is grounded on cuemby-warren/pkg/api/health.go's pattern
// instead: a plain http.ServeMux, net/http, encoding/json, no
// generated client stubs. It listens on a Unix domain socket
// (<home>/boxd.sock) rather than a TCP port, which gives it the same
// "only this user can reach it" property warren gets from mTLS
// without requiring a certificate authority for a box with nobody to
// mutually authenticate against.
//
// Every handler builds or reads types.BoxConfig/types.Image/etc. and
// calls straight into pkg/engine, pkg/registry, pkg/network, or
// pkg/volume; it holds no lifecycle logic of its own.
package api

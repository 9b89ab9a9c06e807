/*
Package transport implements the control-plane channels a running box
exposes to the host. Four ports are assigned: agent control (4088,
which this package does not implement), exec (4089), PTY (4090), and
attestation (4091); the last three are implemented here.

Every channel speaks the same frame protocol over a single
connection: a one-byte type, a four-byte big-endian length, and a
payload. Frame/Conn implement that codec once; exec.go, pty.go, and
attestation.go layer channel-specific JSON payloads and frame-type
tables on top of it, matching how cuemby-warren/pkg/runtime/containerd.go
sequences a single request/response exchange per operation rather than
multiplexing several in flight on one connection.

Connections are host-to-guest over AF_VSOCK in production and a
Unix-domain socket per box in tests and A3S_DEPS_STUB mode, selected
through the Dialer interface. The vsock dialer is the one place in
this package that drops to raw golang.org/x/sys/unix syscalls instead
of a higher-level library, because no vsock client library appears
anywhere in the retrieval pack; it is documented here as the
stdlib/syscall exception the wider project otherwise avoids.
*/
package transport

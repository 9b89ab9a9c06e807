package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeAndRunExec(t *testing.T) {
	serverNC, clientNC := net.Pipe()
	defer serverNC.Close()
	defer clientNC.Close()

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- ServeExec(context.Background(), NewConn(serverNC), LocalExecHandler{})
	}()

	out, err := RunExec(context.Background(), pipeDialer{clientNC}, ExecRequest{
		Cmd: []string{"sh", "-c", "echo hello; echo world >&2"},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello\n", out.Stdout)
	assert.Equal(t, "world\n", out.Stderr)
	assert.Equal(t, 0, out.ExitCode)
	assert.False(t, out.Truncated)

	select {
	case err := <-serverDone:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server never returned")
	}
}

func TestRunExecNonZeroExit(t *testing.T) {
	serverNC, clientNC := net.Pipe()
	defer serverNC.Close()
	defer clientNC.Close()

	go ServeExec(context.Background(), NewConn(serverNC), LocalExecHandler{})

	out, err := RunExec(context.Background(), pipeDialer{clientNC}, ExecRequest{
		Cmd: []string{"sh", "-c", "exit 7"},
	})
	require.NoError(t, err)
	assert.Equal(t, 7, out.ExitCode)
}

func TestExecTimeoutDefaultsAndClamps(t *testing.T) {
	r := ExecRequest{}
	assert.Equal(t, DefaultExecTimeout, r.Timeout())

	r.TimeoutNS = int64(48 * time.Hour)
	assert.Equal(t, MaxExecTimeout, r.Timeout())

	r.TimeoutNS = int64(2 * time.Second)
	assert.Equal(t, 2*time.Second, r.Timeout())
}

func TestTruncatingBufferCapsOutput(t *testing.T) {
	buf := newTruncatingBuffer(10)
	n, err := buf.Write([]byte("0123456789ABCDEF"))
	require.NoError(t, err)
	assert.Equal(t, 16, n) // reports the full write so exec.Cmd doesn't error
	assert.Equal(t, "0123456789", buf.String())
	assert.True(t, buf.truncated)
}

// pipeDialer adapts an already-connected net.Conn (from net.Pipe) to
// the Dialer interface for tests that don't need a real listener.
type pipeDialer struct {
	conn net.Conn
}

func (d pipeDialer) DialChannel(ctx context.Context, port int) (net.Conn, error) {
	return d.conn, nil
}

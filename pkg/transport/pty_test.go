package transport

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPTYSessionRunsCommandAndExits(t *testing.T) {
	serverNC, clientNC := net.Pipe()
	defer serverNC.Close()

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- ServePTY(context.Background(), NewConn(serverNC))
	}()

	session, err := OpenPTY(context.Background(), pipeDialer{clientNC}, PTYRequest{
		Cmd:  []string{"sh", "-c", "echo ready; read line; echo got:$line"},
		Rows: 24,
		Cols: 80,
	})
	require.NoError(t, err)
	defer session.Close()

	var output strings.Builder
	readUntil := func(substr string, timeout time.Duration) bool {
		deadline := time.After(timeout)
		for {
			select {
			case chunk, ok := <-session.Output:
				if !ok {
					return strings.Contains(output.String(), substr)
				}
				output.Write(chunk)
				if strings.Contains(output.String(), substr) {
					return true
				}
			case <-deadline:
				return false
			}
		}
	}

	require.True(t, readUntil("ready", 5*time.Second), "output so far: %q", output.String())
	require.NoError(t, session.Write([]byte("hello\n")))
	require.True(t, readUntil("got:hello", 5*time.Second), "output so far: %q", output.String())

	select {
	case exit := <-session.Exit:
		assert.Equal(t, 0, exit.Code)
		assert.False(t, exit.Truncated)
	case <-time.After(5 * time.Second):
		t.Fatal("pty session never received exit frame")
	}

	select {
	case err := <-serverDone:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server never returned")
	}
}

func TestPTYResize(t *testing.T) {
	serverNC, clientNC := net.Pipe()
	defer serverNC.Close()

	go ServePTY(context.Background(), NewConn(serverNC))

	session, err := OpenPTY(context.Background(), pipeDialer{clientNC}, PTYRequest{
		Cmd:  []string{"sleep", "1"},
		Rows: 24,
		Cols: 80,
	})
	require.NoError(t, err)
	defer session.Close()

	// Resize should not error even with nothing reading the Data
	// stream yet; the server applies it and keeps going.
	assert.NoError(t, session.Resize(40, 120))

	select {
	case <-session.Exit:
	case <-time.After(5 * time.Second):
		t.Fatal("pty session never exited")
	}
}

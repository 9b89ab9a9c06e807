package network

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a3s-box/box/pkg/types"
)

// fakeRunner records every iptables invocation instead of running it,
// so tests can assert on the DNAT/MASQUERADE/FORWARD rule triad
// without root or a real netfilter stack.
type fakeRunner struct {
	mu    sync.Mutex
	calls [][]string
	fail  map[int]bool // call index -> force failure
}

func (f *fakeRunner) Run(name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := len(f.calls)
	f.calls = append(f.calls, append([]string{name}, args...))
	if f.fail[idx] {
		return []byte("forced failure"), assert.AnError
	}
	return nil, nil
}

func TestPortForwarderPublishInstallsRuleTriad(t *testing.T) {
	runner := &fakeRunner{}
	pf := NewPortForwarderWithRunner(runner)

	resolved, err := pf.Publish("box-1", "10.88.0.2", []types.PortPublish{
		{ContainerPort: 8080, HostPort: 9090, Protocol: "tcp"},
	})
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	assert.Equal(t, 9090, resolved[0].HostPort)

	require.Len(t, runner.calls, 3)
	assert.Contains(t, strings.Join(runner.calls[0], " "), "PREROUTING")
	assert.Contains(t, strings.Join(runner.calls[1], " "), "MASQUERADE")
	assert.Contains(t, strings.Join(runner.calls[2], " "), "FORWARD")
}

func TestPortForwarderDefaultsHostPortAndProtocol(t *testing.T) {
	runner := &fakeRunner{}
	pf := NewPortForwarderWithRunner(runner)

	resolved, err := pf.Publish("box-1", "10.88.0.2", []types.PortPublish{
		{ContainerPort: 8080},
	})
	require.NoError(t, err)
	assert.Equal(t, 8080, resolved[0].HostPort)
	assert.Equal(t, "tcp", resolved[0].Protocol)
}

func TestPortForwarderUnpublishRemovesAllRules(t *testing.T) {
	runner := &fakeRunner{}
	pf := NewPortForwarderWithRunner(runner)

	_, err := pf.Publish("box-1", "10.88.0.2", []types.PortPublish{
		{ContainerPort: 8080, HostPort: 9090, Protocol: "tcp"},
	})
	require.NoError(t, err)
	runner.calls = nil

	require.NoError(t, pf.Unpublish("box-1"))
	require.Len(t, runner.calls, 3)
	for _, call := range runner.calls {
		assert.Contains(t, call, "-D")
	}
	assert.Empty(t, pf.Published("box-1"))
}

func TestPortForwarderPublishRollsBackOnFailure(t *testing.T) {
	runner := &fakeRunner{fail: map[int]bool{1: true}} // MASQUERADE call fails
	pf := NewPortForwarderWithRunner(runner)

	_, err := pf.Publish("box-1", "10.88.0.2", []types.PortPublish{
		{ContainerPort: 8080, HostPort: 9090, Protocol: "tcp"},
	})
	assert.Error(t, err)
	assert.Empty(t, pf.Published("box-1"))
}

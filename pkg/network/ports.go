package network

import (
	"fmt"
	"strings"
	"sync"

	"github.com/a3s-box/box/pkg/types"
)

// CommandRunner abstracts iptables invocation so tests can assert on
// the rule sequence without root or a real netfilter stack.
type CommandRunner interface {
	Run(name string, args ...string) ([]byte, error)
}

// execRunner shells out to the real iptables binary via os/exec.
type execRunner struct{}

func (execRunner) Run(name string, args ...string) ([]byte, error) {
	return execCommand(name, args...)
}

// PortForwarder installs and tears down the iptables rule triad that
// gets host-port traffic to a box's container IP: PREROUTING DNAT,
// POSTROUTING MASQUERADE, and a FORWARD ACCEPT. Grounded directly on
// cuemby-warren/pkg/network/hostports.go's HostPortPublisher, keyed by
// box id instead of task id, and fixing that file's own documented
// gap (cleanupPorts had no container IP to work with) by recording
// the container IP alongside each published port.
type PortForwarder struct {
	mu        sync.Mutex
	runner    CommandRunner
	published map[string][]publishedPort // boxID -> ports
}

type publishedPort struct {
	containerIP string
	port        types.PortPublish
}

// NewPortForwarder returns a PortForwarder that shells out to the
// real iptables binary.
func NewPortForwarder() *PortForwarder {
	return NewPortForwarderWithRunner(execRunner{})
}

// NewPortForwarderWithRunner returns a PortForwarder using runner
// instead of a real iptables invocation, for tests.
func NewPortForwarderWithRunner(runner CommandRunner) *PortForwarder {
	return &PortForwarder{runner: runner, published: make(map[string][]publishedPort)}
}

// Publish installs forwarding rules for every port in ports, filling
// in HostPort == ContainerPort when the caller left HostPort unset.
// On partial failure, every rule already installed for this call is
// rolled back.
func (p *PortForwarder) Publish(boxID, containerIP string, ports []types.PortPublish) ([]types.PortPublish, error) {
	if len(ports) == 0 {
		return nil, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	resolved := make([]types.PortPublish, len(ports))
	copy(resolved, ports)
	for i := range resolved {
		if resolved[i].HostPort == 0 {
			resolved[i].HostPort = resolved[i].ContainerPort
		}
		if resolved[i].Protocol == "" {
			resolved[i].Protocol = "tcp"
		}
	}

	installed := make([]publishedPort, 0, len(resolved))
	for _, port := range resolved {
		if err := p.install(containerIP, port); err != nil {
			for _, pp := range installed {
				p.remove(pp.containerIP, pp.port)
			}
			return nil, fmt.Errorf("network: publish %d:%d/%s: %w",
				port.HostPort, port.ContainerPort, port.Protocol, err)
		}
		installed = append(installed, publishedPort{containerIP: containerIP, port: port})
	}

	p.published[boxID] = append(p.published[boxID], installed...)
	return resolved, nil
}

// Unpublish removes every rule installed for boxID.
func (p *PortForwarder) Unpublish(boxID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ports, ok := p.published[boxID]
	if !ok {
		return nil
	}
	for _, pp := range ports {
		p.remove(pp.containerIP, pp.port) // best-effort; a missing rule is not an error on teardown
	}
	delete(p.published, boxID)
	return nil
}

// Published returns the ports currently published for boxID.
func (p *PortForwarder) Published(boxID string) []types.PortPublish {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.PortPublish, 0, len(p.published[boxID]))
	for _, pp := range p.published[boxID] {
		out = append(out, pp.port)
	}
	return out
}

func (p *PortForwarder) install(containerIP string, port types.PortPublish) error {
	proto := strings.ToLower(port.Protocol)

	if err := p.runIPTables([]string{
		"-t", "nat", "-A", "PREROUTING",
		"-p", proto, "--dport", fmt.Sprintf("%d", port.HostPort),
		"-j", "DNAT", "--to-destination", fmt.Sprintf("%s:%d", containerIP, port.ContainerPort),
	}); err != nil {
		return fmt.Errorf("DNAT rule: %w", err)
	}

	if err := p.runIPTables([]string{
		"-t", "nat", "-A", "POSTROUTING",
		"-p", proto, "-d", containerIP, "--dport", fmt.Sprintf("%d", port.ContainerPort),
		"-j", "MASQUERADE",
	}); err != nil {
		p.remove(containerIP, port)
		return fmt.Errorf("MASQUERADE rule: %w", err)
	}

	if err := p.runIPTables([]string{
		"-A", "FORWARD",
		"-p", proto, "-d", containerIP, "--dport", fmt.Sprintf("%d", port.ContainerPort),
		"-j", "ACCEPT",
	}); err != nil {
		p.remove(containerIP, port)
		return fmt.Errorf("FORWARD rule: %w", err)
	}

	return nil
}

func (p *PortForwarder) remove(containerIP string, port types.PortPublish) {
	proto := strings.ToLower(port.Protocol)

	p.runIPTables([]string{
		"-t", "nat", "-D", "PREROUTING",
		"-p", proto, "--dport", fmt.Sprintf("%d", port.HostPort),
		"-j", "DNAT", "--to-destination", fmt.Sprintf("%s:%d", containerIP, port.ContainerPort),
	})
	p.runIPTables([]string{
		"-t", "nat", "-D", "POSTROUTING",
		"-p", proto, "-d", containerIP, "--dport", fmt.Sprintf("%d", port.ContainerPort),
		"-j", "MASQUERADE",
	})
	p.runIPTables([]string{
		"-D", "FORWARD",
		"-p", proto, "-d", containerIP, "--dport", fmt.Sprintf("%d", port.ContainerPort),
		"-j", "ACCEPT",
	})
}

func (p *PortForwarder) runIPTables(args []string) error {
	output, err := p.runner.Run("iptables", args...)
	if err != nil {
		return fmt.Errorf("iptables failed: %w (output: %s)", err, string(output))
	}
	return nil
}

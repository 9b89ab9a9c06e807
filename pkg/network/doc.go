/*
Package network provides the box-to-box bridge: a deterministic
IPv4/MAC allocator (IPAM), a hosts-table DNS-like resolver so boxes on
the same network can reach each other by name, and host-mode port
forwarding via iptables.

A3S Box attaches boxes to a userspace virtio-net connector rather than
a kernel bridge, so the host-side work here is limited to bookkeeping
(which box holds which IP/MAC) and, for published ports, installing
the PREROUTING/POSTROUTING/FORWARD iptables rule triad that gets host
traffic to the connector's listening socket. It is grounded directly
on cuemby-warren/pkg/network/hostports.go's per-task port-publishing
bookkeeping (map[id][]ports for cleanup), generalized here to also
track IP/MAC allocations and to persist network definitions under
<home>/networks/<name>.json as required by the on-disk layout.
*/
package network

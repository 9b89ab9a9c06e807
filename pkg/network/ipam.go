package network

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"
)

// Endpoint is one box's attachment to a network.
type Endpoint struct {
	BoxID      string `json:"boxId"`
	Hostname   string `json:"hostname"`
	IPAddress  string `json:"ipAddress"`
	MACAddress string `json:"macAddress"`
}

// Allocator hands out deterministic IPv4/MAC pairs from a subnet. A
// single mutex guards every operation, matching spec.md §5's "single
// async mutex around the allocator" requirement for the network IPAM.
type Allocator struct {
	mu      sync.Mutex
	subnet  *net.IPNet
	gateway net.IP
	next    uint32 // next candidate host offset to try
	inUse   map[string]string // ip string -> boxID
	byBox   map[string]net.IP
}

// NewAllocator returns an Allocator over subnet. The first usable
// address (subnet base + 1) is reserved as the gateway and is never
// handed out to a box.
func NewAllocator(subnet *net.IPNet) (*Allocator, error) {
	ones, bits := subnet.Mask.Size()
	if bits != 32 {
		return nil, fmt.Errorf("network: only IPv4 subnets are supported, got %d bits", bits)
	}
	if bits-ones < 2 {
		return nil, fmt.Errorf("network: subnet %s is too small to allocate from", subnet)
	}

	base := ipToUint32(subnet.IP.To4())
	gw := uint32ToIP(base + 1)

	return &Allocator{
		subnet:  subnet,
		gateway: gw,
		next:    2,
		inUse:   make(map[string]string),
		byBox:   make(map[string]net.IP),
	}, nil
}

// Gateway returns the subnet's reserved gateway address.
func (a *Allocator) Gateway() net.IP {
	return a.gateway
}

// Subnet returns the underlying subnet.
func (a *Allocator) Subnet() *net.IPNet {
	return a.subnet
}

// Allocate assigns the next free IP in the subnet to boxID and
// derives a deterministic MAC from it. Calling Allocate again for a
// boxID that already holds an address returns the same address
// (idempotent under the per-box lock held by callers).
func (a *Allocator) Allocate(boxID string) (net.IP, net.HardwareAddr, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if ip, ok := a.byBox[boxID]; ok {
		return ip, macFor(ip), nil
	}

	base := ipToUint32(a.subnet.IP.To4())
	ones, _ := a.subnet.Mask.Size()
	size := uint32(1) << uint(32-ones)

	// Host offsets 2 .. size-2 are allocatable (network, gateway and
	// broadcast are skipped); the scan starts at next and wraps once.
	var usable uint32
	if size > 3 {
		usable = size - 3
	}
	for i := uint32(0); i < usable; i++ {
		offset := 2 + (a.next-2+i)%usable
		candidate := uint32ToIP(base + offset)
		key := candidate.String()
		if _, taken := a.inUse[key]; taken {
			continue
		}
		a.inUse[key] = boxID
		a.byBox[boxID] = candidate
		a.next = offset + 1
		return candidate, macFor(candidate), nil
	}

	return nil, nil, fmt.Errorf("network: subnet %s has no free addresses", a.subnet)
}

// Restore re-registers a previously-persisted allocation, used when
// loading network state from disk at startup.
func (a *Allocator) Restore(boxID string, ip net.IP) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inUse[ip.String()] = boxID
	a.byBox[boxID] = ip
}

// Release frees boxID's allocation, if any.
func (a *Allocator) Release(boxID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ip, ok := a.byBox[boxID]
	if !ok {
		return
	}
	delete(a.inUse, ip.String())
	delete(a.byBox, boxID)
}

// Lookup returns the IP currently held by boxID, if any.
func (a *Allocator) Lookup(boxID string) (net.IP, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ip, ok := a.byBox[boxID]
	return ip, ok
}

// Reconcile releases every allocation whose box id is not present in
// live, returning the released box ids. This is how the engine
// guarantees no leaked IP allocations survive abnormal termination
// (spec.md §4.7 "reclaimed at reconcile").
func (a *Allocator) Reconcile(live map[string]bool) []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	var released []string
	for boxID, ip := range a.byBox {
		if live[boxID] {
			continue
		}
		delete(a.inUse, ip.String())
		delete(a.byBox, boxID)
		released = append(released, boxID)
	}
	return released
}

// macFor derives a deterministic, locally-administered MAC address
// from an IPv4 address: 02:42 is the locally-administered unicast OUI
// convention this corpus's userspace-networking peers use, followed
// by the four IP octets, so the MAC is recoverable from the IP alone
// without a separate allocation table.
func macFor(ip net.IP) net.HardwareAddr {
	v4 := ip.To4()
	return net.HardwareAddr{0x02, 0x42, v4[0], v4[1], v4[2], v4[3]}
}

func ipToUint32(ip net.IP) uint32 {
	return binary.BigEndian.Uint32(ip.To4())
}

func uint32ToIP(v uint32) net.IP {
	b := make(net.IP, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

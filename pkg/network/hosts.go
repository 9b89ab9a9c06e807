package network

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// HostsTable tracks the DNS-like name -> IP mapping for every box
// attached to one network, and renders the /etc/hosts content the
// engine hands to the shim for each box.
type HostsTable struct {
	mu      sync.RWMutex
	entries map[string]hostEntry // boxID -> entry
}

type hostEntry struct {
	hostname  string
	ipAddress string
}

// NewHostsTable returns an empty HostsTable.
func NewHostsTable() *HostsTable {
	return &HostsTable{entries: make(map[string]hostEntry)}
}

// Set records (or replaces) boxID's hostname/IP entry.
func (h *HostsTable) Set(boxID, hostname, ipAddress string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[boxID] = hostEntry{hostname: hostname, ipAddress: ipAddress}
}

// Remove deletes boxID's entry.
func (h *HostsTable) Remove(boxID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.entries, boxID)
}

// Render produces /etc/hosts content: a 127.0.0.1 localhost line,
// then selfBoxID's own address and hostname so the guest can resolve
// its own name, then every other box on the network sorted by
// hostname for deterministic output.
func (h *HostsTable) Render(selfBoxID string) string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var b strings.Builder
	b.WriteString("127.0.0.1\tlocalhost\n")
	if self, ok := h.entries[selfBoxID]; ok {
		fmt.Fprintf(&b, "%s\t%s\n", self.ipAddress, self.hostname)
	}

	others := make([]hostEntry, 0, len(h.entries))
	for boxID, e := range h.entries {
		if boxID == selfBoxID {
			continue
		}
		others = append(others, e)
	}
	sort.Slice(others, func(i, j int) bool { return others[i].hostname < others[j].hostname })
	for _, e := range others {
		fmt.Fprintf(&b, "%s\t%s\n", e.ipAddress, e.hostname)
	}
	return b.String()
}

package network

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustSubnet(t *testing.T, cidr string) *net.IPNet {
	t.Helper()
	_, subnet, err := net.ParseCIDR(cidr)
	require.NoError(t, err)
	return subnet
}

func TestAllocatorAssignsDistinctAddresses(t *testing.T) {
	alloc, err := NewAllocator(mustSubnet(t, "10.88.0.0/24"))
	require.NoError(t, err)

	ip1, mac1, err := alloc.Allocate("box-1")
	require.NoError(t, err)
	ip2, mac2, err := alloc.Allocate("box-2")
	require.NoError(t, err)

	assert.NotEqual(t, ip1.String(), ip2.String())
	assert.NotEqual(t, mac1.String(), mac2.String())
	assert.NotEqual(t, alloc.Gateway().String(), ip1.String())
}

func TestAllocatorIsIdempotentPerBox(t *testing.T) {
	alloc, err := NewAllocator(mustSubnet(t, "10.88.0.0/24"))
	require.NoError(t, err)

	ip1, _, err := alloc.Allocate("box-1")
	require.NoError(t, err)
	ip2, _, err := alloc.Allocate("box-1")
	require.NoError(t, err)
	assert.Equal(t, ip1.String(), ip2.String())
}

func TestAllocatorMacIsDeterministicFromIP(t *testing.T) {
	alloc, err := NewAllocator(mustSubnet(t, "10.88.0.0/24"))
	require.NoError(t, err)

	ip, mac, err := alloc.Allocate("box-1")
	require.NoError(t, err)
	assert.Equal(t, macFor(ip).String(), mac.String())
}

func TestAllocatorReleaseFreesAddress(t *testing.T) {
	alloc, err := NewAllocator(mustSubnet(t, "10.88.0.0/30")) // 1 usable host address
	require.NoError(t, err)

	ip1, _, err := alloc.Allocate("box-1")
	require.NoError(t, err)

	alloc.Release("box-1")

	ip2, _, err := alloc.Allocate("box-2")
	require.NoError(t, err)
	assert.Equal(t, ip1.String(), ip2.String())
}

func TestAllocatorExhaustion(t *testing.T) {
	alloc, err := NewAllocator(mustSubnet(t, "10.88.0.0/30")) // gateway + 1 usable host
	require.NoError(t, err)

	_, _, err = alloc.Allocate("box-1")
	require.NoError(t, err)

	_, _, err = alloc.Allocate("box-2")
	assert.Error(t, err)
}

func TestAllocatorReconcileReleasesLeakedBoxes(t *testing.T) {
	alloc, err := NewAllocator(mustSubnet(t, "10.88.0.0/24"))
	require.NoError(t, err)

	_, _, err = alloc.Allocate("box-1")
	require.NoError(t, err)
	_, _, err = alloc.Allocate("box-2")
	require.NoError(t, err)

	released := alloc.Reconcile(map[string]bool{"box-1": true})
	assert.ElementsMatch(t, []string{"box-2"}, released)

	_, ok := alloc.Lookup("box-2")
	assert.False(t, ok)
	_, ok = alloc.Lookup("box-1")
	assert.True(t, ok)
}

func TestAllocatorRestore(t *testing.T) {
	alloc, err := NewAllocator(mustSubnet(t, "10.88.0.0/24"))
	require.NoError(t, err)

	ip := net.ParseIP("10.88.0.5")
	alloc.Restore("box-1", ip)

	got, ok := alloc.Lookup("box-1")
	require.True(t, ok)
	assert.Equal(t, ip.String(), got.String())
}

package network

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHostsTableRenderIncludesSelfAndOthers(t *testing.T) {
	h := NewHostsTable()
	h.Set("box-1", "web", "10.88.0.2")
	h.Set("box-2", "db", "10.88.0.3")

	rendered := h.Render("box-1")
	assert.True(t, strings.Contains(rendered, "10.88.0.2\tweb"))
	assert.True(t, strings.Contains(rendered, "10.88.0.3\tdb"))
	assert.True(t, strings.Contains(rendered, "127.0.0.1\tlocalhost"))
}

func TestHostsTableRemove(t *testing.T) {
	h := NewHostsTable()
	h.Set("box-1", "web", "10.88.0.2")
	h.Remove("box-1")

	rendered := h.Render("box-1")
	assert.False(t, strings.Contains(rendered, "web"))
}

func TestHostsTableRenderIsDeterministic(t *testing.T) {
	h := NewHostsTable()
	h.Set("box-2", "zeta", "10.88.0.3")
	h.Set("box-3", "alpha", "10.88.0.4")

	r1 := h.Render("box-1")
	r2 := h.Render("box-1")
	assert.Equal(t, r1, r2)
	assert.True(t, strings.Index(r1, "alpha") < strings.Index(r1, "zeta"))
}

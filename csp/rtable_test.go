package csp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableDefaultFallback(t *testing.T) {
	table := NewTable()
	a := newFakeIface("A", 256)
	b := newFakeIface("B", 256)

	require.NoError(t, table.Set(RouteDefault, a, NodeMAC))
	require.NoError(t, table.Set(5, b, 9))

	// Specific route wins.
	route := table.Find(5)
	require.NotNil(t, route)
	assert.Equal(t, Interface(b), route.Iface)
	assert.Equal(t, uint8(9), route.Via)

	// Anything else falls back to the default.
	route = table.Find(7)
	require.NotNil(t, route)
	assert.Equal(t, Interface(a), route.Iface)
}

func TestTableFindMAC(t *testing.T) {
	table := NewTable()
	a := newFakeIface("A", 256)

	require.NoError(t, table.Set(RouteDefault, a, NodeMAC))
	require.NoError(t, table.Set(5, a, 9))

	assert.Equal(t, uint8(9), table.FindMAC(5))
	// No via installed: the sentinel tells the transport to use the packet
	// destination.
	assert.Equal(t, NodeMAC, table.FindMAC(7))
	// No route at all behaves the same.
	empty := NewTable()
	assert.Equal(t, NodeMAC, empty.FindMAC(7))
}

func TestTableValidation(t *testing.T) {
	table := NewTable()
	a := newFakeIface("A", 256)

	assert.ErrorIs(t, table.Set(RouteDefault+1, a, NodeMAC), ErrInval)
	assert.ErrorIs(t, table.Set(1, nil, NodeMAC), ErrInval)
	assert.Nil(t, table.Find(3))
}

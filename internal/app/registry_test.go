package app

import (
	"testing"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopConn struct{}

func (nopConn) TrySend(core.Frame) error { return nil }
func (nopConn) Close()                   {}

func TestRegistryLifecycle(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("c1", nopConn{}))
	require.ErrorIs(t, r.Register("c1", nopConn{}), domain.ErrDuplicateConnection)

	st, ok := r.State("c1")
	require.True(t, ok)
	assert.Equal(t, StateUnjoined, st)

	_, ok = r.Unbind("c1")
	assert.False(t, ok, "never joined")

	require.True(t, r.Bind("c1", "R1", "alice"))
	require.True(t, r.Bind("c1", "R1", "alice"))
	st, _ = r.State("c1")
	assert.Equal(t, StateJoined, st)

	b, ok := r.Unbind("c1")
	require.True(t, ok)
	assert.Equal(t, Binding{Room: "R1", Participant: "alice"}, b)
	_, ok = r.Unbind("c1")
	assert.False(t, ok)

	assert.True(t, r.Remove("c1"))
	assert.False(t, r.Remove("c1"))
	assert.False(t, r.Bind("c1", "R1", "alice"))
	assert.Equal(t, 0, r.Len())
}

func TestConnStateString(t *testing.T) {
	assert.Equal(t, "joined", StateJoined.String())
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "ConnState(9)", ConnState(9).String())
}

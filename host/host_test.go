package host

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ringdb/ring-go-driver/addr"
)

func TestHostLifecycle(t *testing.T) {
	h := New(addr.New("10.0.0.1", 9042), WithDatacenter("dc1"), WithRack("r1"))

	require.Equal(t, Created, h.State())
	require.False(t, h.IsUp())

	h.SetUp()
	require.True(t, h.IsUp())

	h.SetDown()
	require.Equal(t, Down, h.State())

	h.SetState(Removed)
	require.Equal(t, "removed", h.State().String())

	require.Equal(t, "dc1", h.Datacenter())
	require.Equal(t, "r1", h.Rack())
}

func TestHostMark(t *testing.T) {
	h := New(addr.New("10.0.0.1", 9042))
	require.False(t, h.IsMarked())

	h.Mark(true)
	require.True(t, h.IsMarked())

	h.Mark(false)
	require.False(t, h.IsMarked())
}

func TestHostUpdateAndTokens(t *testing.T) {
	h := New(addr.New("10.0.0.1", 9042))
	h.Update(WithTokens([]string{"-9223372036854775808", "0"}))

	tokens := h.Tokens()
	require.Len(t, tokens, 2)

	// The returned slice is a copy.
	tokens[0] = "mutated"
	require.Equal(t, "-9223372036854775808", h.Tokens()[0])
}

func TestMapCopy(t *testing.T) {
	h1 := New(addr.New("10.0.0.1", 9042))
	h2 := New(addr.New("10.0.0.2", 9042))
	m := Map{h1.Addr(): h1, h2.Addr(): h2}

	c := m.Copy()
	delete(c, h1.Addr())
	require.Len(t, m, 2)
	require.Len(t, c, 1)
	require.ElementsMatch(t, []addr.Addr{h1.Addr(), h2.Addr()}, m.Addrs())
}

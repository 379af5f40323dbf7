package addr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	a, err := Parse("10.0.0.1:9043", 9042)
	require.NoError(t, err)
	require.Equal(t, New("10.0.0.1", 9043), a)

	a, err = Parse("10.0.0.1", 9042)
	require.NoError(t, err)
	require.Equal(t, New("10.0.0.1", 9042), a)

	_, err = Parse("10.0.0.1:whoops", 9042)
	require.Error(t, err)
}

func TestMapKeySemantics(t *testing.T) {
	m := map[Addr]int{}
	m[New("127.0.0.1", 9042)] = 1
	m[New("127.0.0.1", 9042)] = 2
	m[New("127.0.0.1", 9043)] = 3

	require.Len(t, m, 2)
	require.Equal(t, 2, m[New("127.0.0.1", 9042)])
}

func TestString(t *testing.T) {
	require.Equal(t, "127.0.0.1:9042", New("127.0.0.1", 9042).String())
}

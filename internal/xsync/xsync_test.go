package xsync

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMutexWithLock(t *testing.T) {
	var (
		m Mutex
		n int
		wg sync.WaitGroup
	)

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.WithLock(func() {
				n++
			})
		}()
	}
	wg.Wait()

	require.Equal(t, 100, n)
}

func TestLockedReturnsValue(t *testing.T) {
	var m Mutex
	v := Locked(&m, func() int {
		return 42
	})
	require.Equal(t, 42, v)
}

func TestRWMutexHelpers(t *testing.T) {
	var (
		m RWMutex
		n int
	)

	m.WithLock(func() {
		n = 7
	})
	m.WithRLock(func() {
		require.Equal(t, 7, n)
	})
	require.Equal(t, 7, RLocked(&m, func() int {
		return n
	}))
}

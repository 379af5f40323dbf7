package trace

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ringdb/ring-go-driver/addr"
)

func TestComposeCallsBothInOrder(t *testing.T) {
	var calls []string

	a := &Driver{
		OnConnClose: func(ConnCloseInfo) {
			calls = append(calls, "a")
		},
		OnFlush: func(FlushStartInfo) func(FlushDoneInfo) {
			calls = append(calls, "a-start")

			return func(FlushDoneInfo) {
				calls = append(calls, "a-done")
			}
		},
	}
	b := &Driver{
		OnConnClose: func(ConnCloseInfo) {
			calls = append(calls, "b")
		},
		OnFlush: func(FlushStartInfo) func(FlushDoneInfo) {
			calls = append(calls, "b-start")

			return func(FlushDoneInfo) {
				calls = append(calls, "b-done")
			}
		},
	}

	c := a.Compose(b)
	c.OnConnClose(ConnCloseInfo{Addr: addr.New("127.0.0.1", 9042)})
	c.OnFlush(FlushStartInfo{})(FlushDoneInfo{})

	require.Equal(t, []string{"a", "b", "a-start", "b-start", "a-done", "b-done"}, calls)
}

func TestComposeWithNil(t *testing.T) {
	a := &Driver{
		OnQueueFull: func(QueueFullInfo) {},
	}

	require.Same(t, a, a.Compose(nil))
	require.Same(t, a, (*Driver)(nil).Compose(a))

	c := a.Compose(&Driver{})
	require.NotNil(t, c.OnQueueFull)
	require.Nil(t, c.OnConnDial)
	c.OnQueueFull(QueueFullInfo{})
}

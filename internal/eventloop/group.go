package eventloop

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Group owns a fixed set of loops and hands them out round-robin.
type Group struct {
	loops []*Loop
	cur   atomic.Uint64
}

func NewGroup(n int, opts ...Option) *Group {
	if n <= 0 {
		n = 1
	}
	g := &Group{
		loops: make([]*Loop, n),
	}
	for i := range g.loops {
		g.loops[i] = New(append([]Option{WithName(fmt.Sprintf("io-%d", i))}, opts...)...)
	}

	return g
}

func (g *Group) Size() int {
	return len(g.loops)
}

func (g *Group) At(i int) *Loop {
	return g.loops[i]
}

// Next returns loops in round-robin order.
func (g *Group) Next() *Loop {
	return g.loops[(g.cur.Add(1)-1)%uint64(len(g.loops))]
}

func (g *Group) Close(ctx context.Context) error {
	eg, egCtx := errgroup.WithContext(ctx)
	for _, l := range g.loops {
		l := l
		eg.Go(func() error {
			return l.Close(egCtx)
		})
	}

	return eg.Wait()
}

package replicate

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/janelia-flyem/tilegraph/node"
	"github.com/janelia-flyem/tilegraph/tg"
)

// Request asks for one tile.
type Request struct {
	Rect  tg.IRect
	Level int
}

// Pool drives every clone of an adaptor with its own goroutine.
type Pool struct {
	terminals []node.Node
	session   string
}

// NewPool returns a pool over the adaptor's current clones.  Replicating or resetting the
// adaptor afterwards requires a new pool.
func NewPool(a *Adaptor) (*Pool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if len(a.clones) == 0 {
		return nil, ErrNoOriginal
	}
	p := &Pool{session: a.session}
	for _, c := range a.clones {
		t := c.graph.Node(c.terminal)
		if t == nil {
			return nil, fmt.Errorf("terminal %s of clone: %w", c.terminal, node.ErrNodeNotFound)
		}
		p.terminals = append(p.terminals, t)
	}
	return p, nil
}

// Workers returns the number of goroutines used by Process.
func (p *Pool) Workers() int { return len(p.terminals) }

// Process serves every request and returns the tiles in request order.  Each tile is a
// private copy.  It stops early if ctx is done.
func (p *Pool) Process(ctx context.Context, reqs []Request) ([]*tg.Tile, error) {
	tiles := make([]*tg.Tile, len(reqs))
	jobs := make(chan int)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(jobs)
		for i := range reqs {
			select {
			case jobs <- i:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})
	for w, terminal := range p.terminals {
		w, terminal := w, terminal
		g.Go(func() error {
			var served int
			for i := range jobs {
				if err := ctx.Err(); err != nil {
					return err
				}
				tiles[i] = terminal.GetTile(reqs[i].Rect, reqs[i].Level).Clone()
				served++
			}
			tg.Debugf("replication %s worker %d served %d tiles\n", p.session, w, served)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return tiles, nil
}

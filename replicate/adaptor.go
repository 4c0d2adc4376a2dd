// Package replicate runs one processing graph on several goroutines by giving each its
// own structural copy of the graph, optionally funneling every copy's decoding through a
// single serialized source per decoder.
package replicate

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/twinj/uuid"

	"github.com/janelia-flyem/tilegraph/node"
	"github.com/janelia-flyem/tilegraph/source"
	"github.com/janelia-flyem/tilegraph/tg"
)

var (
	// ErrNoOriginal is returned when replicating before an original graph is set.
	ErrNoOriginal = errors.New("no original graph to replicate")

	// ErrNoClone is returned for clone indices outside the replicated set.
	ErrNoClone = errors.New("no such clone")
)

// clone is one goroutine's copy of the original graph.
type clone struct {
	graph    *node.Graph
	terminal tg.NodeID
	ids      map[tg.NodeID]tg.NodeID // original graph ID -> clone ID
}

// Adaptor holds an original graph and its clones.  Clone 0 is the original graph itself.
// Configuration methods are safe for concurrent use, but each clone must be driven by
// at most one goroutine at a time.
type Adaptor struct {
	mu sync.RWMutex

	reg      *node.Registry
	original *node.Graph
	terminal tg.NodeID

	share   bool
	threads int
	session string

	clones []*clone

	// wrapped sources, keyed by the wrapper's ID, and the source each replaced
	shared  map[tg.NodeID]*source.Shared
	renamed map[tg.NodeID]tg.NodeID // source ID -> wrapper ID

	warned bool
}

// NewAdaptor returns an adaptor that copies nodes it cannot duplicate through reg.
func NewAdaptor(reg *node.Registry) *Adaptor {
	return &Adaptor{reg: reg, threads: 1}
}

// SetOriginal replaces the graph being replicated.  Any previous clones are dropped, and
// the new graph is replicated right away if the thread count is above one.
func (a *Adaptor) SetOriginal(g *node.Graph, terminal tg.NodeID) error {
	if g == nil || g.Node(terminal) == nil {
		return fmt.Errorf("terminal %s: %w", terminal, node.ErrNodeNotFound)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reset()
	a.original, a.terminal = g, terminal
	a.clones = []*clone{a.originalClone()}
	if a.threads > 1 {
		return a.replicateLocked()
	}
	return nil
}

// SetShareSources chooses whether clones decode through shared, serialized sources.
// It takes effect on the next Replicate.
func (a *Adaptor) SetShareSources(share bool) {
	a.mu.Lock()
	a.share = share
	a.mu.Unlock()
}

func (a *Adaptor) ShareSources() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.share
}

// SetThreadCount sets the number of clones.  With an original graph set, n > 1
// replicates it at once and n == 1 drops any clones, serving from the original alone.
// A failed replication leaves the original alone and a thread count of one.
func (a *Adaptor) SetThreadCount(n int) error {
	if n < 1 {
		return fmt.Errorf("bad thread count %d", n)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.threads = n
	if a.original == nil {
		return nil
	}
	if n == 1 {
		a.reset()
		return nil
	}
	return a.replicateLocked()
}

func (a *Adaptor) ThreadCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.threads
}

func (a *Adaptor) NumClones() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.clones)
}

// Session returns the identifier of the current clone set.
func (a *Adaptor) Session() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.session
}

func (a *Adaptor) originalClone() *clone {
	ids := make(map[tg.NodeID]tg.NodeID)
	for _, n := range a.original.Nodes() {
		ids[n.ID()] = n.ID()
	}
	return &clone{graph: a.original, terminal: a.terminal, ids: ids}
}

// Replicate makes ThreadCount clones of the original graph.  Either every clone is made
// or, on error, the adaptor is left with the original graph alone and a thread count
// of one.
func (a *Adaptor) Replicate() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.original == nil {
		return ErrNoOriginal
	}
	return a.replicateLocked()
}

// replicateLocked replaces the clone set with the lock held, publishing all clones or
// reverting to the original.
func (a *Adaptor) replicateLocked() error {
	timedLog := tg.NewTimeLog()
	a.reset()
	session := uuid.NewV4().String()
	clones, err := a.replicate()
	if err != nil {
		a.reset()
		a.threads = 1
		tg.Errorf("replication %s of node %s failed: %v\n", session, a.terminal, err)
		return err
	}
	a.clones = clones
	a.session = session
	timedLog.Infof("replication %s: %d clones of %d node graph, shared sources %t",
		session, len(clones), a.original.Len(), len(a.shared) > 0)
	return nil
}

// replicate does the work of Replicate with the lock held and nothing published.
func (a *Adaptor) replicate() ([]*clone, error) {
	if a.share {
		if err := a.wrapSources(); err != nil {
			return nil, err
		}
	}
	shared := make(map[tg.NodeID]node.Node, len(a.shared))
	for id, s := range a.shared {
		shared[id] = s
	}
	terminal := a.terminal
	if id, found := a.renamed[terminal]; found {
		terminal = id
	}
	first := a.originalClone()
	first.terminal = terminal
	for srcID, wrapID := range a.renamed {
		first.ids[srcID] = wrapID
	}
	clones := []*clone{first}
	for i := 1; i < a.threads; i++ {
		g, err := node.Copy(a.original, a.reg, node.CopyOptions{Shared: shared})
		if err != nil {
			return nil, fmt.Errorf("clone %d: %v", i, err)
		}
		remap := g.Reassign(nil)
		ids := make(map[tg.NodeID]tg.NodeID, len(first.ids))
		for orig, cur := range first.ids {
			ids[orig] = remap[cur]
		}
		clones = append(clones, &clone{graph: g, terminal: remap[terminal], ids: ids})
	}
	return clones, nil
}

// wrapSources puts a shared wrapper in place of every source of the original graph.
func (a *Adaptor) wrapSources() error {
	a.shared = make(map[tg.NodeID]*source.Shared)
	a.renamed = make(map[tg.NodeID]tg.NodeID)
	var srcs []node.TileSource
	for _, n := range a.original.Nodes() {
		if _, isShared := n.(*source.Shared); isShared || a.original.IsShared(n.ID()) {
			continue
		}
		if src, ok := node.AsTileSource(n); ok {
			srcs = append(srcs, src)
		}
	}
	for _, src := range srcs {
		w := source.NewShared(src)
		srcID := src.ID()
		if _, err := a.original.Replace(srcID, w, false); err != nil {
			w.Close()
			return fmt.Errorf("sharing source %s: %v", srcID, err)
		}
		a.shared[w.ID()] = w
		a.renamed[srcID] = w.ID()
		tg.Debugf("source %s (%s %q) shared as %s\n", srcID, src.TypeName(), src.Path(), w.ID())
	}
	return nil
}

// reset drops every clone but the original and puts the original's sources back.
func (a *Adaptor) reset() {
	for srcID, wrapID := range a.renamed {
		w := a.shared[wrapID]
		if a.original != nil {
			if _, err := a.original.Replace(wrapID, w.Source(), false); err != nil {
				tg.Errorf("restoring source %s: %v\n", srcID, err)
			}
		}
		w.Close()
	}
	a.shared, a.renamed = nil, nil
	a.session = ""
	a.warned = false
	if a.original != nil {
		a.clones = []*clone{a.originalClone()}
	} else {
		a.clones = nil
	}
}

// Reset drops every clone but the original graph, restores its sources and sets the
// thread count back to one.
func (a *Adaptor) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reset()
	a.threads = 1
}

func (a *Adaptor) cloneAt(i int) (*clone, error) {
	if i < 0 || i >= len(a.clones) {
		return nil, fmt.Errorf("clone %d of %d: %w", i, len(a.clones), ErrNoClone)
	}
	return a.clones[i], nil
}

// Clone returns the terminal node of clone i.
func (a *Adaptor) Clone(i int) (node.Node, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	c, err := a.cloneAt(i)
	if err != nil {
		return nil, err
	}
	return c.graph.Node(c.terminal), nil
}

// CloneGraph returns the graph of clone i and its terminal ID.
func (a *Adaptor) CloneGraph(i int) (*node.Graph, tg.NodeID, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	c, err := a.cloneAt(i)
	if err != nil {
		return nil, tg.InvalidNodeID, err
	}
	return c.graph, c.terminal, nil
}

// CloneID returns the ID in clone i of the node with the given ID in the original graph.
func (a *Adaptor) CloneID(i int, original tg.NodeID) (tg.NodeID, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	c, err := a.cloneAt(i)
	if err != nil {
		return tg.InvalidNodeID, err
	}
	id, found := c.ids[original]
	if !found {
		return tg.InvalidNodeID, fmt.Errorf("original node %s: %w", original, node.ErrNodeNotFound)
	}
	return id, nil
}

// Shared returns the shared source wrappers in ID order.
func (a *Adaptor) Shared() []*source.Shared {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*source.Shared, 0, len(a.shared))
	for _, s := range a.shared {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// GetTile serves a request from clone 0.  Concurrent callers should use a Pool or a
// clone each.
func (a *Adaptor) GetTile(rect tg.IRect, level int) *tg.Tile {
	a.mu.Lock()
	if len(a.clones) == 0 {
		a.mu.Unlock()
		return tg.NullTile(rect)
	}
	if len(a.clones) > 1 && !a.warned {
		tg.Warningf("tile requested from replication %s without a clone; using clone 0\n", a.session)
		a.warned = true
	}
	c := a.clones[0]
	a.mu.Unlock()
	return c.graph.Node(c.terminal).GetTile(rect, level)
}

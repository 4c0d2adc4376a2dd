package node

import (
	"errors"
	"fmt"

	"github.com/janelia-flyem/tilegraph/tg"
)

var (
	// ErrCycle is returned when a connection would make a node its own ancestor.
	ErrCycle = errors.New("connection would create a cycle")

	// ErrNodeNotFound is returned when an ID is not part of a graph.
	ErrNodeNotFound = errors.New("node not found in graph")

	// ErrTooManyInputs is returned when connecting past a node's last input slot.
	ErrTooManyInputs = errors.New("node has no free input slot")
)

// Graph is an arena owning a set of nodes.  Edges are stored as node IDs, so rewiring
// never leaves dangling references.  A Graph is not safe for concurrent mutation; each
// worker owns its own clone.
type Graph struct {
	nodes  map[tg.NodeID]Node
	order  []tg.NodeID
	inputs map[tg.NodeID][]tg.NodeID

	// shared nodes belong to another owner and are referenced, not owned.
	shared map[tg.NodeID]bool
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:  make(map[tg.NodeID]Node),
		inputs: make(map[tg.NodeID][]tg.NodeID),
		shared: make(map[tg.NodeID]bool),
	}
}

// Add makes the graph the owner of n, allocating an ID if n has none.
func (g *Graph) Add(n Node) (tg.NodeID, error) {
	b := n.base()
	if b.id == tg.InvalidNodeID {
		b.id = tg.NextNodeID()
	}
	if _, found := g.nodes[b.id]; found {
		return b.id, fmt.Errorf("node %s already in graph", b.id)
	}
	if b.graph != nil && b.graph != g {
		return b.id, fmt.Errorf("node %s already owned by another graph", b.id)
	}
	b.graph = g
	g.insert(n)
	return b.id, nil
}

// AddShared references a node owned elsewhere, e.g., a shared source wrapper used by
// every clone.  The node keeps its ID and owner.
func (g *Graph) AddShared(n Node) (tg.NodeID, error) {
	b := n.base()
	if b.id == tg.InvalidNodeID {
		b.id = tg.NextNodeID()
	}
	if _, found := g.nodes[b.id]; found {
		return b.id, fmt.Errorf("node %s already in graph", b.id)
	}
	g.insert(n)
	g.shared[b.id] = true
	return b.id, nil
}

func (g *Graph) insert(n Node) {
	id := n.ID()
	g.nodes[id] = n
	g.order = append(g.order, id)
	if _, found := g.inputs[id]; !found {
		g.inputs[id] = nil
	}
}

// IsShared returns true if the node was added with AddShared.
func (g *Graph) IsShared(id tg.NodeID) bool {
	return g.shared[id]
}

// Node returns the node with the given ID or nil.
func (g *Graph) Node(id tg.NodeID) Node {
	return g.nodes[id]
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.order)
}

// Nodes returns every node in insertion order.
func (g *Graph) Nodes() []Node {
	out := make([]Node, len(g.order))
	for i, id := range g.order {
		out[i] = g.nodes[id]
	}
	return out
}

// Input returns the node in input slot i of id, or nil for an empty or hollow slot.
func (g *Graph) Input(id tg.NodeID, i int) Node {
	ins := g.inputs[id]
	if i < 0 || i >= len(ins) || ins[i] == tg.InvalidNodeID {
		return nil
	}
	return g.nodes[ins[i]]
}

// Inputs returns a copy of the input slots of id.  Hollow slots hold tg.InvalidNodeID.
func (g *Graph) Inputs(id tg.NodeID) []tg.NodeID {
	return append([]tg.NodeID(nil), g.inputs[id]...)
}

// Outputs returns the consumers of id in insertion order.
func (g *Graph) Outputs(id tg.NodeID) []tg.NodeID {
	var out []tg.NodeID
	for _, cid := range g.order {
		for _, in := range g.inputs[cid] {
			if in == id {
				out = append(out, cid)
				break
			}
		}
	}
	return out
}

// dependsOn returns true if target is reachable from id through inputs.
func (g *Graph) dependsOn(id, target tg.NodeID) bool {
	visited := make(map[tg.NodeID]bool)
	stack := []tg.NodeID{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == target {
			return true
		}
		if visited[cur] {
			continue
		}
		visited[cur] = true
		for _, in := range g.inputs[cur] {
			if in != tg.InvalidNodeID {
				stack = append(stack, in)
			}
		}
	}
	return false
}

func (g *Graph) checkEdge(dst, src tg.NodeID) error {
	if _, found := g.nodes[dst]; !found {
		return fmt.Errorf("consumer %s: %w", dst, ErrNodeNotFound)
	}
	if _, found := g.nodes[src]; !found {
		return fmt.Errorf("input %s: %w", src, ErrNodeNotFound)
	}
	if g.dependsOn(src, dst) {
		return fmt.Errorf("connecting %s to %s: %w", src, dst, ErrCycle)
	}
	return nil
}

// Connect appends src to the first free input slot of dst.
func (g *Graph) Connect(dst, src tg.NodeID) error {
	if err := g.checkEdge(dst, src); err != nil {
		return err
	}
	ins := g.inputs[dst]
	for i, in := range ins {
		if in == tg.InvalidNodeID {
			ins[i] = src
			g.Notify(dst, EventConnect)
			return nil
		}
	}
	if max := g.nodes[dst].MaxInputs(); max >= 0 && len(ins) >= max {
		return fmt.Errorf("node %s (%s): %w", dst, g.nodes[dst].TypeName(), ErrTooManyInputs)
	}
	g.inputs[dst] = append(ins, src)
	g.Notify(dst, EventConnect)
	return nil
}

// ConnectAt places src in input slot i of dst, growing the slot list with hollow slots
// if needed.
func (g *Graph) ConnectAt(dst tg.NodeID, i int, src tg.NodeID) error {
	if err := g.checkEdge(dst, src); err != nil {
		return err
	}
	if max := g.nodes[dst].MaxInputs(); i < 0 || (max >= 0 && i >= max) {
		return fmt.Errorf("slot %d of node %s: %w", i, dst, ErrTooManyInputs)
	}
	g.setSlot(dst, i, src)
	g.Notify(dst, EventConnect)
	return nil
}

func (g *Graph) setSlot(dst tg.NodeID, i int, src tg.NodeID) {
	ins := g.inputs[dst]
	for len(ins) <= i {
		ins = append(ins, tg.InvalidNodeID)
	}
	ins[i] = src
	g.inputs[dst] = ins
}

// Disconnect removes every edge from src into dst.  Later slots shift down.
func (g *Graph) Disconnect(dst, src tg.NodeID) {
	ins := g.inputs[dst]
	kept := ins[:0]
	var removed bool
	for _, in := range ins {
		if in == src {
			removed = true
			continue
		}
		kept = append(kept, in)
	}
	g.inputs[dst] = kept
	if removed {
		g.Notify(dst, EventDisconnect)
	}
}

// Remove deletes a node and every edge touching it.  Consumers lose the slot.
func (g *Graph) Remove(id tg.NodeID) Node {
	n, found := g.nodes[id]
	if !found {
		return nil
	}
	consumers := g.Outputs(id)
	g.drop(id)
	for _, cid := range consumers {
		ins := g.inputs[cid]
		kept := ins[:0]
		for _, in := range ins {
			if in != id {
				kept = append(kept, in)
			}
		}
		g.inputs[cid] = kept
		g.Notify(cid, EventDisconnect)
	}
	return n
}

// Hollow detaches a node from the graph but leaves its consumers' slots in place, empty,
// so a replacement can later be put back by ID.
func (g *Graph) Hollow(id tg.NodeID) Node {
	n, found := g.nodes[id]
	if !found {
		return nil
	}
	consumers := g.Outputs(id)
	g.drop(id)
	for _, cid := range consumers {
		for i, in := range g.inputs[cid] {
			if in == id {
				g.inputs[cid][i] = tg.InvalidNodeID
			}
		}
		g.Notify(cid, EventDisconnect)
	}
	return n
}

func (g *Graph) drop(id tg.NodeID) {
	n := g.nodes[id]
	delete(g.nodes, id)
	delete(g.inputs, id)
	for i, oid := range g.order {
		if oid == id {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	if g.shared[id] {
		delete(g.shared, id)
	} else if b := n.base(); b.graph == g {
		b.graph = nil
	}
}

// Replace puts n where oldID was: n takes oldID's position, its input slots and every
// consumer slot pointing at oldID.  The old node is returned detached.  If shared is
// true, n is referenced like AddShared.
func (g *Graph) Replace(oldID tg.NodeID, n Node, shared bool) (Node, error) {
	old, found := g.nodes[oldID]
	if !found {
		return nil, fmt.Errorf("replacing %s: %w", oldID, ErrNodeNotFound)
	}
	b := n.base()
	if b.id != tg.InvalidNodeID {
		if _, found := g.nodes[b.id]; found {
			return nil, fmt.Errorf("replacement node %s already in graph", b.id)
		}
	}
	if !shared && b.graph != nil && b.graph != g {
		return nil, fmt.Errorf("replacement node %s already owned by another graph", b.id)
	}
	if b.id == tg.InvalidNodeID {
		b.id = tg.NextNodeID()
	}
	newID := b.id
	consumers := g.Outputs(oldID)
	ins := g.inputs[oldID]

	delete(g.nodes, oldID)
	delete(g.inputs, oldID)
	if g.shared[oldID] {
		delete(g.shared, oldID)
	} else if ob := old.base(); ob.graph == g {
		ob.graph = nil
	}
	for i, id := range g.order {
		if id == oldID {
			g.order[i] = newID
			break
		}
	}
	g.nodes[newID] = n
	g.inputs[newID] = ins
	if shared {
		g.shared[newID] = true
	} else {
		b.graph = g
	}
	for _, cid := range consumers {
		for i, in := range g.inputs[cid] {
			if in == oldID {
				g.inputs[cid][i] = newID
			}
		}
	}
	g.Notify(newID, EventConnect)
	return old, nil
}

// FillHollow connects n to every hollow slot whose consumer's input list is given in
// slots, keyed by consumer ID.
func (g *Graph) FillHollow(n Node, slots map[tg.NodeID][]int) error {
	id := n.ID()
	if _, found := g.nodes[id]; !found {
		return fmt.Errorf("filling hollow slots with %s: %w", id, ErrNodeNotFound)
	}
	for cid, idx := range slots {
		for _, i := range idx {
			ins := g.inputs[cid]
			if i < 0 || i >= len(ins) || ins[i] != tg.InvalidNodeID {
				return fmt.Errorf("slot %d of node %s is not hollow", i, cid)
			}
		}
	}
	for cid, idx := range slots {
		for _, i := range idx {
			g.inputs[cid][i] = id
		}
		g.Notify(cid, EventConnect)
	}
	return nil
}

// TopoOrder returns terminal and everything upstream of it, inputs before consumers.
// An invalid terminal orders the whole graph.
func (g *Graph) TopoOrder(terminal tg.NodeID) []Node {
	var roots []tg.NodeID
	if terminal != tg.InvalidNodeID {
		if _, found := g.nodes[terminal]; !found {
			return nil
		}
		roots = []tg.NodeID{terminal}
	} else {
		roots = g.order
	}
	visited := make(map[tg.NodeID]bool)
	var out []Node
	var visit func(id tg.NodeID)
	visit = func(id tg.NodeID) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, in := range g.inputs[id] {
			if _, found := g.nodes[in]; found {
				visit(in)
			}
		}
		out = append(out, g.nodes[id])
	}
	for _, id := range roots {
		visit(id)
	}
	return out
}

// downstream returns id and every transitive consumer, each after all of its inputs
// within the set.
func (g *Graph) downstream(id tg.NodeID) []tg.NodeID {
	set := map[tg.NodeID]bool{id: true}
	queue := []tg.NodeID{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, cid := range g.Outputs(cur) {
			if !set[cid] {
				set[cid] = true
				queue = append(queue, cid)
			}
		}
	}
	var ordered []tg.NodeID
	for _, n := range g.TopoOrder(tg.InvalidNodeID) {
		if set[n.ID()] {
			ordered = append(ordered, n.ID())
		}
	}
	return ordered
}

// Notify reinitializes the node and every transitive consumer, upstream first, before
// returning.
func (g *Graph) Notify(id tg.NodeID, ev Event) {
	if _, found := g.nodes[id]; !found {
		return
	}
	ids := g.downstream(id)
	tg.Debugf("graph event %s at node %s reinitializes %d nodes\n", ev, id, len(ids))
	for _, nid := range ids {
		g.nodes[nid].Initialize()
	}
}

// InitializeAll reinitializes every node, inputs first.
func (g *Graph) InitializeAll() {
	for _, n := range g.TopoOrder(tg.InvalidNodeID) {
		n.Initialize()
	}
}

// Reassign gives every owned node for which keep returns false a fresh ID and returns the
// mapping from old to new IDs.  Edges are rewritten accordingly.
func (g *Graph) Reassign(keep func(tg.NodeID) bool) map[tg.NodeID]tg.NodeID {
	remap := make(map[tg.NodeID]tg.NodeID, len(g.order))
	for _, id := range g.order {
		if g.shared[id] || (keep != nil && keep(id)) {
			remap[id] = id
			continue
		}
		remap[id] = tg.NextNodeID()
	}
	nodes := make(map[tg.NodeID]Node, len(g.nodes))
	inputs := make(map[tg.NodeID][]tg.NodeID, len(g.inputs))
	shared := make(map[tg.NodeID]bool, len(g.shared))
	for i, id := range g.order {
		newID := remap[id]
		n := g.nodes[id]
		if newID != id {
			n.base().id = newID
		}
		nodes[newID] = n
		ins := make([]tg.NodeID, len(g.inputs[id]))
		for j, in := range g.inputs[id] {
			if in == tg.InvalidNodeID {
				continue
			}
			ins[j] = remap[in]
		}
		inputs[newID] = ins
		if g.shared[id] {
			shared[newID] = true
		}
		g.order[i] = newID
	}
	g.nodes, g.inputs, g.shared = nodes, inputs, shared
	return remap
}

// Find returns the first node satisfying match, in insertion order.
func (g *Graph) Find(match func(Node) bool) Node {
	for _, id := range g.order {
		if n := g.nodes[id]; match(n) {
			return n
		}
	}
	return nil
}

package node

import (
	"fmt"

	"github.com/janelia-flyem/tilegraph/tg"
)

// CopyOptions controls Copy.
type CopyOptions struct {
	// Shared maps node IDs to instances that the copy references instead of copying.
	Shared map[tg.NodeID]Node
}

// Copy returns a structural deep copy of g with the same IDs and topology.  Nodes that
// implement Duplicator copy themselves; the rest are reconstructed from their saved
// state through reg.  Nodes g merely references (see AddShared) stay shared.
func Copy(g *Graph, reg *Registry, opts CopyOptions) (*Graph, error) {
	c := NewGraph()
	for _, n := range g.Nodes() {
		id := n.ID()
		if s, found := opts.Shared[id]; found {
			if s.ID() != id {
				return nil, fmt.Errorf("shared substitute for %s has id %s", id, s.ID())
			}
			if _, err := c.AddShared(s); err != nil {
				return nil, err
			}
			continue
		}
		if g.IsShared(id) {
			if _, err := c.AddShared(n); err != nil {
				return nil, err
			}
			continue
		}
		nn, err := copyNode(n, reg)
		if err != nil {
			return nil, err
		}
		if _, err := c.Add(nn); err != nil {
			return nil, err
		}
	}
	for id, ins := range g.inputs {
		c.inputs[id] = append([]tg.NodeID(nil), ins...)
	}
	c.InitializeAll()
	return c, nil
}

func copyNode(n Node, reg *Registry) (Node, error) {
	var nn Node
	if d, ok := n.(Duplicator); ok {
		var err error
		if nn, err = d.Duplicate(); err != nil {
			return nil, fmt.Errorf("duplicating node %s (%s): %v", n.ID(), n.TypeName(), err)
		}
	} else {
		if reg == nil {
			return nil, fmt.Errorf("no registry to copy node %s (%s)", n.ID(), n.TypeName())
		}
		k := tg.NewKWL()
		if err := n.SaveState(k, ""); err != nil {
			return nil, fmt.Errorf("saving state of node %s (%s): %v", n.ID(), n.TypeName(), err)
		}
		var err error
		if nn, err = reg.New(n.TypeName()); err != nil {
			return nil, err
		}
		if err := nn.LoadState(k, ""); err != nil {
			return nil, fmt.Errorf("loading state of node %s (%s): %v", n.ID(), n.TypeName(), err)
		}
	}
	b := nn.base()
	b.id = n.ID()
	b.disabled = !n.Enabled()
	b.graph = nil
	return nn, nil
}

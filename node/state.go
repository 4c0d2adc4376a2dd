package node

import (
	"fmt"
	"strings"

	"github.com/blang/semver"

	"github.com/janelia-flyem/tilegraph/tg"
)

// StateVersion is the version of the keyword list layout written by SaveGraph.  Loading
// requires the same major version.
var StateVersion = semver.MustParse("1.0.0")

func nodePrefix(i int) string {
	return fmt.Sprintf("node%d.", i)
}

// SaveGraph writes every node of g, its edges and each node's own state into a keyword
// list.  Inputs are written both as node indices (-1 for a hollow slot) and as IDs.
func SaveGraph(g *Graph, terminal tg.NodeID) (tg.KWL, error) {
	k := tg.NewKWL()
	k.Add("", "state_version", StateVersion)
	k.Add("", "terminal_id", terminal)
	nodes := g.Nodes()
	k.Add("", "node_count", len(nodes))

	index := make(map[tg.NodeID]int, len(nodes))
	for i, n := range nodes {
		index[n.ID()] = i
	}
	for i, n := range nodes {
		prefix := nodePrefix(i)
		k.Add(prefix, "type", n.TypeName())
		k.Add(prefix, "id", n.ID())
		k.Add(prefix, "enabled", n.Enabled())
		ins := g.inputs[n.ID()]
		slots := make([]int, len(ins))
		ids := make([]string, len(ins))
		for j, in := range ins {
			if in == tg.InvalidNodeID {
				slots[j] = -1
				ids[j] = "0"
				continue
			}
			slots[j] = index[in]
			ids[j] = in.String()
		}
		k.Add(prefix, "inputs", slots)
		k.Add(prefix, "input_ids", strings.Join(ids, " "))
		if err := n.SaveState(k, prefix); err != nil {
			return nil, fmt.Errorf("saving state of node %s (%s): %v", n.ID(), n.TypeName(), err)
		}
	}
	return k, nil
}

// LoadGraph reconstructs a graph written by SaveGraph.  Node types are created through
// reg.  On error no graph is returned.
func LoadGraph(k tg.KWL, reg *Registry) (*Graph, tg.NodeID, error) {
	if v, found := k.Find("", "state_version"); found {
		version, err := semver.Parse(v)
		if err != nil {
			return nil, tg.InvalidNodeID, fmt.Errorf("bad state_version %q: %v", v, err)
		}
		if version.Major != StateVersion.Major {
			return nil, tg.InvalidNodeID, fmt.Errorf("graph state version %s incompatible with %s", version, StateVersion)
		}
	} else {
		tg.Warningf("graph state has no state_version, assuming %s\n", StateVersion)
	}
	count, err := k.FindInt("", "node_count")
	if err != nil {
		return nil, tg.InvalidNodeID, err
	}
	if count < 0 {
		return nil, tg.InvalidNodeID, fmt.Errorf("bad node_count %d", count)
	}
	g := NewGraph()
	nodes := make([]Node, count)
	for i := 0; i < count; i++ {
		prefix := nodePrefix(i)
		typename, found := k.Find(prefix, "type")
		if !found {
			return nil, tg.InvalidNodeID, fmt.Errorf("node %d has no type", i)
		}
		n, err := reg.New(typename)
		if err != nil {
			return nil, tg.InvalidNodeID, fmt.Errorf("node %d: %w", i, err)
		}
		id, err := k.FindUint64(prefix, "id")
		if err != nil {
			return nil, tg.InvalidNodeID, fmt.Errorf("node %d: %v", i, err)
		}
		b := n.base()
		b.id = tg.NodeID(id)
		b.disabled = !k.FindBool(prefix, "enabled", true)
		tg.ReserveNodeID(b.id)
		if err := n.LoadState(k, prefix); err != nil {
			return nil, tg.InvalidNodeID, fmt.Errorf("loading node %d (%s): %v", i, typename, err)
		}
		if _, err := g.Add(n); err != nil {
			return nil, tg.InvalidNodeID, err
		}
		nodes[i] = n
	}
	for i, n := range nodes {
		prefix := nodePrefix(i)
		slots, err := loadSlots(k, prefix, nodes)
		if err != nil {
			return nil, tg.InvalidNodeID, fmt.Errorf("node %d inputs: %v", i, err)
		}
		for j, src := range slots {
			if src == tg.InvalidNodeID {
				g.setSlot(n.ID(), j, tg.InvalidNodeID)
				continue
			}
			if err := g.checkEdge(n.ID(), src); err != nil {
				return nil, tg.InvalidNodeID, err
			}
			g.setSlot(n.ID(), j, src)
		}
	}
	terminal := tg.InvalidNodeID
	if count > 0 {
		tid, err := k.FindUint64("", "terminal_id")
		if err != nil {
			return nil, tg.InvalidNodeID, err
		}
		terminal = tg.NodeID(tid)
		if g.Node(terminal) == nil {
			return nil, tg.InvalidNodeID, fmt.Errorf("terminal %s: %w", terminal, ErrNodeNotFound)
		}
	}
	g.InitializeAll()
	return g, terminal, nil
}

// loadSlots resolves a node's input slots, by index if available, else by ID.
func loadSlots(k tg.KWL, prefix string, nodes []Node) ([]tg.NodeID, error) {
	if _, found := k.Find(prefix, "inputs"); found {
		idx, err := k.FindInts(prefix, "inputs")
		if err != nil {
			return nil, err
		}
		slots := make([]tg.NodeID, len(idx))
		for j, i := range idx {
			switch {
			case i == -1:
				slots[j] = tg.InvalidNodeID
			case i < 0 || i >= len(nodes):
				return nil, fmt.Errorf("input index %d out of range", i)
			default:
				slots[j] = nodes[i].ID()
			}
		}
		return slots, nil
	}
	if _, found := k.Find(prefix, "input_ids"); !found {
		return nil, nil
	}
	ids, err := k.FindInts(prefix, "input_ids")
	if err != nil {
		return nil, err
	}
	slots := make([]tg.NodeID, len(ids))
	for j, v := range ids {
		slots[j] = tg.NodeID(v)
		if v == 0 {
			continue
		}
		var found bool
		for _, n := range nodes {
			if n.ID() == slots[j] {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("input id %d: %w", v, ErrNodeNotFound)
		}
	}
	return slots, nil
}

package workflow

// Graph helpers over a Definition. The definition is immutable, so the
// lookup tables are rebuilt cheaply on demand by callers that need them.

// NodeByID returns the node with the given id.
func (d *Definition) NodeByID(id string) (*Node, bool) {
	for i := range d.Nodes {
		if d.Nodes[i].ID == id {
			return &d.Nodes[i], true
		}
	}
	return nil, false
}

// OutgoingEdges returns the edges leaving the given node, in definition order.
func (d *Definition) OutgoingEdges(nodeID string) []Edge {
	var out []Edge
	for _, e := range d.Edges {
		if e.FromNodeID == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// incomingCount returns the number of edges entering each node, excluding
// edges that originate inside loop bodies (loop bodies are traversed by the
// loop executor, not the outer walk).
func (d *Definition) incomingCount() map[string]int {
	bodyNodes := d.loopBodyNodes()
	counts := make(map[string]int, len(d.Nodes))
	for _, n := range d.Nodes {
		counts[n.ID] = 0
	}
	for _, e := range d.Edges {
		if bodyNodes[e.ToNodeID] {
			continue
		}
		counts[e.ToNodeID]++
	}
	return counts
}

// loopBodyNodes returns the set of node ids enumerated by any loop node.
func (d *Definition) loopBodyNodes() map[string]bool {
	body := make(map[string]bool)
	for i := range d.Nodes {
		if d.Nodes[i].Kind != KindLoop {
			continue
		}
		var cfg LoopConfig
		if err := d.Nodes[i].DecodeConfig(&cfg); err != nil {
			continue
		}
		for _, id := range cfg.LoopNodes {
			body[id] = true
		}
	}
	return body
}

// EntryNode returns the unique entry node: the node with no incoming edges
// outside of loop bodies.
func (d *Definition) EntryNode() (*Node, bool) {
	counts := d.incomingCount()
	bodyNodes := d.loopBodyNodes()

	var entry *Node
	for i := range d.Nodes {
		n := &d.Nodes[i]
		if bodyNodes[n.ID] {
			continue
		}
		if counts[n.ID] == 0 {
			if entry != nil {
				return nil, false
			}
			entry = n
		}
	}
	if entry == nil {
		return nil, false
	}
	return entry, true
}

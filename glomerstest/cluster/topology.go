package cluster

import (
	"fmt"
)

// TopologyFunc returns the neighbors of each of the given nodes.
//
// Neighbor lists are symmetric, so if 'a' is a neighbor of 'b' then 'b' is
// a neighbor of 'a'.
type TopologyFunc func(nodeIDs []string) map[string][]string

// Line connects each node to the node before and after it.
func Line(nodeIDs []string) map[string][]string {
	topology := emptyTopology(nodeIDs)
	for i := 1; i < len(nodeIDs); i++ {
		connect(topology, nodeIDs[i-1], nodeIDs[i])
	}
	return topology
}

// Ring is a line where the last node is also connected to the first.
func Ring(nodeIDs []string) map[string][]string {
	topology := Line(nodeIDs)
	// With two nodes or fewer the line is already a ring.
	if len(nodeIDs) > 2 {
		connect(topology, nodeIDs[len(nodeIDs)-1], nodeIDs[0])
	}
	return topology
}

// Total connects every node to every other node.
func Total(nodeIDs []string) map[string][]string {
	topology := emptyTopology(nodeIDs)
	for i := 0; i != len(nodeIDs); i++ {
		for j := i + 1; j < len(nodeIDs); j++ {
			connect(topology, nodeIDs[i], nodeIDs[j])
		}
	}
	return topology
}

// Tree returns a topology where the nodes form a tree, with each node having
// up to fanout children.
func Tree(fanout int) TopologyFunc {
	return func(nodeIDs []string) map[string][]string {
		topology := emptyTopology(nodeIDs)
		if fanout <= 0 {
			return topology
		}
		for i := 1; i < len(nodeIDs); i++ {
			parent := (i - 1) / fanout
			connect(topology, nodeIDs[parent], nodeIDs[i])
		}
		return topology
	}
}

// ParseTopology returns the topology with the given name. Either 'line',
// 'ring', 'total' or 'tree<fanout>', such as 'tree4'.
func ParseTopology(name string) (TopologyFunc, error) {
	switch name {
	case "line":
		return Line, nil
	case "ring":
		return Ring, nil
	case "total":
		return Total, nil
	case "tree":
		return Tree(2), nil
	}

	var fanout int
	if _, err := fmt.Sscanf(name, "tree%d", &fanout); err == nil && fanout > 0 {
		return Tree(fanout), nil
	}
	return nil, fmt.Errorf("unknown topology: %s", name)
}

func emptyTopology(nodeIDs []string) map[string][]string {
	topology := make(map[string][]string, len(nodeIDs))
	for _, id := range nodeIDs {
		topology[id] = []string{}
	}
	return topology
}

func connect(topology map[string][]string, a, b string) {
	topology[a] = append(topology[a], b)
	topology[b] = append(topology[b], a)
}

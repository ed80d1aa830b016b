package manifest

import (
	"fmt"

	"github.com/mediacore/pipelinecore/internal/media"
	"github.com/mediacore/pipelinecore/internal/validation"
)

// TypeChecker resolves whether a node type is known, and whether its
// declared capabilities can be satisfied by some registered executor. It is
// implemented by the node registry; manifest itself has no knowledge of
// concrete node types.
type TypeChecker interface {
	KnownType(nodeType string) bool
	CapabilitiesSatisfiable(nodeType string, caps *Capabilities) bool
}

// Parse unmarshals and fully validates a manifest: structural schema first,
// then semantic graph invariants. checker may be nil to skip node-type
// resolution (used by tests and tools that only care about graph shape).
func Parse(raw []byte, checker TypeChecker) (*Manifest, error) {
	if err := ValidateStructure(raw); err != nil {
		return nil, &media.Error{Kind: media.ErrValidation, Message: err.Error()}
	}
	var m Manifest
	if err := unmarshalStrict(raw, &m); err != nil {
		return nil, &media.Error{Kind: media.ErrValidation, Message: err.Error()}
	}
	if err := Validate(&m, checker); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate runs the semantic graph-level checks from the data model
// invariants: supported version, unique node ids, at least one node, edges
// resolve to declared nodes, the graph is acyclic, node types are known, and
// declared capabilities are satisfiable.
func Validate(m *Manifest, checker TypeChecker) error {
	if m.Version != SupportedVersion {
		return &media.Error{
			Kind:              media.ErrVersionMismatch,
			Message:           fmt.Sprintf("unsupported manifest version %q", m.Version),
			SupportedVersions: []string{SupportedVersion},
			FieldPath:         "version",
		}
	}
	if len(m.Nodes) == 0 {
		return &media.Error{Kind: media.ErrValidation, Message: "manifest must declare at least one node", FieldPath: "nodes"}
	}

	seen := make(map[string]struct{}, len(m.Nodes))
	for i, n := range m.Nodes {
		if err := validation.ValidateNodeID(n.ID); err != nil {
			return &media.Error{Kind: media.ErrValidation, Message: err.Error(), FieldPath: fmt.Sprintf("nodes[%d].id", i)}
		}
		if _, dup := seen[n.ID]; dup {
			return &media.Error{Kind: media.ErrValidation, Message: fmt.Sprintf("duplicate node id %q", n.ID), FieldPath: fmt.Sprintf("nodes[%d].id", i)}
		}
		seen[n.ID] = struct{}{}

		if n.FanIn != "" && n.FanIn != FanInRoundRobin && n.FanIn != FanInSynchronizedTuple {
			return &media.Error{Kind: media.ErrValidation, Message: fmt.Sprintf("unknown fan_in mode %q", n.FanIn), FieldPath: fmt.Sprintf("nodes[%d].fan_in", i)}
		}
		if n.Speculative && n.VADNodeType == "" {
			return &media.Error{Kind: media.ErrValidation, Message: fmt.Sprintf("node %q is speculative but declares no vad_node_type", n.ID), NodeID: n.ID, FieldPath: fmt.Sprintf("nodes[%d].vad_node_type", i)}
		}

		if checker != nil {
			if !checker.KnownType(n.NodeType) {
				return &media.Error{Kind: media.ErrUnknownNodeType, Message: fmt.Sprintf("unknown node type %q", n.NodeType), NodeID: n.ID, FieldPath: fmt.Sprintf("nodes[%d].node_type", i)}
			}
			if !checker.CapabilitiesSatisfiable(n.NodeType, n.Capabilities) {
				return &media.Error{Kind: media.ErrValidation, Message: fmt.Sprintf("node %q requires capabilities no registered executor satisfies", n.ID), NodeID: n.ID, FieldPath: fmt.Sprintf("nodes[%d].capabilities", i)}
			}
			if n.Speculative && !checker.KnownType(n.VADNodeType) {
				return &media.Error{Kind: media.ErrUnknownNodeType, Message: fmt.Sprintf("unknown vad_node_type %q", n.VADNodeType), NodeID: n.ID, FieldPath: fmt.Sprintf("nodes[%d].vad_node_type", i)}
			}
		}
	}

	for i, c := range m.Connections {
		if _, ok := seen[c.From]; !ok {
			return &media.Error{Kind: media.ErrValidation, Message: fmt.Sprintf("connection references unknown source node %q", c.From), FieldPath: fmt.Sprintf("connections[%d].from", i)}
		}
		if _, ok := seen[c.To]; !ok {
			return &media.Error{Kind: media.ErrValidation, Message: fmt.Sprintf("connection references unknown target node %q", c.To), FieldPath: fmt.Sprintf("connections[%d].to", i)}
		}
	}

	if _, err := TopologicalSort(m); err != nil {
		return err
	}
	return nil
}

// TopologicalSort returns node ids in an order where every node appears
// after all of its upstream dependencies, or a Validation error if the
// connection graph contains a cycle.
func TopologicalSort(m *Manifest) ([]string, error) {
	indegree := make(map[string]int, len(m.Nodes))
	adj := make(map[string][]string, len(m.Nodes))
	for _, n := range m.Nodes {
		indegree[n.ID] = 0
	}
	for _, c := range m.Connections {
		adj[c.From] = append(adj[c.From], c.To)
		indegree[c.To]++
	}

	var queue []string
	for _, n := range m.Nodes {
		if indegree[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}

	order := make([]string, 0, len(m.Nodes))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		for _, next := range adj[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(order) != len(m.Nodes) {
		return nil, &media.Error{Kind: media.ErrValidation, Message: "manifest graph contains a cycle", FieldPath: "connections"}
	}
	return order, nil
}

// Package manifest parses and validates pipeline manifests: the declarative
// DAG of node declarations and connections a client submits to describe a
// pipeline.
package manifest

import "encoding/json"

// SupportedVersion is the only manifest schema version this build accepts.
// A new major version is introduced as a new value here; manifests carrying
// an unrecognized version are rejected with VersionMismatch, never guessed
// at from their shape.
const SupportedVersion = "v1"

// Placement is a node's placement hint.
type Placement string

const (
	PlacementAuto   Placement = "auto"
	PlacementLocal  Placement = "local"
	PlacementRemote Placement = "remote"
)

// Capabilities declares the resources a node requires, echoing the registry's
// CapabilityDescriptor fields that a manifest author may pin down explicitly.
type Capabilities struct {
	GPU       bool   `json:"gpu,omitempty"`
	GPUKind   string `json:"gpu_kind,omitempty"`
	CPUCores  int    `json:"cpu_cores,omitempty"`
	MemoryGB  int    `json:"memory_gb,omitempty"`
}

// FanInMode controls how a node with multiple inbound edges combines them.
type FanInMode string

const (
	// FanInRoundRobin consumes one input per upstream edge in rotation. This
	// is the default when a node declares no fan-in mode.
	FanInRoundRobin FanInMode = "round_robin"
	// FanInSynchronizedTuple waits for one input from every upstream edge
	// before driving the node once with the full tuple.
	FanInSynchronizedTuple FanInMode = "synchronized_tuple"
)

// Node is one node declaration in a manifest.
type Node struct {
	ID           string          `json:"id"`
	NodeType     string          `json:"node_type"`
	Params       json.RawMessage `json:"params,omitempty"`
	IsStreaming  bool            `json:"is_streaming,omitempty"`
	Capabilities *Capabilities   `json:"capabilities,omitempty"`
	Placement    Placement       `json:"placement,omitempty"`
	RuntimeHint  string          `json:"runtime_hint,omitempty"`
	FanIn        FanInMode       `json:"fan_in,omitempty"`
	// Critical marks a node whose failure tears down the whole session
	// instead of propagating a StreamError on just its outbound edges.
	Critical bool `json:"critical,omitempty"`
	// Speculative marks an audio-producing node whose output is forwarded
	// downstream immediately while VADNodeType runs as a gating classifier
	// in parallel; a false positive retroactively cancels the forwarded
	// range instead of ever delaying it.
	Speculative bool `json:"speculative,omitempty"`
	// VADNodeType names the registered node type used as this node's
	// gating classifier when Speculative is set. It is constructed as an
	// auxiliary handle, outside the manifest's own connection graph.
	VADNodeType string `json:"vad_node_type,omitempty"`
}

// Connection is a directed edge from one node's output to another's input.
type Connection struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Metadata is free descriptive information about a manifest.
type Metadata struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
}

// Manifest is the declarative pipeline description submitted by a client.
type Manifest struct {
	Version     string       `json:"version"`
	Metadata    Metadata     `json:"metadata"`
	Nodes       []Node       `json:"nodes"`
	Connections []Connection `json:"connections"`
}

// NodeByID returns the node with the given id, or false if none exists.
func (m *Manifest) NodeByID(id string) (Node, bool) {
	for _, n := range m.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

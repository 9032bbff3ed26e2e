package models

import (
	"fmt"
	"time"
)

// NodeType identifies the kind of a flow-graph node.
type NodeType string

const (
	NodeTypeTrigger    NodeType = "trigger"
	NodeTypeAction     NodeType = "action"
	NodeTypeCondition  NodeType = "condition"
	NodeTypeCustomRule NodeType = "custom_rule"
	NodeTypeEvent      NodeType = "event"
)

// FlowNode is one node of a sequence graph. Data carries the node-type
// specific configuration (action reference, condition sets, rule text).
type FlowNode struct {
	ID   string         `json:"id"   validate:"required"`
	Type NodeType       `json:"type" validate:"required"`
	Name string         `json:"name"`
	Data map[string]any `json:"data,omitempty"`
}

// FlowEdge connects two nodes. SourceHandle carries branch semantics for
// condition nodes: "set-N" edges are the true branch, "else" the false one.
type FlowEdge struct {
	ID           string `json:"id"`
	Source       string `json:"source" validate:"required"`
	Target       string `json:"target" validate:"required"`
	SourceHandle string `json:"sourceHandle,omitempty"`
}

// Sequence is a directed graph of nodes describing multi-step orchestration.
type Sequence struct {
	ID          string      `json:"id"`
	Name        string      `json:"name" validate:"required,min=1"`
	Description string      `json:"description"`
	EventID     string      `json:"event_id,omitempty"` // inbound event that triggers this sequence
	Nodes       []*FlowNode `json:"nodes"`
	Edges       []*FlowEdge `json:"edges"`
	Active      bool        `json:"active"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// TriggerNode returns the unique trigger-typed entry node. The graph is not
// executable without one.
func (s *Sequence) TriggerNode() (*FlowNode, error) {
	for _, node := range s.Nodes {
		if node.Type == NodeTypeTrigger {
			return node, nil
		}
	}

	return nil, fmt.Errorf("sequence %s has no trigger node", s.ID)
}

// Node returns the node with the given id, or nil.
func (s *Sequence) Node(id string) *FlowNode {
	for _, node := range s.Nodes {
		if node.ID == id {
			return node
		}
	}

	return nil
}

// OutgoingEdges returns the edges leaving the given node, in declaration order.
func (s *Sequence) OutgoingEdges(nodeID string) []*FlowEdge {
	var out []*FlowEdge

	for _, edge := range s.Edges {
		if edge.Source == nodeID {
			out = append(out, edge)
		}
	}

	return out
}

package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// NodeMeta carries the human readable label of a node. The title doubles as
// the binding slot name.
type NodeMeta struct {
	Title string `json:"title"`
}

// Node is a single step of a graph template in the engine's API format.
// Numeric inputs decode as json.Number. Fields the relay does not interpret
// are kept in Extra and written back unchanged.
type Node struct {
	ClassType string
	Inputs    map[string]any
	Meta      *NodeMeta
	Extra     map[string]json.RawMessage
}

func (n *Node) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*n = Node{}
	for key, raw := range fields {
		var err error
		switch key {
		case "class_type":
			err = json.Unmarshal(raw, &n.ClassType)
		case "inputs":
			dec := json.NewDecoder(bytes.NewReader(raw))
			dec.UseNumber()
			err = dec.Decode(&n.Inputs)
		case "_meta":
			err = json.Unmarshal(raw, &n.Meta)
		default:
			if n.Extra == nil {
				n.Extra = make(map[string]json.RawMessage)
			}
			n.Extra[key] = raw
		}
		if err != nil {
			return fmt.Errorf("node field %s: %w", key, err)
		}
	}
	return nil
}

func (n Node) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(n.Extra)+3)
	for key, raw := range n.Extra {
		out[key] = raw
	}
	inputs := n.Inputs
	if inputs == nil {
		inputs = map[string]any{}
	}
	out["inputs"] = inputs
	if n.ClassType != "" {
		out["class_type"] = n.ClassType
	}
	if n.Meta != nil {
		out["_meta"] = n.Meta
	}
	return json.Marshal(out)
}

// Title returns the node's binding label or "" when the node has none.
func (n *Node) Title() string {
	if n == nil || n.Meta == nil {
		return ""
	}
	return n.Meta.Title
}

// HasInput reports whether the node declares the named input slot.
func (n *Node) HasInput(name string) bool {
	if n == nil || n.Inputs == nil {
		return false
	}
	_, ok := n.Inputs[name]
	return ok
}

// Template maps node ids to nodes. Each loaded template is owned by exactly
// one job and is mutated in place by binding.
type Template map[string]*Node

// Params is the user supplied parameter set bound into a template.
type Params struct {
	Prompt         string
	NegativePrompt string
	Width          uint
	Height         uint
	// Seed is nil when the caller wants a generated seed.
	Seed   *uint64
	Extras map[string]any
}

// Extra returns the named capability field. Nil values count as absent.
func (p Params) Extra(name string) (any, bool) {
	if p.Extras == nil {
		return nil, false
	}
	v, ok := p.Extras[name]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

package engine

import (
	"encoding/json"
	"errors"
	"fmt"

	"comfyrelay/internal/domain"
)

// Message types the relay reacts to. Everything else the engine sends
// (status, progress, execution_start, execution_cached, ...) is ignored.
const (
	TypeExecuting            = "executing"
	TypeExecuted             = "executed"
	TypeExecutionError       = "execution_error"
	TypeExecutionInterrupted = "execution_interrupted"
)

// ErrProtocol marks a frame that does not follow the engine's event format.
var ErrProtocol = errors.New("engine: protocol violation")

// Message is one decoded text frame from the event socket.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Executing reports which node the engine is about to run. Done is set when
// the node is null, meaning nothing is left to execute for PromptID.
type Executing struct {
	PromptID string
	Node     string
	Done     bool
}

// Executed reports the outputs of one finished node.
type Executed struct {
	PromptID string
	Node     string
	Images   []domain.ArtifactRef
}

// ExecutionError reports a node failure for PromptID.
type ExecutionError struct {
	PromptID  string
	Node      string
	NodeType  string
	Exception string
}

func (e ExecutionError) Message() string {
	if e.Node == "" {
		return fmt.Sprintf("execution failed: %s", e.Exception)
	}
	return fmt.Sprintf("execution failed at node %s (%s): %s", e.Node, e.NodeType, e.Exception)
}

func decodeMessage(frame []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: decode frame: %v", ErrProtocol, err)
	}
	if msg.Type == "" {
		return Message{}, fmt.Errorf("%w: frame without type", ErrProtocol)
	}
	return msg, nil
}

func dataFields(msg Message) (map[string]json.RawMessage, error) {
	if len(msg.Data) == 0 || string(msg.Data) == "null" {
		return nil, fmt.Errorf("%w: %s without data", ErrProtocol, msg.Type)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(msg.Data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %s data: %v", ErrProtocol, msg.Type, err)
	}
	return fields, nil
}

func requiredString(msgType string, fields map[string]json.RawMessage, key string) (string, error) {
	raw, ok := fields[key]
	if !ok {
		return "", fmt.Errorf("%w: %s missing %s", ErrProtocol, msgType, key)
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", fmt.Errorf("%w: %s.%s is not a string", ErrProtocol, msgType, key)
	}
	return v, nil
}

func optionalString(fields map[string]json.RawMessage, key string) string {
	var v string
	if raw, ok := fields[key]; ok {
		_ = json.Unmarshal(raw, &v)
	}
	return v
}

// DecodeExecuting parses an executing frame. Both node (string or null) and
// prompt_id must be present.
func DecodeExecuting(msg Message) (Executing, error) {
	fields, err := dataFields(msg)
	if err != nil {
		return Executing{}, err
	}
	promptID, err := requiredString(msg.Type, fields, "prompt_id")
	if err != nil {
		return Executing{}, err
	}
	rawNode, ok := fields["node"]
	if !ok {
		return Executing{}, fmt.Errorf("%w: %s missing node", ErrProtocol, msg.Type)
	}
	if string(rawNode) == "null" {
		return Executing{PromptID: promptID, Done: true}, nil
	}
	var node string
	if err := json.Unmarshal(rawNode, &node); err != nil {
		return Executing{}, fmt.Errorf("%w: %s.node is not a string", ErrProtocol, msg.Type)
	}
	return Executing{PromptID: promptID, Node: node}, nil
}

// DecodeExecuted parses an executed frame. The output object is required;
// its images list is optional, but every listed image needs a filename.
func DecodeExecuted(msg Message) (Executed, error) {
	fields, err := dataFields(msg)
	if err != nil {
		return Executed{}, err
	}
	promptID, err := requiredString(msg.Type, fields, "prompt_id")
	if err != nil {
		return Executed{}, err
	}
	out := Executed{PromptID: promptID, Node: optionalString(fields, "node")}

	rawOutput, ok := fields["output"]
	if !ok || string(rawOutput) == "null" {
		return Executed{}, fmt.Errorf("%w: %s missing output", ErrProtocol, msg.Type)
	}
	var output struct {
		Images []struct {
			Filename  *string `json:"filename"`
			Subfolder string  `json:"subfolder"`
			Type      string  `json:"type"`
		} `json:"images"`
	}
	if err := json.Unmarshal(rawOutput, &output); err != nil {
		return Executed{}, fmt.Errorf("%w: %s output: %v", ErrProtocol, msg.Type, err)
	}
	for i, img := range output.Images {
		if img.Filename == nil || *img.Filename == "" {
			return Executed{}, fmt.Errorf("%w: %s image %d missing filename", ErrProtocol, msg.Type, i)
		}
		kind := img.Type
		if kind == "" {
			kind = "output"
		}
		out.Images = append(out.Images, domain.ArtifactRef{Filename: *img.Filename, Subfolder: img.Subfolder, Type: kind})
	}
	return out, nil
}

// DecodeExecutionError parses an execution_error or execution_interrupted frame.
func DecodeExecutionError(msg Message) (ExecutionError, error) {
	fields, err := dataFields(msg)
	if err != nil {
		return ExecutionError{}, err
	}
	promptID, err := requiredString(msg.Type, fields, "prompt_id")
	if err != nil {
		return ExecutionError{}, err
	}
	e := ExecutionError{
		PromptID:  promptID,
		Node:      optionalString(fields, "node_id"),
		NodeType:  optionalString(fields, "node_type"),
		Exception: optionalString(fields, "exception_message"),
	}
	if e.Exception == "" {
		if msg.Type == TypeExecutionInterrupted {
			e.Exception = "interrupted"
		} else {
			e.Exception = "unknown error"
		}
	}
	return e, nil
}

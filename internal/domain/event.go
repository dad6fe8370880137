package domain

import (
	"encoding/json"
	"fmt"
)

// EventType tags the variant carried by an Event.
type EventType string

const (
	EventStatus   EventType = "status"
	EventProgress EventType = "progress"
	EventImages   EventType = "images"
	EventError    EventType = "error"
	// EventInfo reports the effective seed to the client before streaming
	// starts. The relay itself never produces it.
	EventInfo EventType = "info"
)

const (
	StatusMessageQueued    = "queued"
	StatusMessageCompleted = "completed"
)

// Event is the client facing vocabulary produced from the engine's raw
// message stream. Only the fields of the tagged variant are meaningful.
type Event struct {
	Type     EventType
	Message  string
	PromptID string
	Node     string
	Files    []string
	Seed     uint64
}

func StatusEvent(message, promptID string) Event {
	return Event{Type: EventStatus, Message: message, PromptID: promptID}
}

func ProgressEvent(node string) Event {
	return Event{Type: EventProgress, Node: node}
}

// ImagesEvent batches the local references fetched for one engine message.
func ImagesEvent(files []string) Event {
	if files == nil {
		files = []string{}
	}
	return Event{Type: EventImages, Files: files}
}

func ErrorEvent(message string) Event {
	return Event{Type: EventError, Message: message}
}

func InfoEvent(seed uint64) Event {
	return Event{Type: EventInfo, Seed: seed}
}

// Terminal reports whether the event ends a job's stream.
func (e Event) Terminal() bool {
	switch e.Type {
	case EventError:
		return true
	case EventStatus:
		return e.Message == StatusMessageCompleted
	default:
		return false
	}
}

type statusWire struct {
	Type     EventType `json:"type"`
	Message  string    `json:"message"`
	PromptID string    `json:"prompt_id,omitempty"`
}

type progressWire struct {
	Type EventType `json:"type"`
	Node string    `json:"node"`
}

type imagesWire struct {
	Type  EventType `json:"type"`
	Files []string  `json:"files"`
}

type errorWire struct {
	Type    EventType `json:"type"`
	Message string    `json:"message"`
}

type infoWire struct {
	Type EventType `json:"type"`
	Seed uint64    `json:"seed"`
}

// MarshalJSON encodes only the fields of the event's variant.
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventStatus:
		return json.Marshal(statusWire{Type: e.Type, Message: e.Message, PromptID: e.PromptID})
	case EventProgress:
		return json.Marshal(progressWire{Type: e.Type, Node: e.Node})
	case EventImages:
		files := e.Files
		if files == nil {
			files = []string{}
		}
		return json.Marshal(imagesWire{Type: e.Type, Files: files})
	case EventError:
		return json.Marshal(errorWire{Type: e.Type, Message: e.Message})
	case EventInfo:
		return json.Marshal(infoWire{Type: e.Type, Seed: e.Seed})
	default:
		return nil, fmt.Errorf("event: unknown type %q", e.Type)
	}
}

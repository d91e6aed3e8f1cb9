package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/redstone-dev/redstone/internal/agents"
	"github.com/redstone-dev/redstone/internal/scheduler"
)

// Event is the base interface for all turn events.
type Event interface {
	EventType() string
	TurnID() string
}

// Bus topics. File operations go to TopicWorkspace, every other turn event
// to TopicTurn.
const (
	TopicTurn      = "turn"
	TopicWorkspace = "workspace"
)

// Topic returns the bus topic e is published on.
func Topic(e Event) string {
	if _, ok := e.(FileOperationEvent); ok {
		return TopicWorkspace
	}
	return TopicTurn
}

// Event type constants. These are the "type" field of the wire form.
const (
	EventTypeStatus        = "status"
	EventTypeChunk         = "chunk"
	EventTypeFileOperation = "file_operation"
	EventTypeTask          = "task"
	EventTypeComplete      = "complete"
	EventTypeError         = "error"
)

// StatusEvent is emitted when an agent node starts running.
type StatusEvent struct {
	Turn      string           `json:"turn_id"`
	NodeID    string           `json:"node_id"`
	Agent     agents.AgentType `json:"agent"`
	Label     string           `json:"label"`
	Status    string           `json:"status"`
	Message   string           `json:"message,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

func (e StatusEvent) EventType() string { return EventTypeStatus }
func (e StatusEvent) TurnID() string    { return e.Turn }

// ChunkEvent carries partial agent output.
type ChunkEvent struct {
	Turn      string           `json:"turn_id"`
	NodeID    string           `json:"node_id"`
	Agent     agents.AgentType `json:"agent"`
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	Timestamp time.Time        `json:"timestamp"`
}

func (e ChunkEvent) EventType() string { return EventTypeChunk }
func (e ChunkEvent) TurnID() string    { return e.Turn }

// FileOperationEvent is emitted as each file operation is applied.
type FileOperationEvent struct {
	Turn      string           `json:"turn_id"`
	NodeID    string           `json:"node_id,omitempty"`
	Agent     agents.AgentType `json:"agent,omitempty"`
	Path      string           `json:"path"`
	Operation string           `json:"operation"`
	Applied   bool             `json:"applied"`
	Error     string           `json:"error,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

func (e FileOperationEvent) EventType() string { return EventTypeFileOperation }
func (e FileOperationEvent) TurnID() string    { return e.Turn }

// TaskEvent reports an AgentTask status transition with overall progress.
type TaskEvent struct {
	Turn      string               `json:"turn_id"`
	Task      *scheduler.AgentTask `json:"task"`
	Progress  scheduler.Progress   `json:"progress"`
	Timestamp time.Time            `json:"timestamp"`
}

func (e TaskEvent) EventType() string { return EventTypeTask }
func (e TaskEvent) TurnID() string    { return e.Turn }

// CompleteEvent terminates a turn. Exactly one per turn unless an ErrorEvent
// is sent instead.
type CompleteEvent struct {
	Turn          string           `json:"turn_id"`
	SessionID     string           `json:"session_id"`
	Status        string           `json:"status"`
	Message       string           `json:"message"`
	Agent         agents.AgentType `json:"agent,omitempty"`
	FilesModified []string         `json:"files_modified"`
	Escalations   []string         `json:"escalations,omitempty"`
	Warnings      []string         `json:"warnings,omitempty"`
	Timestamp     time.Time        `json:"timestamp"`
}

func (e CompleteEvent) EventType() string { return EventTypeComplete }
func (e CompleteEvent) TurnID() string    { return e.Turn }

// ErrorEvent terminates a turn that could not run.
type ErrorEvent struct {
	Turn      string    `json:"turn_id,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func (e ErrorEvent) EventType() string { return EventTypeError }
func (e ErrorEvent) TurnID() string    { return e.Turn }

// Terminal reports whether e ends its turn.
func Terminal(e Event) bool {
	t := e.EventType()
	return t == EventTypeComplete || t == EventTypeError
}

// Marshal encodes an event as a flat JSON object with a "type" field.
func Marshal(e Event) ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	typ, err := json.Marshal(e.EventType())
	if err != nil {
		return nil, err
	}
	if len(body) < 2 || body[0] != '{' {
		return nil, fmt.Errorf("event %s did not encode as an object", e.EventType())
	}
	out := make([]byte, 0, len(body)+len(typ)+10)
	out = append(out, `{"type":`...)
	out = append(out, typ...)
	if len(body) > 2 {
		out = append(out, ',')
	}
	out = append(out, body[1:]...)
	return out, nil
}

// Decode parses the wire form produced by Marshal. Unknown types are
// returned as an error so callers can skip them.
func Decode(data []byte) (Event, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("failed to decode event: %w", err)
	}

	var e Event
	var err error
	switch head.Type {
	case EventTypeStatus:
		e, err = decodeAs[StatusEvent](data)
	case EventTypeChunk:
		e, err = decodeAs[ChunkEvent](data)
	case EventTypeFileOperation:
		e, err = decodeAs[FileOperationEvent](data)
	case EventTypeTask:
		e, err = decodeAs[TaskEvent](data)
	case EventTypeComplete:
		e, err = decodeAs[CompleteEvent](data)
	case EventTypeError:
		e, err = decodeAs[ErrorEvent](data)
	default:
		return nil, fmt.Errorf("unknown event type %q", head.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s event: %w", head.Type, err)
	}
	return e, nil
}

func decodeAs[T Event](data []byte) (Event, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

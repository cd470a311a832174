package workflow

import "context"

// EventType tags one progress event.
type EventType string

const (
	EventAgentStart    EventType = "agent_start"
	EventAgentComplete EventType = "agent_complete"
	EventDone          EventType = "done"
	EventError         EventType = "error"
)

// Step is the record of one node's processing, carried on agent_complete
// events and collected into the final trace.
type Step struct {
	Agent    string         `json:"agent"`
	Model    string         `json:"model"`
	Action   string         `json:"action"`
	Content  string         `json:"content"`
	Excluded bool           `json:"excluded,omitempty"`
	Metadata map[string]any `json:"-"`
}

// DonePayload is the terminal payload of a successful run.
type DonePayload struct {
	Answer       string         `json:"answer"`
	ToolOutputs  map[string]any `json:"tool_outputs"`
	Trace        Trace          `json:"trace"`
	LatencyMS    float64        `json:"latency_ms"`
	OutputFormat string         `json:"output_format"`
}

// Trace is the ordered list of executed steps.
type Trace struct {
	Steps []Step `json:"steps"`
}

// Event is one entry of a run's totally ordered progress sequence. Exactly one
// terminal event (Done or Error) ends the sequence.
type Event struct {
	Type EventType `json:"type"`
	// AgentID names the node for agent_start/agent_complete events.
	AgentID string       `json:"agent,omitempty"`
	Status  string       `json:"status,omitempty"`
	Step    *Step        `json:"step,omitempty"`
	Done    *DonePayload `json:"done,omitempty"`
	// Message carries the error text for error events.
	Message string `json:"message,omitempty"`
}

// DefaultEventBuffer bounds the per-run event queue; a slow consumer blocks
// the engine once the buffer fills.
const DefaultEventBuffer = 64

// Stream is the ordered per-run event queue drained by the request surface.
type Stream struct {
	ch chan Event
}

// NewStream creates a stream with the given buffer size (0 uses the default).
func NewStream(buffer int) *Stream {
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}
	return &Stream{ch: make(chan Event, buffer)}
}

// Emit enqueues an event, blocking once the buffer is full. It returns false
// when ctx is cancelled, in which case the event is dropped and the caller
// must stop emitting.
func (s *Stream) Emit(ctx context.Context, event Event) bool {
	select {
	case <-ctx.Done():
		return false
	case s.ch <- event:
		return true
	}
}

// Events exposes the receive side of the stream.
func (s *Stream) Events() <-chan Event {
	return s.ch
}

// Close marks the stream complete. Only the producer may call it, exactly
// once, after the terminal event.
func (s *Stream) Close() {
	close(s.ch)
}

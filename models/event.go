package models

// EventType tags a stream event
type EventType string

const (
	EventTextStart EventType = "text-start"
	EventTextDelta EventType = "text-delta"
	EventTextEnd   EventType = "text-end"
	EventError     EventType = "error"
)

// Event is one unit emitted by the stream relay. Its JSON form is the wire
// format consumed by the browser client.
type Event struct {
	Type    EventType `json:"type"`
	ID      string    `json:"id,omitempty"`
	Delta   string    `json:"delta,omitempty"`
	Message string    `json:"message,omitempty"`
}

// Terminal reports whether no further events follow e for its id
func (e Event) Terminal() bool {
	return e.Type == EventTextEnd || e.Type == EventError
}

func StartEvent(id string) Event { return Event{Type: EventTextStart, ID: id} }

func DeltaEvent(id, delta string) Event { return Event{Type: EventTextDelta, ID: id, Delta: delta} }

func EndEvent(id string) Event { return Event{Type: EventTextEnd, ID: id} }

func ErrorEvent(msg string) Event { return Event{Type: EventError, Message: msg} }

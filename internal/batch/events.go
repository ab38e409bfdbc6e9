package batch

// EventType names a progress event.
type EventType string

const (
	EventRunStarted   EventType = "run_started"
	EventBookStarted  EventType = "book_started"
	EventStage        EventType = "stage"
	EventBookFinished EventType = "book_finished"
	EventRunFinished  EventType = "run_finished"
)

// Event is a structured progress marker. Index is 1-based within Total.
type Event struct {
	Type    EventType `json:"type"`
	Index   int       `json:"index,omitempty"`
	Total   int       `json:"total"`
	Book    string    `json:"book,omitempty"`
	Stage   string    `json:"stage,omitempty"`
	Outcome string    `json:"outcome,omitempty"`
	Code    string    `json:"code,omitempty"`
	Summary *Summary  `json:"summary,omitempty"`
}

package entity

// EventType enumerates the notifications a session pushes to its consumer.
type EventType int

const (
	EventLog EventType = iota
	EventFileProgress
	EventOverallProgress
	EventFileCount
	EventTimeRemaining
	EventCompleted
	EventCanceled
	EventFailed
)

func (t EventType) String() string {
	return [...]string{
		"Log", "FileProgress", "OverallProgress", "FileCount",
		"TimeRemaining", "Completed", "Canceled", "Failed",
	}[t]
}

// Event is one entry in the ordered session event stream. Percent is set for
// the progress types, Count for EventFileCount, Message for the rest.
type Event struct {
	Type    EventType
	Message string
	Percent int
	Count   int
}

package events

import "time"

// EventType is the discriminator of the stream event union. The set is
// closed: consumers switch over these constants and treat anything else
// as a protocol error.
type EventType string

const (
	// EventInit is the first event on every connection. Carries the full
	// item count and the progress already recorded server-side.
	EventInit EventType = "init"

	// EventBatch marks a batch boundary in the dispatcher.
	EventBatch EventType = "batch"

	// EventHeartbeat is emitted on a fixed interval, independent of result
	// production. Carries the authoritative completed id list.
	EventHeartbeat EventType = "heartbeat"

	// EventResult carries one terminal WorkResult.
	EventResult EventType = "result"

	// EventReconnectWarning tells the client the server is about to close
	// the connection on purpose and that it should reconnect with the same
	// session id. Not an error.
	EventReconnectWarning EventType = "reconnect_warning"

	// EventError reports a failure. Fatal errors terminate the stream.
	EventError EventType = "error"

	// EventComplete terminates a successful stream. Sent exactly once per
	// session.
	EventComplete EventType = "complete"
)

// StreamEvent is one frame of the search stream. Exactly one event type is
// set in Type; the remaining fields are populated per type and omitted
// otherwise.
type StreamEvent struct {
	Type EventType `json:"type"`

	// init / heartbeat / reconnect_warning / complete
	Total    int `json:"total,omitempty"`
	Progress int `json:"progress,omitempty"`

	// heartbeat / reconnect_warning: authoritative completed item ids.
	// Clients reconcile by id, never by count alone.
	Completed []string `json:"completed,omitempty"`

	// init / reconnect_warning
	SessionID string `json:"session_id,omitempty"`
	Target    string `json:"target,omitempty"`

	// batch
	CurrentBatch int `json:"current_batch,omitempty"`
	TotalBatches int `json:"total_batches,omitempty"`

	// result
	Result *WorkResult `json:"result,omitempty"`

	// error / complete
	Message string `json:"message,omitempty"`
	Fatal   bool   `json:"fatal,omitempty"`

	Timestamp int64 `json:"timestamp,omitempty"`
}

func Init(sessionID, target string, total, progress, totalBatches int) StreamEvent {
	return StreamEvent{
		Type:         EventInit,
		SessionID:    sessionID,
		Target:       target,
		Total:        total,
		Progress:     progress,
		TotalBatches: totalBatches,
		Timestamp:    time.Now().Unix(),
	}
}

func Batch(current, total int) StreamEvent {
	return StreamEvent{Type: EventBatch, CurrentBatch: current, TotalBatches: total, Timestamp: time.Now().Unix()}
}

func Heartbeat(progress, total int, completed []string) StreamEvent {
	return StreamEvent{
		Type:      EventHeartbeat,
		Progress:  progress,
		Total:     total,
		Completed: completed,
		Timestamp: time.Now().Unix(),
	}
}

func Result(r WorkResult) StreamEvent {
	return StreamEvent{Type: EventResult, Result: &r, Timestamp: time.Now().Unix()}
}

func ReconnectWarning(sessionID, target string, progress, total int, completed []string) StreamEvent {
	return StreamEvent{
		Type:      EventReconnectWarning,
		SessionID: sessionID,
		Target:    target,
		Progress:  progress,
		Total:     total,
		Completed: completed,
		Timestamp: time.Now().Unix(),
	}
}

func Error(message string, fatal bool) StreamEvent {
	return StreamEvent{Type: EventError, Message: message, Fatal: fatal, Timestamp: time.Now().Unix()}
}

func Complete(progress, total int) StreamEvent {
	return StreamEvent{
		Type:      EventComplete,
		Message:   "All items have been processed",
		Progress:  progress,
		Total:     total,
		Timestamp: time.Now().Unix(),
	}
}

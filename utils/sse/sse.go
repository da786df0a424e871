package sse

import (
	"bufio"
	"encoding/json"
	"fmt"
)

// Event represents an SSE event to be sent to clients
type Event struct {
	// Event is the SSE event type ("state", "complete", "failed").
	// If empty, no "event:" line is written.
	Event string

	// Data is JSON-encoded unless it is a string or []byte
	Data interface{}

	// ID lets clients resume with Last-Event-ID
	ID string

	// Retry is the reconnection time in milliseconds
	Retry int
}

// Send writes an SSE event to the given writer and flushes immediately
func Send(w *bufio.Writer, event Event) error {
	if event.ID != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", event.ID); err != nil {
			return fmt.Errorf("failed to write event ID: %w", err)
		}
	}

	if event.Retry > 0 {
		if _, err := fmt.Fprintf(w, "retry: %d\n", event.Retry); err != nil {
			return fmt.Errorf("failed to write retry: %w", err)
		}
	}

	if event.Event != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", event.Event); err != nil {
			return fmt.Errorf("failed to write event type: %w", err)
		}
	}

	var dataStr string
	switch v := event.Data.(type) {
	case string:
		dataStr = v
	case []byte:
		dataStr = string(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to marshal event data: %w", err)
		}
		dataStr = string(data)
	}

	if _, err := fmt.Fprintf(w, "data: %s\n\n", dataStr); err != nil {
		return fmt.Errorf("failed to write event data: %w", err)
	}

	return w.Flush()
}

// SendState sends an import state transition
func SendState(w *bufio.Writer, id string, data interface{}) error {
	return Send(w, Event{Event: "state", ID: id, Data: data})
}

// SendComplete sends the final event of a successful import
func SendComplete(w *bufio.Writer, data interface{}) error {
	return Send(w, Event{Event: "complete", Data: data})
}

// SendFailed sends the final event of a failed import
func SendFailed(w *bufio.Writer, kind, message string) error {
	return Send(w, Event{
		Event: "failed",
		Data: map[string]string{
			"failure_kind": kind,
			"message":      message,
		},
	})
}

// SendKeepAlive sends a comment to keep proxies from closing the stream
func SendKeepAlive(w *bufio.Writer) error {
	if _, err := fmt.Fprintf(w, ": ping\n\n"); err != nil {
		return fmt.Errorf("failed to write keepalive: %w", err)
	}
	return w.Flush()
}

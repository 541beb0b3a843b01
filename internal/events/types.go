// Package events provides the in-process event bus that fans project and
// attempt updates out to websocket sessions and other subscribers.
package events

import (
	"time"
)

// Kind classifies an event envelope.
type Kind string

const (
	// KindTaskUpdate carries a task status change.
	KindTaskUpdate Kind = "task_update"
	// KindAttemptEvent carries an execution event from a running attempt.
	KindAttemptEvent Kind = "attempt_event"
	// KindChatMessage carries a user or agent chat message.
	KindChatMessage Kind = "chat_message"
)

// GlobalTopic subscribes to every topic.
const GlobalTopic = "*"

// ProjectTopic returns the broadcast topic for a project.
func ProjectTopic(projectID string) string {
	return "project:" + projectID
}

// AttemptTopic returns the broadcast topic for a single attempt.
func AttemptTopic(attemptID string) string {
	return "attempt:" + attemptID
}

// Envelope is a published event.
type Envelope struct {
	Topic   string    `json:"topic"`
	Kind    Kind      `json:"kind"`
	Payload any       `json:"payload"`
	Time    time.Time `json:"time"`
}

// NewEnvelope creates an envelope stamped with the current time.
func NewEnvelope(topic string, kind Kind, payload any) Envelope {
	return Envelope{
		Topic:   topic,
		Kind:    kind,
		Payload: payload,
		Time:    time.Now(),
	}
}

// TaskUpdate is the payload of a task_update envelope.
type TaskUpdate struct {
	TaskID    string `json:"task_id"`
	ProjectID string `json:"project_id"`
	Status    string `json:"status"`
	AttemptID string `json:"attempt_id,omitempty"`
}

// AttemptUpdate is the payload of an attempt_event envelope.
type AttemptUpdate struct {
	AttemptID string `json:"attempt_id"`
	TaskID    string `json:"task_id"`
	Kind      string `json:"event_kind"` // LOG, STATUS, PROGRESS, ERROR
	Message   string `json:"message"`
	Sequence  int64  `json:"sequence,omitempty"`
}

// ChatMessage is the payload of a chat_message envelope.
type ChatMessage struct {
	ProjectID string `json:"project_id"`
	Sender    string `json:"sender"`
	Body      string `json:"body"`
}

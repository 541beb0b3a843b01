package events

// Broadcaster wraps a Bus with nil-safety and convenience methods for the
// envelope kinds the orchestrator emits.
//
// Thread-safe: all methods can be called concurrently.
type Broadcaster struct {
	bus Bus
}

// NewBroadcaster creates a Broadcaster wrapping the given bus.
// If bus is nil, every publish becomes a no-op.
func NewBroadcaster(bus Bus) *Broadcaster {
	return &Broadcaster{bus: bus}
}

// Publish sends an envelope to the underlying bus.
// Safe to call with a nil broadcaster or nil bus.
func (b *Broadcaster) Publish(ev Envelope) {
	if b == nil || b.bus == nil {
		return
	}
	b.bus.Publish(ev)
}

// TaskStatus broadcasts a task status change on the project topic.
func (b *Broadcaster) TaskStatus(projectID, taskID, status, attemptID string) {
	b.Publish(NewEnvelope(ProjectTopic(projectID), KindTaskUpdate, TaskUpdate{
		TaskID:    taskID,
		ProjectID: projectID,
		Status:    status,
		AttemptID: attemptID,
	}))
}

// AttemptEvent broadcasts an execution event on both the attempt topic and
// the owning project topic, so project-level sessions see attempt progress
// without a per-attempt subscription.
func (b *Broadcaster) AttemptEvent(projectID, taskID, attemptID, kind, message string) {
	update := AttemptUpdate{
		AttemptID: attemptID,
		TaskID:    taskID,
		Kind:      kind,
		Message:   message,
	}
	b.Publish(NewEnvelope(AttemptTopic(attemptID), KindAttemptEvent, update))
	if projectID != "" {
		b.Publish(NewEnvelope(ProjectTopic(projectID), KindAttemptEvent, update))
	}
}

// Chat broadcasts a chat message on the project topic.
func (b *Broadcaster) Chat(projectID, sender, body string) {
	b.Publish(NewEnvelope(ProjectTopic(projectID), KindChatMessage, ChatMessage{
		ProjectID: projectID,
		Sender:    sender,
		Body:      body,
	}))
}

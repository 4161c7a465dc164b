// Package events defines the real-time broadcast boundary. Emission is
// fire-and-forget and at-most-once: a disconnected subscriber misses
// whatever was published while it was away, and the REST API is the
// catch-up path.
package events

// Event names pushed to subscribers.
const (
	NewMessage       = "new_message"
	MessageStatus    = "message_status_update"
	MessageUpdated   = "message_updated"
	ContactUpdated   = "contact_update"
	CampaignProgress = "broadcast_progress"
	ChannelIssue     = "channel_issue"
)

type Bus interface {
	Publish(event string, data any)
}

// Nop discards every event. Used in tests and as a safe default.
type Nop struct{}

func (Nop) Publish(string, any) {}

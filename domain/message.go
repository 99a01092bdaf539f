// Package domain contains core concepts of the relay.
// This file defines Message events.
// Messages are immutable once appended to a channel history.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// UnknownSender is recorded when a message carries no sender id and the
// sending connection has no identity bound to it.
const UnknownSender = "unknown"

// Message represents one chat message routed through a channel.
type Message struct {
	ID        uuid.UUID `json:"id"`
	ChannelID string    `json:"channelId"`
	SenderID  string    `json:"senderId"`
	Payload   string    `json:"payload"`
	Language  string    `json:"language,omitempty"` // ISO 639-1, best effort
	SentAt    time.Time `json:"sentAt"`
}

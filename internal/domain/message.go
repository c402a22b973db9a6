package domain

import (
	"time"

	"github.com/google/uuid"
)

type Message struct {
	ID           int64               `json:"id"`
	SenderID     uuid.UUID           `json:"sender_id"`
	ReceiverID   uuid.UUID           `json:"receiver_id"`
	Content      *string             `json:"content,omitempty"`
	Application  *ApplicationContext `json:"application,omitempty"`
	StatusUpdate *string             `json:"status_update,omitempty"`
	Attachment   *Attachment         `json:"attachment,omitempty"`
	IsRead       bool                `json:"is_read"`
	CreatedAt    time.Time           `json:"created_at"`
	// Joined fields
	Sender   *UserSummary `json:"sender,omitempty"`
	Receiver *UserSummary `json:"receiver,omitempty"`
}

// Attachment fields are stored as a group: all set or none.
type Attachment struct {
	Path string `json:"path"`
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
}

// ConversationSummary is one row of a user's conversation list.
type ConversationSummary struct {
	User          UserSummary `json:"user"`
	LastMessageID int64       `json:"last_message_id"`
	LastMessageAt time.Time   `json:"last_message_at"`
	UnreadCount   int         `json:"unread_count"`
}

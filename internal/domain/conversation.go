package domain

import (
	"sort"

	"github.com/google/uuid"
)

// ConversationFilter selects the messages exchanged between two users.
//
// Context, when set, narrows the view to that application thread plus every
// general (contextless) message. SinceID requests only messages newer than the
// cursor and disables Limit. Limit, when positive, keeps the most recent N.
type ConversationFilter struct {
	UserA   uuid.UUID
	UserB   uuid.UUID
	Context *ApplicationContext
	SinceID *int64
	Limit   int
}

// Normalize drops an unusable context and resolves the SinceID/Limit
// precedence so every store reads the same filter.
func (f ConversationFilter) Normalize() ConversationFilter {
	if f.Context != nil && !f.Context.Valid() {
		f.Context = nil
	}
	if f.SinceID != nil || f.Limit < 0 {
		f.Limit = 0
	}
	return f
}

// Matches reports whether m passes the participant, context and cursor
// predicates. Limit is not a per-message property and is ignored here.
func (f ConversationFilter) Matches(m *Message) bool {
	f = f.Normalize()

	between := (m.SenderID == f.UserA && m.ReceiverID == f.UserB) ||
		(m.SenderID == f.UserB && m.ReceiverID == f.UserA)
	if !between {
		return false
	}

	if f.Context != nil && m.Application != nil && *m.Application != *f.Context {
		return false
	}

	if f.SinceID != nil && m.ID <= *f.SinceID {
		return false
	}

	return true
}

// MessageBefore is the display order: created_at ascending, id as tie-breaker.
func MessageBefore(a, b *Message) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID < b.ID
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func SortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return MessageBefore(&msgs[i], &msgs[j])
	})
}

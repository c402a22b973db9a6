package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/atlasgate/portal/internal/domain"
	"github.com/google/uuid"
)

type MessageRepo struct {
	mu       sync.RWMutex
	messages []domain.Message
	nextID   int64
	users    *UserRepo
}

// NewMessageRepo creates an empty store. users resolves the joined
// sender/receiver summaries.
func NewMessageRepo(users *UserRepo) *MessageRepo {
	return &MessageRepo{users: users, nextID: 1}
}

func (r *MessageRepo) Create(ctx context.Context, msg *domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg.ID = r.nextID
	r.nextID++
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	stored := *msg
	stored.Sender, stored.Receiver = nil, nil
	r.messages = append(r.messages, stored)
	return nil
}

func (r *MessageRepo) GetByID(ctx context.Context, id int64) (*domain.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := range r.messages {
		if r.messages[i].ID == id {
			msg := r.withParticipants(r.messages[i])
			return &msg, nil
		}
	}
	return nil, nil
}

func (r *MessageRepo) ListConversation(ctx context.Context, filter domain.ConversationFilter) ([]domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	filter = filter.Normalize()

	r.mu.RLock()
	var out []domain.Message
	for i := range r.messages {
		if filter.Matches(&r.messages[i]) {
			out = append(out, r.withParticipants(r.messages[i]))
		}
	}
	r.mu.RUnlock()

	domain.SortMessages(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[len(out)-filter.Limit:]
	}
	return out, nil
}

func (r *MessageRepo) MarkRead(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.messages {
		if r.messages[i].ID == id {
			r.messages[i].IsRead = true
		}
	}
	return nil
}

func (r *MessageRepo) MarkConversationRead(ctx context.Context, readerID, otherID uuid.UUID) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []int64
	for i := range r.messages {
		m := &r.messages[i]
		if m.ReceiverID == readerID && m.SenderID == otherID && !m.IsRead {
			m.IsRead = true
			ids = append(ids, m.ID)
		}
	}
	return ids, nil
}

func (r *MessageRepo) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for i := range r.messages {
		if r.messages[i].ReceiverID == userID && !r.messages[i].IsRead {
			n++
		}
	}
	return n, nil
}

func (r *MessageRepo) ListConversations(ctx context.Context, userID uuid.UUID) ([]domain.ConversationSummary, error) {
	r.mu.RLock()
	byOther := make(map[uuid.UUID]*domain.ConversationSummary)
	for i := range r.messages {
		m := &r.messages[i]
		var other uuid.UUID
		switch userID {
		case m.SenderID:
			other = m.ReceiverID
		case m.ReceiverID:
			other = m.SenderID
		default:
			continue
		}

		c, ok := byOther[other]
		if !ok {
			c = &domain.ConversationSummary{User: *r.users.summary(other)}
			byOther[other] = c
		}
		if m.ID > c.LastMessageID {
			c.LastMessageID = m.ID
		}
		if m.CreatedAt.After(c.LastMessageAt) {
			c.LastMessageAt = m.CreatedAt
		}
		if m.ReceiverID == userID && !m.IsRead {
			c.UnreadCount++
		}
	}
	r.mu.RUnlock()

	convs := make([]domain.ConversationSummary, 0, len(byOther))
	for _, c := range byOther {
		convs = append(convs, *c)
	}
	sort.Slice(convs, func(i, j int) bool {
		if convs[i].LastMessageAt.Equal(convs[j].LastMessageAt) {
			return convs[i].LastMessageID > convs[j].LastMessageID
		}
		return convs[i].LastMessageAt.After(convs[j].LastMessageAt)
	})
	return convs, nil
}

func (r *MessageRepo) withParticipants(m domain.Message) domain.Message {
	if r.users != nil {
		m.Sender = r.users.summary(m.SenderID)
		m.Receiver = r.users.summary(m.ReceiverID)
	}
	return m
}

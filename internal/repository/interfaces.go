package repository

import (
	"context"

	"github.com/atlasgate/portal/internal/domain"
	"github.com/google/uuid"
)

type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
}

type ApplicationRepository interface {
	Exists(ctx context.Context, app domain.ApplicationContext) (bool, error)
}

type MessageRepository interface {
	// Create inserts msg and fills in its ID and CreatedAt.
	Create(ctx context.Context, msg *domain.Message) error
	GetByID(ctx context.Context, id int64) (*domain.Message, error)
	// ListConversation returns the filtered conversation ordered by
	// (created_at, id) ascending.
	ListConversation(ctx context.Context, filter domain.ConversationFilter) ([]domain.Message, error)
	MarkRead(ctx context.Context, id int64) error
	// MarkConversationRead returns the ids it flipped to read.
	MarkConversationRead(ctx context.Context, readerID, otherID uuid.UUID) ([]int64, error)
	CountUnread(ctx context.Context, userID uuid.UUID) (int, error)
	ListConversations(ctx context.Context, userID uuid.UUID) ([]domain.ConversationSummary, error)
}

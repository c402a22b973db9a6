package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/atlasgate/portal/internal/domain"
	"github.com/atlasgate/portal/internal/repository"
	"github.com/google/uuid"
)

var (
	ErrMessageNotFound     = errors.New("message not found")
	ErrNotMessageReceiver  = errors.New("only the message receiver can mark it as read")
	ErrCannotMessageSelf   = errors.New("cannot send a message to yourself")
	ErrRecipientNotStaff   = errors.New("clients can only message staff")
	ErrEmptyMessage        = errors.New("message has no content")
	ErrUserNotFound        = errors.New("user not found")
	ErrInvalidApplication  = errors.New("invalid application context")
	ErrApplicationNotFound = errors.New("application not found")
)

// Notifier pushes message events to connected clients.
type Notifier interface {
	NotifyNewMessage(msg *domain.Message)
	// NotifyMessagesRead tells senderID that readerID has read ids.
	NotifyMessagesRead(senderID, readerID uuid.UUID, ids []int64)
}

// UnreadCache stores per-user unread counts in front of the message store.
// Get returns a version on a miss; Fill must drop the write when an
// Invalidate happened since that version was read.
type UnreadCache interface {
	Get(ctx context.Context, userID uuid.UUID) (n int, ok bool, version int64, err error)
	Fill(ctx context.Context, userID uuid.UUID, n int, version int64) error
	Invalidate(ctx context.Context, userID uuid.UUID) error
}

type ConversationService struct {
	messageRepo repository.MessageRepository
	userRepo    repository.UserRepository
	appRepo     repository.ApplicationRepository
	cache       UnreadCache
	notifier    Notifier
	logger      *slog.Logger
}

func NewConversationService(
	messageRepo repository.MessageRepository,
	userRepo repository.UserRepository,
	appRepo repository.ApplicationRepository,
	logger *slog.Logger,
) *ConversationService {
	return &ConversationService{
		messageRepo: messageRepo,
		userRepo:    userRepo,
		appRepo:     appRepo,
		logger:      logger,
	}
}

// SetNotifier sets the real-time notifier (optional dependency).
func (s *ConversationService) SetNotifier(n Notifier) {
	s.notifier = n
}

// SetUnreadCache sets the unread count cache (optional dependency).
func (s *ConversationService) SetUnreadCache(c UnreadCache) {
	s.cache = c
}

type SendMessageInput struct {
	Content         string `json:"content"`
	ApplicationType string `json:"application_type,omitempty"`
	ApplicationID   int64  `json:"application_id,omitempty"`
	StatusUpdate    string `json:"status_update,omitempty"`
}

// GetConversation returns the messages between filter.UserA and filter.UserB,
// oldest first. It never fails: a store error is logged and an empty
// conversation is returned so the chat view keeps polling.
func (s *ConversationService) GetConversation(ctx context.Context, filter domain.ConversationFilter) []domain.Message {
	filter = filter.Normalize()

	messages, err := s.messageRepo.ListConversation(ctx, filter)
	if err != nil {
		s.logger.Error("conversation query failed", append(filterAttrs(filter), "error", err)...)
		return []domain.Message{}
	}
	if messages == nil {
		messages = []domain.Message{}
	}
	return messages
}

// FetchIncremental returns the messages newer than lastKnownID. Callers still
// dedupe by id against what they already hold.
func (s *ConversationService) FetchIncremental(ctx context.Context, userA, userB uuid.UUID, app *domain.ApplicationContext, lastKnownID int64) []domain.Message {
	return s.GetConversation(ctx, domain.ConversationFilter{
		UserA:   userA,
		UserB:   userB,
		Context: app,
		SinceID: &lastKnownID,
	})
}

// UnreadCount returns how many messages userID has not read yet, or 0 when
// the count cannot be determined.
func (s *ConversationService) UnreadCount(ctx context.Context, userID uuid.UUID) int {
	var (
		version int64
		fill    bool
	)
	if s.cache != nil {
		n, ok, v, err := s.cache.Get(ctx, userID)
		switch {
		case err != nil:
			s.logger.Warn("unread cache read failed", "user_id", userID, "error", err)
		case ok:
			return n
		default:
			version, fill = v, true
		}
	}

	n, err := s.messageRepo.CountUnread(ctx, userID)
	if err != nil {
		s.logger.Error("unread count query failed", "user_id", userID, "error", err)
		return 0
	}

	if fill {
		if err := s.cache.Fill(ctx, userID, n, version); err != nil {
			s.logger.Warn("unread cache write failed", "user_id", userID, "error", err)
		}
	}
	return n
}

// MarkAsRead flags a message as read by its receiver. Marking an already read
// message is a no-op.
func (s *ConversationService) MarkAsRead(ctx context.Context, readerID uuid.UUID, messageID int64) error {
	msg, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		return err
	}
	if msg == nil {
		return ErrMessageNotFound
	}
	if msg.ReceiverID != readerID {
		return ErrNotMessageReceiver
	}
	if msg.IsRead {
		return nil
	}

	if err := s.messageRepo.MarkRead(ctx, messageID); err != nil {
		return fmt.Errorf("marking message read: %w", err)
	}
	msg.IsRead = true

	s.invalidateUnread(ctx, readerID)
	if s.notifier != nil {
		s.notifier.NotifyMessagesRead(msg.SenderID, readerID, []int64{msg.ID})
	}
	return nil
}

// MarkConversationRead marks every unread message from otherID to readerID
// and returns how many changed.
func (s *ConversationService) MarkConversationRead(ctx context.Context, readerID, otherID uuid.UUID) (int, error) {
	ids, err := s.messageRepo.MarkConversationRead(ctx, readerID, otherID)
	if err != nil {
		return 0, fmt.Errorf("marking conversation read: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	s.invalidateUnread(ctx, readerID)
	if s.notifier != nil {
		s.notifier.NotifyMessagesRead(otherID, readerID, ids)
	}
	return len(ids), nil
}

// ListConversations returns one entry per counterpart, most recent first.
func (s *ConversationService) ListConversations(ctx context.Context, userID uuid.UUID) ([]domain.ConversationSummary, error) {
	convs, err := s.messageRepo.ListConversations(ctx, userID)
	if err != nil {
		return nil, err
	}
	if convs == nil {
		convs = []domain.ConversationSummary{}
	}
	return convs, nil
}

// Send stores a new message from senderID to receiverID. Clients may only
// write to staff; staff may write to anyone.
func (s *ConversationService) Send(ctx context.Context, senderID, receiverID uuid.UUID, input SendMessageInput) (*domain.Message, error) {
	if senderID == receiverID {
		return nil, ErrCannotMessageSelf
	}

	receiver, err := s.userRepo.GetByID(ctx, receiverID)
	if err != nil {
		return nil, err
	}
	if receiver == nil {
		return nil, ErrUserNotFound
	}
	if receiver.Role != domain.RoleAdmin {
		sender, err := s.userRepo.GetByID(ctx, senderID)
		if err != nil {
			return nil, err
		}
		if sender == nil || sender.Role != domain.RoleAdmin {
			return nil, ErrRecipientNotStaff
		}
	}

	msg := &domain.Message{
		SenderID:   senderID,
		ReceiverID: receiverID,
	}
	if content := strings.TrimSpace(input.Content); content != "" {
		msg.Content = &content
	}
	if status := strings.TrimSpace(input.StatusUpdate); status != "" {
		msg.StatusUpdate = &status
	}
	if msg.Content == nil && msg.StatusUpdate == nil {
		return nil, ErrEmptyMessage
	}

	if input.ApplicationType != "" || input.ApplicationID != 0 {
		app := domain.ApplicationContext{Type: domain.ApplicationType(input.ApplicationType), ID: input.ApplicationID}
		if !app.Valid() {
			return nil, ErrInvalidApplication
		}
		exists, err := s.appRepo.Exists(ctx, app)
		if err != nil {
			return nil, fmt.Errorf("checking application: %w", err)
		}
		if !exists {
			return nil, ErrApplicationNotFound
		}
		msg.Application = &app
	}

	if err := s.messageRepo.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("creating message: %w", err)
	}

	// Re-read to pick up the joined sender and receiver
	full, err := s.messageRepo.GetByID(ctx, msg.ID)
	if err != nil {
		return nil, err
	}
	if full == nil {
		return nil, ErrMessageNotFound
	}

	s.invalidateUnread(ctx, receiverID)
	if s.notifier != nil {
		s.notifier.NotifyNewMessage(full)
	}

	return full, nil
}

func (s *ConversationService) invalidateUnread(ctx context.Context, userID uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, userID); err != nil {
		s.logger.Warn("unread cache invalidate failed", "user_id", userID, "error", err)
	}
}

func filterAttrs(f domain.ConversationFilter) []any {
	attrs := []any{"user_a", f.UserA, "user_b", f.UserB}
	if f.Context != nil {
		attrs = append(attrs, "application_type", f.Context.Type, "application_id", f.Context.ID)
	}
	if f.SinceID != nil {
		attrs = append(attrs, "since_id", *f.SinceID)
	}
	if f.Limit > 0 {
		attrs = append(attrs, "limit", f.Limit)
	}
	return attrs
}

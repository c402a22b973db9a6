package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/atlasgate/portal/internal/domain"
	"github.com/atlasgate/portal/internal/service"
	"github.com/atlasgate/portal/internal/transport/http/middleware"
	"github.com/atlasgate/portal/pkg/validator"
	"github.com/google/uuid"
)

type MessageHandler struct {
	conversationService *service.ConversationService
	logger              *slog.Logger
	maxLimit            int
}

func NewMessageHandler(conversationService *service.ConversationService, logger *slog.Logger, maxLimit int) *MessageHandler {
	return &MessageHandler{
		conversationService: conversationService,
		logger:              logger,
		maxLimit:            maxLimit,
	}
}

// GetConversation serves both the initial load (optionally with limit) and
// the incremental poll (since_id). Store failures come back as an empty list.
func (h *MessageHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	otherID, err := uuid.Parse(r.PathValue("otherUserId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid user ID")
		return
	}

	q := r.URL.Query()
	filter := domain.ConversationFilter{
		UserA:   userID,
		UserB:   otherID,
		Context: domain.ParseApplicationContext(q.Get("application_type"), q.Get("application_id")),
	}

	if sinceStr := q.Get("since_id"); sinceStr != "" {
		since, err := strconv.ParseInt(sinceStr, 10, 64)
		if err != nil || since < 0 {
			writeError(w, http.StatusBadRequest, "INVALID_CURSOR", "since_id must be a non-negative integer")
			return
		}
		filter.SinceID = &since
	}

	if limitStr := q.Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			filter.Limit = min(l, h.maxLimit)
		}
	}

	messages := h.conversationService.GetConversation(r.Context(), filter)
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

func (h *MessageHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	writeJSON(w, http.StatusOK, map[string]int{"count": h.conversationService.UnreadCount(r.Context(), userID)})
}

func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	receiverID, err := uuid.Parse(r.PathValue("otherUserId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid user ID")
		return
	}

	var input service.SendMessageInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	if errs := validator.ValidateSendMessage(input.Content, input.StatusUpdate, input.ApplicationType, input.ApplicationID); errs.HasErrors() {
		writeValidationErrors(w, errs)
		return
	}

	msg, err := h.conversationService.Send(r.Context(), userID, receiverID, input)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrCannotMessageSelf):
			writeError(w, http.StatusBadRequest, "CANNOT_MESSAGE_SELF", "Cannot send a message to yourself")
		case errors.Is(err, service.ErrEmptyMessage):
			writeError(w, http.StatusBadRequest, "MISSING_CONTENT", "Message content is required")
		case errors.Is(err, service.ErrInvalidApplication):
			writeError(w, http.StatusBadRequest, "INVALID_APPLICATION", "Invalid application reference")
		case errors.Is(err, service.ErrRecipientNotStaff):
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Clients can only message staff")
		case errors.Is(err, service.ErrUserNotFound):
			writeError(w, http.StatusNotFound, "NOT_FOUND", "User not found")
		case errors.Is(err, service.ErrApplicationNotFound):
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Application not found")
		default:
			h.logger.Error("send message failed", "sender_id", userID, "receiver_id", receiverID, "error", err)
			writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
		}
		return
	}

	writeJSON(w, http.StatusCreated, msg)
}

func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	messageID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || messageID <= 0 {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid message ID")
		return
	}

	if err := h.conversationService.MarkAsRead(r.Context(), userID, messageID); err != nil {
		switch {
		case errors.Is(err, service.ErrMessageNotFound):
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Message not found")
		case errors.Is(err, service.ErrNotMessageReceiver):
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Only the receiver can mark a message as read")
		default:
			h.logger.Error("mark read failed", "message_id", messageID, "error", err)
			writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *MessageHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	convs, err := h.conversationService.ListConversations(r.Context(), userID)
	if err != nil {
		h.logger.Error("list conversations failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

func (h *MessageHandler) MarkConversationRead(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	otherID, err := uuid.Parse(r.PathValue("otherUserId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid user ID")
		return
	}

	n, err := h.conversationService.MarkConversationRead(r.Context(), userID, otherID)
	if err != nil {
		h.logger.Error("mark conversation read failed", "user_id", userID, "other_id", otherID, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"updated": n})
}

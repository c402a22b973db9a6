package ws

import (
	"github.com/atlasgate/portal/internal/domain"
	"github.com/google/uuid"
)

// HubNotifier implements service.Notifier using the WebSocket Hub.
type HubNotifier struct {
	hub *Hub
}

func NewHubNotifier(hub *Hub) *HubNotifier {
	return &HubNotifier{hub: hub}
}

// NotifyNewMessage reaches the receiver and the sender's other tabs.
func (n *HubNotifier) NotifyNewMessage(msg *domain.Message) {
	evt, err := NewEvent(EventTypeMessageNew, MessagePayload{Message: *msg})
	if err != nil {
		n.hub.logger.Error("ws notifier marshal failed", "error", err)
		return
	}
	n.hub.SendToUser(msg.ReceiverID, evt)
	n.hub.SendToUser(msg.SenderID, evt)
}

func (n *HubNotifier) NotifyMessagesRead(senderID, readerID uuid.UUID, ids []int64) {
	evt, err := NewEvent(EventTypeMessageRead, MessageReadPayload{IDs: ids, ReaderID: readerID})
	if err != nil {
		n.hub.logger.Error("ws notifier marshal failed", "error", err)
		return
	}
	n.hub.SendToUser(senderID, evt)
}

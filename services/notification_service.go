package services

import (
	"context"
	"fmt"
	"unicode/utf8"

	"firebase.google.com/go/messaging"
	"github.com/techagentng/clarkmarket/models"
	"go.uber.org/zap"
)

const previewLength = 120

// pushSender is the part of *messaging.Client used for chat pushes.
type pushSender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

type NotificationService struct {
	client pushSender
	log    *zap.Logger
}

func NewNotificationService(client *messaging.Client, log *zap.Logger) *NotificationService {
	return newNotificationService(client, log)
}

func newNotificationService(client pushSender, log *zap.Logger) *NotificationService {
	if log == nil {
		log = zap.NewNop()
	}
	return &NotificationService{client: client, log: log}
}

// TopicForUser is the FCM topic a user's devices subscribe to for chat pushes.
func TopicForUser(userID string) string {
	return "chat-" + userID
}

// NotifyMessage pushes a preview of msg to the receiver's devices.
func (s *NotificationService) NotifyMessage(ctx context.Context, msg *models.Message) error {
	if msg.ReceiverID == "" {
		return fmt.Errorf("message %s has no receiver", msg.ID)
	}

	title := msg.SenderEmail
	if title == "" {
		title = "New message"
	}

	id, err := s.client.Send(ctx, &messaging.Message{
		Topic: TopicForUser(msg.ReceiverID),
		Notification: &messaging.Notification{
			Title: title,
			Body:  preview(msg.Text),
		},
		Data: map[string]string{
			"conversation_id": msg.ConversationID,
			"message_id":      msg.ID,
			"sender_id":       msg.SenderID,
		},
	})
	if err != nil {
		return err
	}
	s.log.Debug("chat push sent", zap.String("push_id", id), zap.String("receiver_id", msg.ReceiverID))
	return nil
}

func preview(text string) string {
	if utf8.RuneCountInString(text) <= previewLength {
		return text
	}
	r := []rune(text)
	return string(r[:previewLength]) + "…"
}

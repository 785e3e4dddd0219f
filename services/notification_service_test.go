package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"firebase.google.com/go/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/techagentng/clarkmarket/models"
)

type fakePushSender struct {
	sent []*messaging.Message
	err  error
}

func (f *fakePushSender) Send(ctx context.Context, message *messaging.Message) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, message)
	return "projects/test/messages/1", nil
}

func TestNotifyMessageTargetsReceiverTopic(t *testing.T) {
	sender := &fakePushSender{}
	svc := newNotificationService(sender, nil)

	err := svc.NotifyMessage(context.Background(), &models.Message{
		ID:             "m1",
		ConversationID: "alice_bob",
		SenderID:       "alice",
		SenderEmail:    "alice@clarku.edu",
		ReceiverID:     "bob",
		Text:           "is the desk still available?",
	})
	require.NoError(t, err)
	require.Len(t, sender.sent, 1)

	got := sender.sent[0]
	assert.Equal(t, "chat-bob", got.Topic)
	assert.Equal(t, "alice@clarku.edu", got.Notification.Title)
	assert.Equal(t, "is the desk still available?", got.Notification.Body)
	assert.Equal(t, "alice_bob", got.Data["conversation_id"])
	assert.Equal(t, "m1", got.Data["message_id"])
}

func TestNotifyMessageTruncatesLongText(t *testing.T) {
	sender := &fakePushSender{}
	svc := newNotificationService(sender, nil)

	err := svc.NotifyMessage(context.Background(), &models.Message{
		ID: "m1", ReceiverID: "bob", Text: strings.Repeat("é", 300),
	})
	require.NoError(t, err)
	body := sender.sent[0].Notification.Body
	assert.Equal(t, previewLength+1, len([]rune(body)))
	assert.Equal(t, "New message", sender.sent[0].Notification.Title)
}

func TestNotifyMessageErrors(t *testing.T) {
	svc := newNotificationService(&fakePushSender{}, nil)
	assert.Error(t, svc.NotifyMessage(context.Background(), &models.Message{ID: "m1"}))

	boom := errors.New("fcm unavailable")
	svc = newNotificationService(&fakePushSender{err: boom}, nil)
	err := svc.NotifyMessage(context.Background(), &models.Message{ID: "m1", ReceiverID: "bob"})
	assert.ErrorIs(t, err, boom)
}

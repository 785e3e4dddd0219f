package models

import (
	"sort"
	"strings"
	"time"
)

// ConversationID derives the identifier shared by both participants of a
// direct conversation. The result does not depend on argument order.
func ConversationID(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, "_")
}

// Message is one entry of a rendered chat timeline. In Postgres the store
// assigns Timestamp, and Seq breaks ties between equal timestamps in insertion
// order.
type Message struct {
	ID             string    `json:"id" gorm:"type:uuid;primaryKey"`
	ClientID       string    `json:"client_id" gorm:"index"`
	ConversationID string    `json:"conversation_id" gorm:"index;not null"`
	SenderID       string    `json:"sender_id" gorm:"not null"`
	SenderEmail    string    `json:"sender_email"`
	ReceiverID     string    `json:"receiver_id" gorm:"not null"`
	ReceiverEmail  string    `json:"receiver_email"`
	Text           string    `json:"text"`
	Timestamp      time.Time `json:"timestamp" gorm:"index;not null;default:clock_timestamp()"`
	Seq            int64     `json:"-" gorm:"autoIncrement;index"`
	Pending        bool      `json:"pending" gorm:"-"`
	Failed         bool      `json:"failed,omitempty" gorm:"-"`
}

func (Message) TableName() string {
	return "chat_messages"
}

// MessageRecord is the document written to the store for every send.
// Timestamp is left zero so the store assigns it.
type MessageRecord struct {
	Text           string    `firestore:"text"`
	SenderID       string    `firestore:"senderId"`
	SenderEmail    string    `firestore:"senderEmail"`
	ReceiverID     string    `firestore:"receiverId"`
	ReceiverEmail  string    `firestore:"receiverEmail"`
	Participants   []string  `firestore:"participants"`
	ConversationID string    `firestore:"conversationId"`
	ClientID       string    `firestore:"clientId,omitempty"`
	Timestamp      time.Time `firestore:"timestamp,serverTimestamp"`
}

// ToMessage converts a stored record into a persisted timeline entry.
func (r *MessageRecord) ToMessage(id string) Message {
	return Message{
		ID:             id,
		ClientID:       r.ClientID,
		ConversationID: r.ConversationID,
		SenderID:       r.SenderID,
		SenderEmail:    r.SenderEmail,
		ReceiverID:     r.ReceiverID,
		ReceiverEmail:  r.ReceiverEmail,
		Text:           r.Text,
		Timestamp:      r.Timestamp,
	}
}

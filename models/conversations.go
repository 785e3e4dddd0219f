package models

import (
	"time"

	"github.com/lib/pq"
)

// Conversation is the summary document kept next to a conversation's
// message subcollection.
type Conversation struct {
	ID           string         `json:"id" firestore:"-" gorm:"primaryKey"`
	Participants pq.StringArray `json:"participants" firestore:"participants" gorm:"type:text[]"`
	LastMessage  string         `json:"last_message" firestore:"lastMessage"`
	LastSenderID string         `json:"last_sender_id" firestore:"lastSenderId"`
	UpdatedAt    time.Time      `json:"updated_at" firestore:"updatedAt"`
}

func (Conversation) TableName() string {
	return "chat_conversations"
}

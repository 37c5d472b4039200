package models

import "time"

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is one turn in a conversation, optionally tied to an event.
type ChatMessage struct {
	ID        string    `bson:"_id" json:"id" gorm:"primaryKey;type:varchar(36)"`
	Role      Role      `bson:"role" json:"role" gorm:"type:varchar(16);not null"`
	Content   string    `bson:"content" json:"content" gorm:"type:text"`
	EventID   *string   `bson:"event_id" json:"eventId" gorm:"type:varchar(128);index"`
	CreatedAt time.Time `bson:"created_at" json:"createdAt" gorm:"index"`
}

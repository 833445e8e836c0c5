package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Role is the author of a message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the permitted roles
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Conversation groups the messages of one chat thread
type Conversation struct {
	ID                    uint      `gorm:"primaryKey" json:"id"`
	ConversationID        string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"conversation_id"`
	SessionID             string    `gorm:"type:varchar(255);not null;index" json:"session_id"`
	Username              *string   `gorm:"type:varchar(255);index" json:"username,omitempty"`
	Title                 *string   `gorm:"type:varchar(500)" json:"title,omitempty"`
	PhilosopherCollection *string   `gorm:"type:varchar(255)" json:"philosopher_collection,omitempty"`
	CreatedAt             time.Time `gorm:"not null;index" json:"created_at"`
	UpdatedAt             time.Time `gorm:"not null;autoUpdateTime:false" json:"updated_at"`

	// Relationships
	Messages []Message `gorm:"foreignKey:ConversationID;references:ConversationID;constraint:OnDelete:CASCADE" json:"messages,omitempty"`
}

// BeforeSave stores timestamps in UTC
func (c *Conversation) BeforeSave(tx *gorm.DB) error {
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return nil
}

// Message is a single chat turn. A nil QdrantPointID means the message has
// not been embedded and uploaded to the vector store yet.
type Message struct {
	ID                    uint      `gorm:"primaryKey" json:"id"`
	MessageID             string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"message_id"`
	ConversationID        string    `gorm:"type:varchar(255);not null;index" json:"conversation_id"`
	SessionID             string    `gorm:"type:varchar(255);not null;index" json:"session_id"`
	Username              *string   `gorm:"type:varchar(255)" json:"username,omitempty"`
	Role                  Role      `gorm:"type:varchar(20);not null" json:"role"`
	Content               string    `gorm:"type:text;not null" json:"content"`
	PhilosopherCollection *string   `gorm:"type:varchar(255)" json:"philosopher_collection,omitempty"`
	QdrantPointID         *string   `gorm:"type:varchar(64);index" json:"qdrant_point_id,omitempty"`
	CreatedAt             time.Time `gorm:"not null;index" json:"created_at"`
}

// BeforeSave stores created_at in UTC. SQLite compares timestamps as text,
// so mixed offsets would break the keyset order of the streamer.
func (m *Message) BeforeSave(tx *gorm.DB) error {
	m.CreatedAt = m.CreatedAt.UTC()
	return nil
}

// MigrationRun records the outcome of one export, import or session migration
type MigrationRun struct {
	ID                    uint           `gorm:"primaryKey" json:"id"`
	Operation             string         `gorm:"type:varchar(50);not null;index" json:"operation"` // export, import, migrate_session
	BackupID              string         `gorm:"type:varchar(64);index" json:"backup_id,omitempty"`
	Success               bool           `gorm:"not null" json:"success"`
	SourceConversations   int            `json:"source_conversations"`
	SourceMessages        int            `json:"source_messages"`
	MigratedConversations int            `json:"migrated_conversations"`
	MigratedMessages      int            `json:"migrated_messages"`
	SkippedItems          int            `json:"skipped_items"`
	Errors                datatypes.JSON `json:"errors"`
	DurationSeconds       float64        `json:"duration_seconds"`
	CreatedAt             time.Time      `gorm:"not null;index" json:"created_at"`
}

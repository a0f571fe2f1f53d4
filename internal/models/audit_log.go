package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AuditLog records link lifecycle and summary events. Metadata may carry a
// token digest but never a raw token.
type AuditLog struct {
	ID        string    `gorm:"primaryKey;type:uuid" json:"id"`
	ActorID   *string   `gorm:"type:uuid;index" json:"actor_id"`
	Actor     string    `json:"actor"`
	Action    string    `gorm:"not null;index" json:"action"`
	Resource  string    `gorm:"index" json:"resource"`
	Result    string    `gorm:"not null" json:"result"`
	IPAddress string    `json:"ip_address"`
	Metadata  string    `gorm:"type:json" json:"metadata"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

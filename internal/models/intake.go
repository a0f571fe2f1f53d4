package models

import (
	"time"

	"gorm.io/datatypes"
)

// Intake holds the patient-submitted form data. Exactly one intake exists per
// consumed link; the row is created in the same transaction that stamps the
// link's used_at.
type Intake struct {
	BaseModel

	PatientID    string `gorm:"type:uuid;not null;index" json:"patient_id"`
	IntakeLinkID string `gorm:"type:uuid;not null;uniqueIndex" json:"intake_link_id"`

	Responses datatypes.JSON `gorm:"not null" json:"responses"`

	ConsentGiven     bool      `gorm:"not null" json:"consent_given"`
	ConsentTimestamp time.Time `json:"consent_timestamp"`
	CompletedAt      time.Time `gorm:"index" json:"completed_at"`

	Patient *Patient    `gorm:"foreignKey:PatientID" json:"patient,omitempty"`
	Link    *IntakeLink `gorm:"foreignKey:IntakeLinkID" json:"link,omitempty"`
}

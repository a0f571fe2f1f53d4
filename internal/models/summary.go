package models

import (
	"time"

	"gorm.io/datatypes"
)

// Summary is the AI-assisted condensation of an intake, one per intake.
// All fields except DoctorEdits are append-only: regeneration replaces the
// AI-produced content as a whole, and provider corrections live exclusively
// in the DoctorEdits overlay so the original model output stays auditable.
type Summary struct {
	BaseModel

	IntakeID string `gorm:"type:uuid;not null;uniqueIndex" json:"intake_id"`

	ChiefComplaint  string         `json:"chief_complaint"`
	Medications     datatypes.JSON `json:"medications"`
	SystemsReview   string         `json:"systems_review"`
	RelevantHistory string         `json:"relevant_history"`
	Lifestyle       string         `json:"lifestyle"`

	// RawText is the full model output in its fixed section order.
	RawText string `gorm:"type:text" json:"raw_text"`

	DoctorEdits datatypes.JSON `json:"doctor_edits,omitempty"`

	Model       string    `json:"model,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`

	RedFlags []RedFlag `gorm:"foreignKey:SummaryID" json:"red_flags,omitempty"`
}

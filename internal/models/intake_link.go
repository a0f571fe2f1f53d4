package models

import "time"

// LinkState is the derived lifecycle state of an intake link. It is computed
// from the stored timestamps on every lookup and never persisted.
type LinkState string

const (
	LinkStateActive  LinkState = "active"
	LinkStateUsed    LinkState = "used"
	LinkStateExpired LinkState = "expired"
	LinkStateLocked  LinkState = "locked"
)

// IntakeLink grants one-time, login-free access to the intake form for a
// single patient. Only the SHA-256 digest of the token is stored; the raw
// token is returned once at issuance and never persisted or logged.
//
// Rows are never deleted. Superseded links keep their row for audit and
// report as expired.
type IntakeLink struct {
	BaseModel

	PatientID   string `gorm:"type:uuid;not null;index" json:"patient_id"`
	TokenDigest string `gorm:"uniqueIndex;not null" json:"-"`

	ExpiresAt    time.Time  `gorm:"index;not null" json:"expires_at"`
	UsedAt       *time.Time `json:"used_at,omitempty"`
	SupersededAt *time.Time `json:"superseded_at,omitempty"`

	RequiresVerification bool       `gorm:"default:false" json:"requires_verification"`
	VerificationAttempts int        `gorm:"default:0" json:"verification_attempts"`
	LockedAt             *time.Time `json:"locked_at,omitempty"`
	VerifiedAt           *time.Time `json:"verified_at,omitempty"`

	CreatedBy string `gorm:"type:uuid" json:"created_by,omitempty"`

	Patient *Patient `gorm:"foreignKey:PatientID" json:"patient,omitempty"`
}

// StateAt evaluates the derived state at the given instant. The ordering is
// load-bearing: a used link stays used even after its expiry passes, and an
// expired link reports expired rather than locked.
func (l *IntakeLink) StateAt(now time.Time) LinkState {
	switch {
	case l.UsedAt != nil:
		return LinkStateUsed
	case l.SupersededAt != nil:
		return LinkStateExpired
	case now.After(l.ExpiresAt):
		return LinkStateExpired
	case l.LockedAt != nil:
		return LinkStateLocked
	default:
		return LinkStateActive
	}
}

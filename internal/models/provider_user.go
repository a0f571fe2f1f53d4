package models

// ProviderUser is a clinician or staff account on the provider side of the
// system. Providers authenticate with an ordinary username/password login
// that yields a JWT; patients never have accounts.
type ProviderUser struct {
	BaseModel

	Username     string `gorm:"uniqueIndex;not null" json:"username"`
	PasswordHash string `gorm:"not null" json:"-"`
	DisplayName  string `json:"display_name"`
	IsActive     bool   `gorm:"default:true" json:"is_active"`
}

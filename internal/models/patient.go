package models

// Patient is the provider-managed record an intake link grants access to.
// DateOfBirth doubles as the low-entropy shared secret for link verification,
// stored in YYYY-MM-DD form.
type Patient struct {
	BaseModel

	FirstName   string `gorm:"not null" json:"first_name"`
	LastName    string `gorm:"not null" json:"last_name"`
	DateOfBirth string `gorm:"not null" json:"date_of_birth"`
	Email       string `gorm:"index" json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
}

// DisplayName returns the patient name shown on the public link info page.
func (p *Patient) DisplayName() string {
	if p == nil {
		return ""
	}
	if p.FirstName == "" {
		return p.LastName
	}
	if p.LastName == "" {
		return p.FirstName
	}
	return p.FirstName + " " + p.LastName
}

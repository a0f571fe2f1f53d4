package models

// Severity grades a red flag. The order high > medium > low is used for
// display grouping only and never suppresses lower-severity flags.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// FlagSource records provenance of a red flag. The keyword/ai distinction is
// an auditable trust boundary: deterministic keyword matches are the system
// of record, AI-derived flags are additive inferences.
type FlagSource string

const (
	SourceKeyword FlagSource = "keyword"
	SourceAI      FlagSource = "ai"
	SourceManual  FlagSource = "manual"
)

// RedFlag is an immutable, severity-tagged clinical concern derived from an
// intake. Identity is (Flag, Severity). Keyword flags are persisted at
// submission time, before and independent of any summary; ai flags attach to
// a summary when one is generated.
type RedFlag struct {
	BaseModel

	IntakeID  string  `gorm:"type:uuid;not null;index" json:"intake_id"`
	SummaryID *string `gorm:"type:uuid;index" json:"summary_id,omitempty"`

	Flag           string     `gorm:"not null" json:"flag"`
	Severity       Severity   `gorm:"not null;index" json:"severity"`
	Details        string     `json:"details,omitempty"`
	Recommendation string     `json:"recommendation,omitempty"`
	Source         FlagSource `gorm:"not null;index" json:"source"`
}

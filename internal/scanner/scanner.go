// Package scanner implements the deterministic red-flag rule engine. It is a
// pure function of intake content: no I/O, no randomness, bounded by the size
// of the rule table, and therefore safe to run inline on the submission path.
package scanner

import (
	"fmt"
	"strings"

	"github.com/clinicbridge/intake/internal/intakevalue"
	"github.com/clinicbridge/intake/internal/models"
)

// Finding is one severity-tagged concern detected in an intake. Identity is
// (Flag, Severity); callers treat the result slice as a set.
type Finding struct {
	Flag           string
	Category       string
	Severity       models.Severity
	Details        string
	Recommendation string
}

// Input is the scanner's view of an intake.
type Input struct {
	ChiefComplaint string
	FreeText       []string
	Medications    []string
	AllergyCount   int
}

// Option customises a Scanner.
type Option func(*Scanner)

// WithRules replaces the phrase table.
func WithRules(rules []Rule) Option {
	return func(s *Scanner) {
		if len(rules) > 0 {
			s.rules = rules
		}
	}
}

// WithHighRiskMedications replaces the structural medication list.
func WithHighRiskMedications(meds []string) Option {
	return func(s *Scanner) {
		if len(meds) > 0 {
			s.highRiskMeds = meds
		}
	}
}

// WithAllergyThreshold overrides the allergy count threshold.
func WithAllergyThreshold(n int) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.allergyThreshold = n
		}
	}
}

// Scanner matches intake content against an ordered rule table.
type Scanner struct {
	rules            []Rule
	highRiskMeds     []string
	allergyThreshold int
}

// New constructs a scanner with the built-in rule set.
func New(opts ...Option) *Scanner {
	s := &Scanner{
		rules:            defaultRules,
		highRiskMeds:     highRiskMedications,
		allergyThreshold: defaultAllergyThreshold,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ExtractInput builds the scanner input from a parsed response document.
// Well-known fields are read by name; every other string leaf still feeds
// the phrase matcher so a danger phrase buried in an unexpected field is not
// missed.
func ExtractInput(responses intakevalue.Value) Input {
	return Input{
		ChiefComplaint: responses.StringAt("chief_complaint"),
		FreeText:       responses.TextLeaves(),
		Medications:    responses.StringsAt("medications"),
		AllergyCount:   len(responses.StringsAt("allergies")),
	}
}

// Scan evaluates every rule against the input. All matching rules fire:
// there is no early exit and no suppression, because a superset match must
// never hide an independent danger phrase. Identical input always yields an
// identical finding set.
func (s *Scanner) Scan(input Input) []Finding {
	var findings []Finding
	seen := make(map[string]struct{})

	texts := input.FreeText
	if len(texts) == 0 && input.ChiefComplaint != "" {
		texts = []string{input.ChiefComplaint}
	}

	for _, rule := range s.rules {
		phrase := strings.ToLower(rule.Phrase)
		for _, text := range texts {
			if !strings.Contains(strings.ToLower(text), phrase) {
				continue
			}
			key := identity(rule.Phrase, rule.Severity)
			if _, dup := seen[key]; dup {
				break
			}
			seen[key] = struct{}{}
			findings = append(findings, Finding{
				Flag:           fmt.Sprintf("Mentions %q", rule.Phrase),
				Category:       rule.Category,
				Severity:       rule.Severity,
				Details:        snippet(text, phrase),
				Recommendation: rule.Recommendation,
			})
			break
		}
	}

	for _, med := range input.Medications {
		lower := strings.ToLower(med)
		for _, risky := range s.highRiskMeds {
			if !strings.Contains(lower, risky) {
				continue
			}
			key := identity("high-risk medication "+risky, models.SeverityMedium)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			findings = append(findings, Finding{
				Flag:           fmt.Sprintf("High-risk medication: %s", risky),
				Category:       "medication",
				Severity:       models.SeverityMedium,
				Details:        fmt.Sprintf("Patient reports taking %q", med),
				Recommendation: "Review dosing, interactions and monitoring requirements",
			})
		}
	}

	if input.AllergyCount > s.allergyThreshold {
		findings = append(findings, Finding{
			Flag:           "Extensive allergy history",
			Category:       "allergy",
			Severity:       models.SeverityLow,
			Details:        fmt.Sprintf("%d reported allergies exceeds the review threshold of %d", input.AllergyCount, s.allergyThreshold),
			Recommendation: "Verify the allergy list before prescribing",
		})
	}

	return findings
}

func identity(flag string, severity models.Severity) string {
	return flag + "|" + string(severity)
}

// snippet trims the matched text down to a short context window around the
// phrase for the finding details.
func snippet(text, phrase string) string {
	const window = 40

	lower := strings.ToLower(text)
	idx := strings.Index(lower, phrase)
	if idx < 0 {
		return ""
	}

	start := idx - window
	if start < 0 {
		start = 0
	}
	end := idx + len(phrase) + window
	if end > len(text) {
		end = len(text)
	}

	out := text[start:end]
	if start > 0 {
		out = "…" + out
	}
	if end < len(text) {
		out += "…"
	}
	return out
}

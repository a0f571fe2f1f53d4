package scanner

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clinicbridge/intake/internal/intakevalue"
	"github.com/clinicbridge/intake/internal/models"
)

func findingFlags(findings []Finding) map[string]models.Severity {
	out := make(map[string]models.Severity, len(findings))
	for _, f := range findings {
		out[f.Flag] = f.Severity
	}
	return out
}

func TestScanChestPainAndBreathing(t *testing.T) {
	s := New()
	findings := s.Scan(Input{
		ChiefComplaint: "chest pain and difficulty breathing",
		FreeText:       []string{"chest pain and difficulty breathing"},
	})

	require.GreaterOrEqual(t, len(findings), 2)

	flags := findingFlags(findings)
	require.Equal(t, models.SeverityHigh, flags[`Mentions "chest pain"`])
	require.Equal(t, models.SeverityHigh, flags[`Mentions "difficulty breathing"`])
}

func TestScanNoSuppressionBetweenRules(t *testing.T) {
	// "suicidal" contains "suicide"-adjacent phrasing; both standalone rules
	// must be free to fire on text that contains each phrase.
	s := New()
	findings := s.Scan(Input{
		FreeText: []string{"feeling hopeless, suicidal thoughts, chest pain"},
	})

	flags := findingFlags(findings)
	require.Contains(t, flags, `Mentions "suicidal"`)
	require.Contains(t, flags, `Mentions "hopeless"`)
	require.Contains(t, flags, `Mentions "chest pain"`)
}

func TestScanCaseInsensitive(t *testing.T) {
	s := New()
	findings := s.Scan(Input{FreeText: []string{"SEVERE BLEEDING from wound"}})
	require.Len(t, findings, 1)
	require.Equal(t, models.SeverityHigh, findings[0].Severity)
}

func TestScanHighRiskMedication(t *testing.T) {
	s := New()
	findings := s.Scan(Input{Medications: []string{"Warfarin 5mg", "lisinopril"}})

	require.Len(t, findings, 1)
	require.Equal(t, "High-risk medication: warfarin", findings[0].Flag)
	require.Equal(t, models.SeverityMedium, findings[0].Severity)
}

func TestScanAllergyThreshold(t *testing.T) {
	s := New()

	require.Empty(t, s.Scan(Input{AllergyCount: 5}))

	findings := s.Scan(Input{AllergyCount: 6})
	require.Len(t, findings, 1)
	require.Equal(t, "Extensive allergy history", findings[0].Flag)
	require.Equal(t, models.SeverityLow, findings[0].Severity)
}

func TestScanDeterministic(t *testing.T) {
	s := New()
	input := Input{
		ChiefComplaint: "worst headache of my life with vision loss",
		FreeText:       []string{"worst headache of my life with vision loss", "taking insulin daily"},
		Medications:    []string{"insulin"},
		AllergyCount:   7,
	}

	first := s.Scan(input)
	for i := 0; i < 10; i++ {
		require.Equal(t, first, s.Scan(input))
	}
}

func TestExtractInput(t *testing.T) {
	v, err := intakevalue.Parse([]byte(`{
		"chief_complaint": "dizzy spells",
		"medications": [{"name": "digoxin"}],
		"allergies": ["a", "b", "c"],
		"history": {"notes": "fainted twice last week"}
	}`))
	require.NoError(t, err)

	input := ExtractInput(v)
	require.Equal(t, "dizzy spells", input.ChiefComplaint)
	require.Equal(t, []string{"digoxin"}, input.Medications)
	require.Equal(t, 3, input.AllergyCount)
	require.Contains(t, input.FreeText, "fainted twice last week")

	// The nested note still reaches the phrase matcher.
	findings := New().Scan(input)
	flags := findingFlags(findings)
	require.Contains(t, flags, `Mentions "fainted"`)
	require.Contains(t, flags, "High-risk medication: digoxin")
}

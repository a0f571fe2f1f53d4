package services

import (
	"strings"

	"github.com/clinicbridge/intake/internal/models"
	"github.com/clinicbridge/intake/internal/scanner"
)

// extractAIFlags pulls model-marked concerns out of the generated text. Each
// line carrying the fixed marker becomes a finding; severity is read from an
// optional leading "high:"/"medium:"/"low:" prefix and defaults to medium,
// since the model's own grading is advisory.
func extractAIFlags(text string) []scanner.Finding {
	var findings []scanner.Finding

	for _, line := range strings.Split(text, "\n") {
		idx := strings.Index(line, redFlagMarker)
		if idx < 0 {
			continue
		}

		body := strings.TrimSpace(line[idx+len(redFlagMarker):])
		if body == "" {
			continue
		}

		severity := models.SeverityMedium
		lower := strings.ToLower(body)
		for _, grade := range []models.Severity{models.SeverityHigh, models.SeverityMedium, models.SeverityLow} {
			prefix := string(grade) + ":"
			if strings.HasPrefix(lower, prefix) {
				severity = grade
				body = strings.TrimSpace(body[len(prefix):])
				break
			}
		}
		if body == "" {
			continue
		}

		findings = append(findings, scanner.Finding{
			Flag:     body,
			Severity: severity,
			Details:  "Flagged by the model during summary generation",
		})
	}

	return findings
}

// dedupeAgainst drops ai findings whose (flag, severity) identity collides
// with an existing keyword flag, and collapses duplicates within the ai set
// itself. Keyword flags are never modified or removed here; the model can
// only ever add.
func dedupeAgainst(findings []scanner.Finding, keyword []models.RedFlag) []scanner.Finding {
	seen := make(map[string]struct{}, len(keyword))
	for _, flag := range keyword {
		seen[flagIdentity(flag.Flag, flag.Severity)] = struct{}{}
	}

	var out []scanner.Finding
	for _, finding := range findings {
		key := flagIdentity(finding.Flag, finding.Severity)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, finding)
	}
	return out
}

func flagIdentity(flag string, severity models.Severity) string {
	return strings.ToLower(strings.TrimSpace(flag)) + "|" + string(severity)
}

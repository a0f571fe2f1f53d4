package services

import (
	"fmt"
	"strings"

	"github.com/clinicbridge/intake/internal/intakevalue"
)

const (
	// summarySystemPrompt constrains the model: professional register, a fixed
	// red-flag marker, no fabricated diagnoses, fixed section order.
	summarySystemPrompt = "You are a clinical intake summarisation assistant for medical providers. " +
		"Use professional medical terminology. Summarise only what the patient reported; " +
		"never fabricate a diagnosis or invent findings. " +
		"Mark any concerning finding on its own line starting with the exact marker \"" + redFlagMarker + "\" " +
		"followed by a short description. " +
		"Output exactly these sections, in this order, each introduced by a markdown heading: " +
		"Summary, Key Findings, Red Flags, Medications Review, Considerations."

	// redFlagMarker is the fixed marker ai-derived concerns are extracted from.
	redFlagMarker = "**RED FLAG:**"

	// Field and prompt bounds keep the request size predictable regardless of
	// what the patient typed into free-text fields.
	maxFieldChars  = 1200
	maxPromptChars = 8000
)

// promptField is one labelled intake field embedded in the prompt.
type promptField struct {
	label string
	key   string
}

// promptFields defines which response fields reach the model and in which
// order. Order is fixed so identical intakes produce identical prompts.
var promptFields = []promptField{
	{"Chief complaint", "chief_complaint"},
	{"History of present illness", "history"},
	{"Relevant medical history", "medical_history"},
	{"Current medications", "medications"},
	{"Allergies", "allergies"},
	{"Review of systems", "systems_review"},
	{"Lifestyle", "lifestyle"},
}

// buildPrompt renders the bounded natural-language prompt for an intake.
func buildPrompt(responses intakevalue.Value, patientName string) string {
	var b strings.Builder

	b.WriteString("Patient intake submission")
	if patientName != "" {
		fmt.Fprintf(&b, " for %s", patientName)
	}
	b.WriteString(":\n\n")

	for _, field := range promptFields {
		value, ok := responses.Get(field.key)
		if !ok {
			continue
		}
		rendered := truncate(value.Render(), maxFieldChars)
		if rendered == "" {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", field.label, rendered)
	}

	// Any remaining fields the form added beyond the well-known set.
	known := make(map[string]struct{}, len(promptFields))
	for _, field := range promptFields {
		known[field.key] = struct{}{}
	}
	for _, member := range responses.Members() {
		if _, ok := known[member.Key]; ok {
			continue
		}
		rendered := truncate(member.Value.Render(), maxFieldChars)
		if rendered == "" {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", labelFromKey(member.Key), rendered)
	}

	b.WriteString("\nProduce the structured summary now.")
	return truncate(b.String(), maxPromptChars)
}

func truncate(s string, limit int) string {
	s = strings.TrimSpace(s)
	if limit <= 0 || len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}

func labelFromKey(key string) string {
	label := strings.ReplaceAll(key, "_", " ")
	if label == "" {
		return key
	}
	return strings.ToUpper(label[:1]) + label[1:]
}

package scanner

import "github.com/clinicbridge/intake/internal/models"

// Rule is a single danger-phrase entry. Matching is case-insensitive
// substring; every rule is evaluated independently so a superset phrase can
// never hide another match.
type Rule struct {
	Phrase         string
	Category       string
	Severity       models.Severity
	Recommendation string
}

// defaultRules is the ordered phrase table. Order affects only the order of
// emitted findings, never which rules fire.
var defaultRules = []Rule{
	{"chest pain", "cardiac", models.SeverityHigh, "Assess for acute coronary syndrome; obtain ECG urgently"},
	{"crushing pain", "cardiac", models.SeverityHigh, "Assess for acute coronary syndrome; obtain ECG urgently"},
	{"pain radiating to arm", "cardiac", models.SeverityHigh, "Assess for acute coronary syndrome"},
	{"palpitations", "cardiac", models.SeverityMedium, "Review rhythm history; consider ECG"},

	{"difficulty breathing", "respiratory", models.SeverityHigh, "Assess airway and oxygenation immediately"},
	{"shortness of breath", "respiratory", models.SeverityHigh, "Assess airway and oxygenation immediately"},
	{"can't breathe", "respiratory", models.SeverityHigh, "Assess airway and oxygenation immediately"},
	{"coughing blood", "respiratory", models.SeverityHigh, "Evaluate for haemoptysis causes urgently"},

	{"suicidal", "mental-health", models.SeverityHigh, "Immediate risk assessment; do not leave patient unattended"},
	{"suicide", "mental-health", models.SeverityHigh, "Immediate risk assessment; do not leave patient unattended"},
	{"self-harm", "mental-health", models.SeverityHigh, "Immediate risk assessment"},
	{"want to die", "mental-health", models.SeverityHigh, "Immediate risk assessment"},
	{"hopeless", "mental-health", models.SeverityMedium, "Screen for depression at visit"},

	{"loss of consciousness", "neurological", models.SeverityHigh, "Evaluate for syncope or seizure urgently"},
	{"fainted", "neurological", models.SeverityMedium, "Evaluate for syncope"},
	{"seizure", "neurological", models.SeverityHigh, "Evaluate urgently; check medication adherence"},
	{"worst headache", "neurological", models.SeverityHigh, "Rule out subarachnoid haemorrhage"},
	{"numbness on one side", "neurological", models.SeverityHigh, "Evaluate for stroke; time-critical"},
	{"slurred speech", "neurological", models.SeverityHigh, "Evaluate for stroke; time-critical"},
	{"vision loss", "neurological", models.SeverityHigh, "Urgent ophthalmic/neurological evaluation"},

	{"severe bleeding", "haemorrhage", models.SeverityHigh, "Assess haemodynamic stability immediately"},
	{"blood in stool", "gastrointestinal", models.SeverityMedium, "Evaluate for GI bleeding"},
	{"blood in urine", "genitourinary", models.SeverityMedium, "Evaluate for haematuria causes"},
	{"vomiting blood", "gastrointestinal", models.SeverityHigh, "Evaluate for upper GI bleeding urgently"},

	{"anaphylaxis", "allergy", models.SeverityHigh, "Confirm epinephrine access; review allergy plan"},
	{"throat swelling", "allergy", models.SeverityHigh, "Assess airway immediately"},

	{"pregnant", "obstetric", models.SeverityLow, "Confirm pregnancy status before prescribing"},
	{"fever over", "infection", models.SeverityMedium, "Assess for sepsis criteria"},
	{"unintentional weight loss", "constitutional", models.SeverityMedium, "Evaluate for malignancy and endocrine causes"},
}

// highRiskMedications elevates a structural medium flag when present in the
// patient's medication list. Risk here is structural, not lexical: the drug
// name itself marks a narrow therapeutic window or a monitoring burden.
var highRiskMedications = []string{
	"warfarin",
	"insulin",
	"methotrexate",
	"lithium",
	"digoxin",
	"amiodarone",
	"clozapine",
	"apixaban",
	"rivaroxaban",
	"opioid",
	"oxycodone",
	"fentanyl",
}

// defaultAllergyThreshold is the allergy count above which a structural low
// flag is raised.
const defaultAllergyThreshold = 5

package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/clinicbridge/intake/internal/ai/aitest"
	"github.com/clinicbridge/intake/internal/database/testutil"
	"github.com/clinicbridge/intake/internal/models"
	apperrors "github.com/clinicbridge/intake/pkg/errors"
)

func submitTestIntake(t *testing.T, db *gorm.DB, responses string) *models.Intake {
	t.Helper()

	patient := createTestPatient(t, db)
	links := newTestLinkService(t, db)
	intakes := newTestIntakeService(t, db, links)

	issued := issueTestLink(t, links, patient.ID, false)
	result, err := intakes.Submit(context.Background(), issued.Token, SubmitInput{
		Responses: json.RawMessage(responses),
		Consent:   true,
	})
	require.NoError(t, err)
	return result.Intake
}

func newTestSummaryService(t *testing.T, db *gorm.DB, client *aitest.Client, opts ...SummaryOption) *SummaryService {
	t.Helper()

	svc, err := NewSummaryService(db, client, nil, opts...)
	require.NoError(t, err)
	return svc
}

const summaryResponses = `{
	"chief_complaint": "Crushing chest pain radiating to the left arm",
	"medications": ["warfarin", "lisinopril"],
	"medical_history": "Hypertension diagnosed 2019"
}`

func TestSummaryServiceGeneratePersistsSummary(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	intake := submitTestIntake(t, db, summaryResponses)

	client := &aitest.Client{Chunks: []string{
		"## Summary\nPatient reports crushing chest pain.\n",
		"## Red Flags\n**RED FLAG:** high: possible acute coronary syndrome\n",
	}}
	svc := newTestSummaryService(t, db, client)

	dto, err := svc.Generate(context.Background(), intake.ID)
	require.NoError(t, err)

	assert.Equal(t, intake.ID, dto.IntakeID)
	assert.Equal(t, "Crushing chest pain radiating to the left arm", dto.ChiefComplaint)
	assert.Equal(t, []string{"warfarin", "lisinopril"}, dto.Medications)
	assert.Contains(t, dto.RawText, "crushing chest pain")
	assert.Equal(t, "scripted-test-model", dto.Model)
	assert.Equal(t, 1, client.CompleteCalls)

	// Prompt carries the intake content but stays bounded.
	assert.Contains(t, client.LastPrompt, "Crushing chest pain")
	assert.Contains(t, client.LastPrompt, "warfarin")
}

func TestSummaryServiceMergesAIFlagsWithKeywordFlags(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	intake := submitTestIntake(t, db, summaryResponses)

	// The scanner already flagged chest pain at submission time.
	var keywordCount int64
	require.NoError(t, db.Model(&models.RedFlag{}).
		Where("intake_id = ? AND source = ?", intake.ID, models.SourceKeyword).
		Count(&keywordCount).Error)
	require.Greater(t, keywordCount, int64(0))

	client := &aitest.Client{Chunks: []string{
		"## Red Flags\n",
		"**RED FLAG:** high: patient on anticoagulants with cardiac symptoms\n",
	}}
	svc := newTestSummaryService(t, db, client)

	dto, err := svc.Generate(context.Background(), intake.ID)
	require.NoError(t, err)

	assert.True(t, dto.HasRedFlags)
	assert.EqualValues(t, keywordCount+1, dto.RedFlagCount)

	sources := map[models.FlagSource]int{}
	for _, flag := range dto.RedFlags {
		sources[flag.Source]++
	}
	assert.EqualValues(t, keywordCount, sources[models.SourceKeyword])
	assert.Equal(t, 1, sources[models.SourceAI])
}

func TestSummaryServiceRegenerateReplacesAIFlagsOnly(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	intake := submitTestIntake(t, db, summaryResponses)

	client := &aitest.Client{Chunks: []string{"**RED FLAG:** first concern\n"}}
	svc := newTestSummaryService(t, db, client)

	first, err := svc.Generate(context.Background(), intake.ID)
	require.NoError(t, err)

	client.Chunks = []string{"**RED FLAG:** second concern\n**RED FLAG:** third concern\n"}
	second, err := svc.Generate(context.Background(), intake.ID)
	require.NoError(t, err)

	// Same summary row, refreshed content.
	assert.Equal(t, first.ID, second.ID)

	var aiFlags []models.RedFlag
	require.NoError(t, db.Where("intake_id = ? AND source = ?", intake.ID, models.SourceAI).
		Find(&aiFlags).Error)
	require.Len(t, aiFlags, 2)
	for _, flag := range aiFlags {
		assert.NotEqual(t, "first concern", flag.Flag)
	}

	// Keyword flags survive regeneration untouched.
	var keywordFlags []models.RedFlag
	require.NoError(t, db.Where("intake_id = ? AND source = ?", intake.ID, models.SourceKeyword).
		Find(&keywordFlags).Error)
	assert.NotEmpty(t, keywordFlags)
}

func TestSummaryServiceWithoutClientFailsGeneration(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	intake := submitTestIntake(t, db, summaryResponses)

	svc, err := NewSummaryService(db, nil, nil)
	require.NoError(t, err)

	_, err = svc.Generate(context.Background(), intake.ID)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrGenerationFailed.Code, appErr.Code)

	_, err = svc.GenerateStream(context.Background(), intake.ID, func(string) error { return nil })
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrGenerationFailed.Code, appErr.Code)
}

func TestSummaryServiceGenerationFailureKeepsKeywordFlags(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	intake := submitTestIntake(t, db, summaryResponses)

	client := &aitest.Client{Err: errors.New("model unavailable")}
	svc := newTestSummaryService(t, db, client)

	_, err := svc.Generate(context.Background(), intake.ID)
	require.Error(t, err)

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrGenerationFailed.Code, appErr.Code)

	// No summary row, but the submission-time flags are intact.
	var summaryCount int64
	require.NoError(t, db.Model(&models.Summary{}).Count(&summaryCount).Error)
	assert.Zero(t, summaryCount)

	var flagCount int64
	require.NoError(t, db.Model(&models.RedFlag{}).
		Where("intake_id = ? AND source = ?", intake.ID, models.SourceKeyword).
		Count(&flagCount).Error)
	assert.Greater(t, flagCount, int64(0))
}

func TestSummaryServiceGenerateStreamForwardsChunks(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	intake := submitTestIntake(t, db, summaryResponses)

	client := &aitest.Client{Chunks: []string{"## Summary\n", "Chest pain ", "reported.\n"}}
	svc := newTestSummaryService(t, db, client)

	var received []string
	dto, err := svc.GenerateStream(context.Background(), intake.ID, func(chunk string) error {
		received = append(received, chunk)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, client.Chunks, received)
	assert.Equal(t, "## Summary\nChest pain reported.\n", dto.RawText)
}

func TestSummaryServiceStreamAbortLeavesNothingBehind(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	intake := submitTestIntake(t, db, summaryResponses)

	client := &aitest.Client{Chunks: []string{"chunk one", "chunk two", "chunk three"}}
	svc := newTestSummaryService(t, db, client)

	// The sink fails mid-stream, as when the browser disconnects.
	sinkErr := errors.New("client gone")
	_, err := svc.GenerateStream(context.Background(), intake.ID, func(chunk string) error {
		if chunk == "chunk two" {
			return sinkErr
		}
		return nil
	})
	require.ErrorIs(t, err, sinkErr)

	var summaryCount int64
	require.NoError(t, db.Model(&models.Summary{}).Count(&summaryCount).Error)
	assert.Zero(t, summaryCount)
}

func TestSummaryServiceStreamMidwayFailure(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	intake := submitTestIntake(t, db, summaryResponses)

	client := &aitest.Client{
		Chunks:    []string{"partial "},
		Err:       errors.New("upstream reset"),
		FailAfter: 1,
	}
	svc := newTestSummaryService(t, db, client)

	_, err := svc.GenerateStream(context.Background(), intake.ID, func(string) error { return nil })
	require.Error(t, err)

	var summaryCount int64
	require.NoError(t, db.Model(&models.Summary{}).Count(&summaryCount).Error)
	assert.Zero(t, summaryCount)
}

func TestSummaryServiceDoctorEditsOverlay(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	intake := submitTestIntake(t, db, summaryResponses)

	client := &aitest.Client{Chunks: []string{"generated summary text"}}
	svc := newTestSummaryService(t, db, client)

	dto, err := svc.Generate(context.Background(), intake.ID)
	require.NoError(t, err)

	edited, err := svc.ApplyDoctorEdits(context.Background(), dto.ID, map[string]string{
		"chief_complaint": "Chest pain, onset 3 days ago, radiating to left arm",
	}, "provider-1")
	require.NoError(t, err)

	// The overlay records the correction; the original field is untouched.
	assert.Equal(t, dto.ChiefComplaint, edited.ChiefComplaint)
	assert.Equal(t, "Chest pain, onset 3 days ago, radiating to left arm", edited.DoctorEdits["chief_complaint"])

	// Successive edits accumulate.
	edited, err = svc.ApplyDoctorEdits(context.Background(), dto.ID, map[string]string{
		"lifestyle": "Non-smoker",
	}, "provider-1")
	require.NoError(t, err)
	assert.Len(t, edited.DoctorEdits, 2)

	// Unknown fields are refused.
	_, err = svc.ApplyDoctorEdits(context.Background(), dto.ID, map[string]string{
		"model": "gpt-9",
	}, "provider-1")
	assert.Error(t, err)
}

func TestSummaryServiceRegenerateKeepsOverlay(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	intake := submitTestIntake(t, db, summaryResponses)

	client := &aitest.Client{Chunks: []string{"first run"}}
	svc := newTestSummaryService(t, db, client)

	dto, err := svc.Generate(context.Background(), intake.ID)
	require.NoError(t, err)

	_, err = svc.ApplyDoctorEdits(context.Background(), dto.ID, map[string]string{
		"raw_text": "corrected by provider",
	}, "provider-1")
	require.NoError(t, err)

	client.Chunks = []string{"second run"}
	regenerated, err := svc.Generate(context.Background(), intake.ID)
	require.NoError(t, err)

	assert.Equal(t, "second run", regenerated.RawText)
	assert.Equal(t, "corrected by provider", regenerated.DoctorEdits["raw_text"])
}

func TestSummaryServiceGetByIntake(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	intake := submitTestIntake(t, db, summaryResponses)

	client := &aitest.Client{Chunks: []string{"text"}}
	svc := newTestSummaryService(t, db, client)

	_, err := svc.GetByIntake(context.Background(), intake.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	generated, err := svc.Generate(context.Background(), intake.ID)
	require.NoError(t, err)

	loaded, err := svc.GetByIntake(context.Background(), intake.ID)
	require.NoError(t, err)
	assert.Equal(t, generated.ID, loaded.ID)
}

func TestExtractAIFlags(t *testing.T) {
	text := "## Red Flags\n" +
		"**RED FLAG:** high: suspected cardiac event\n" +
		"**RED FLAG:** interaction between warfarin and reported supplements\n" +
		"**RED FLAG:**\n" +
		"No other concerns.\n"

	findings := extractAIFlags(text)
	require.Len(t, findings, 2)

	assert.Equal(t, "suspected cardiac event", findings[0].Flag)
	assert.Equal(t, models.SeverityHigh, findings[0].Severity)
	assert.Equal(t, models.SeverityMedium, findings[1].Severity)
}

func TestDedupeAgainstKeywordFlags(t *testing.T) {
	keyword := []models.RedFlag{
		{Flag: "chest pain", Severity: models.SeverityHigh},
	}

	findings := extractAIFlags("**RED FLAG:** high: Chest Pain\n**RED FLAG:** low: mild dizziness\n")
	deduped := dedupeAgainst(findings, keyword)

	require.Len(t, deduped, 1)
	assert.Equal(t, "mild dizziness", deduped[0].Flag)
}

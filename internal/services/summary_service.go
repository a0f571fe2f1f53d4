package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/clinicbridge/intake/internal/ai"
	"github.com/clinicbridge/intake/internal/intakevalue"
	"github.com/clinicbridge/intake/internal/models"
	apperrors "github.com/clinicbridge/intake/pkg/errors"
	"github.com/clinicbridge/intake/pkg/logger"
	"github.com/clinicbridge/intake/pkg/metrics"
)

const defaultGenerationTimeout = 90 * time.Second

// SummaryOption customises the SummaryService.
type SummaryOption func(*SummaryService)

// WithSummaryClock injects a custom time source.
func WithSummaryClock(clock func() time.Time) SummaryOption {
	return func(s *SummaryService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithGenerationTimeout bounds each model call.
func WithGenerationTimeout(d time.Duration) SummaryOption {
	return func(s *SummaryService) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// SummaryService runs the AI summary pipeline: prompt building, model
// invocation (batch or streamed), merging model findings with the keyword
// scanner's flags, and persistence.
type SummaryService struct {
	db      *gorm.DB
	client  ai.Client
	audit   *AuditService
	now     func() time.Time
	timeout time.Duration
	log     *zap.Logger
}

// NewSummaryService constructs a SummaryService. A nil client is allowed so
// the link-lifecycle core can run without AI configured; generation calls
// then fail with GENERATION_FAILED.
func NewSummaryService(db *gorm.DB, client ai.Client, audit *AuditService, opts ...SummaryOption) (*SummaryService, error) {
	if db == nil {
		return nil, errors.New("summary service: db is required")
	}

	service := &SummaryService{
		db:      db,
		client:  client,
		audit:   audit,
		now:     time.Now,
		timeout: defaultGenerationTimeout,
		log:     logger.WithModule("summary"),
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// SummaryDTO is the provider-facing view of a summary.
type SummaryDTO struct {
	ID              string            `json:"id"`
	IntakeID        string            `json:"intake_id"`
	ChiefComplaint  string            `json:"chief_complaint"`
	Medications     []string          `json:"medications"`
	SystemsReview   string            `json:"systems_review"`
	RelevantHistory string            `json:"relevant_history"`
	Lifestyle       string            `json:"lifestyle"`
	RawText         string            `json:"raw_text"`
	RedFlags        []models.RedFlag  `json:"red_flags"`
	HasRedFlags     bool              `json:"has_red_flags"`
	RedFlagCount    int               `json:"red_flag_count"`
	DoctorEdits     map[string]string `json:"doctor_edits,omitempty"`
	Model           string            `json:"model,omitempty"`
	GeneratedAt     time.Time         `json:"generated_at"`
}

// Generate runs the batch pipeline for an intake and persists the result.
func (s *SummaryService) Generate(ctx context.Context, intakeID string) (*SummaryDTO, error) {
	ctx = ensureContext(ctx)

	if s.client == nil {
		return nil, apperrors.ErrGenerationFailed.WithInternal(errors.New("no ai client configured"))
	}

	intake, responses, err := s.loadIntake(ctx, intakeID)
	if err != nil {
		return nil, err
	}

	prompt := buildPrompt(responses, intake.Patient.DisplayName())

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	text, err := s.client.Complete(callCtx, ai.Request{
		System:      summarySystemPrompt,
		Prompt:      prompt,
		Temperature: 0.2,
	})
	if err != nil {
		metrics.SummaryGenerations.WithLabelValues("batch", "failure").Inc()
		s.log.Error("summary generation failed", zap.String("intake_id", intakeID), zap.Error(err))
		s.auditSummary(ctx, AuditSummaryFailed, intakeID, "failure")
		return nil, apperrors.ErrGenerationFailed.WithInternal(err)
	}

	dto, err := s.persist(ctx, intake, responses, text)
	if err != nil {
		return nil, err
	}

	metrics.SummaryGenerations.WithLabelValues("batch", "success").Inc()
	s.auditSummary(ctx, AuditSummaryGenerated, intakeID, "success")
	return dto, nil
}

// GenerateStream runs the streaming pipeline. Each model chunk is forwarded
// to sink as it arrives; the summary is persisted only after the final chunk.
// A cancelled context or failing sink closes the upstream stream and leaves
// no summary row behind.
func (s *SummaryService) GenerateStream(ctx context.Context, intakeID string, sink func(chunk string) error) (*SummaryDTO, error) {
	ctx = ensureContext(ctx)

	if s.client == nil {
		return nil, apperrors.ErrGenerationFailed.WithInternal(errors.New("no ai client configured"))
	}

	intake, responses, err := s.loadIntake(ctx, intakeID)
	if err != nil {
		return nil, err
	}

	prompt := buildPrompt(responses, intake.Patient.DisplayName())

	stream, err := s.client.Stream(ctx, ai.Request{
		System:      summarySystemPrompt,
		Prompt:      prompt,
		Temperature: 0.2,
	})
	if err != nil {
		metrics.SummaryGenerations.WithLabelValues("stream", "failure").Inc()
		s.auditSummary(ctx, AuditSummaryFailed, intakeID, "failure")
		return nil, apperrors.ErrGenerationFailed.WithInternal(err)
	}
	defer stream.Close()

	var full strings.Builder
	for {
		if err := ctx.Err(); err != nil {
			metrics.SummaryGenerations.WithLabelValues("stream", "cancelled").Inc()
			return nil, err
		}

		chunk, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				metrics.SummaryGenerations.WithLabelValues("stream", "cancelled").Inc()
				return nil, err
			}
			metrics.SummaryGenerations.WithLabelValues("stream", "failure").Inc()
			s.auditSummary(ctx, AuditSummaryFailed, intakeID, "failure")
			return nil, apperrors.ErrGenerationFailed.WithInternal(err)
		}

		full.WriteString(chunk)
		if err := sink(chunk); err != nil {
			// The client went away; abandon the run without persisting.
			metrics.SummaryGenerations.WithLabelValues("stream", "cancelled").Inc()
			return nil, err
		}
	}

	dto, err := s.persist(ctx, intake, responses, full.String())
	if err != nil {
		return nil, err
	}

	metrics.SummaryGenerations.WithLabelValues("stream", "success").Inc()
	s.auditSummary(ctx, AuditSummaryGenerated, intakeID, "success")
	return dto, nil
}

// GetByID loads a summary with its flags.
func (s *SummaryService) GetByID(ctx context.Context, id string) (*SummaryDTO, error) {
	ctx = ensureContext(ctx)

	var summary models.Summary
	if err := s.db.WithContext(ctx).First(&summary, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("summary service: load summary: %w", err)
	}
	return s.toDTO(ctx, &summary)
}

// GetByIntake loads the summary generated for an intake, if any.
func (s *SummaryService) GetByIntake(ctx context.Context, intakeID string) (*SummaryDTO, error) {
	ctx = ensureContext(ctx)

	var summary models.Summary
	if err := s.db.WithContext(ctx).First(&summary, "intake_id = ?", intakeID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("summary service: load summary: %w", err)
	}
	return s.toDTO(ctx, &summary)
}

// ApplyDoctorEdits records provider corrections as an overlay. The original
// AI-generated fields are never touched; the overlay is the only mutable part
// of a summary.
func (s *SummaryService) ApplyDoctorEdits(ctx context.Context, summaryID string, edits map[string]string, editorID string) (*SummaryDTO, error) {
	ctx = ensureContext(ctx)

	if len(edits) == 0 {
		return nil, apperrors.NewBadRequest("edits are required")
	}
	for field := range edits {
		if !editableFields[field] {
			return nil, apperrors.NewBadRequest(fmt.Sprintf("field %q is not editable", field))
		}
	}

	var summary models.Summary
	if err := s.db.WithContext(ctx).First(&summary, "id = ?", summaryID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("summary service: load summary: %w", err)
	}

	// Merge with any existing overlay so successive edits accumulate.
	merged := map[string]string{}
	if len(summary.DoctorEdits) > 0 {
		if err := json.Unmarshal(summary.DoctorEdits, &merged); err != nil {
			return nil, fmt.Errorf("summary service: decode overlay: %w", err)
		}
	}
	for field, value := range edits {
		merged[field] = value
	}

	encoded, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("summary service: encode overlay: %w", err)
	}

	if err := s.db.WithContext(ctx).Model(&summary).
		Update("doctor_edits", datatypes.JSON(encoded)).Error; err != nil {
		return nil, fmt.Errorf("summary service: store overlay: %w", err)
	}
	summary.DoctorEdits = datatypes.JSON(encoded)

	if s.audit != nil {
		actor := editorID
		_ = s.audit.Log(ctx, AuditEntry{
			ActorID:  &actor,
			Action:   AuditSummaryEdited,
			Resource: "summary",
			Result:   "success",
			Metadata: map[string]any{"summary_id": summary.ID, "fields": keysOf(edits)},
		})
	}

	return s.toDTO(ctx, &summary)
}

// editableFields lists the summary fields a provider may overlay.
var editableFields = map[string]bool{
	"chief_complaint":  true,
	"systems_review":   true,
	"relevant_history": true,
	"lifestyle":        true,
	"raw_text":         true,
}

func (s *SummaryService) loadIntake(ctx context.Context, intakeID string) (*models.Intake, intakevalue.Value, error) {
	var intake models.Intake
	if err := s.db.WithContext(ctx).
		Preload("Patient").
		First(&intake, "id = ?", strings.TrimSpace(intakeID)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, intakevalue.Value{}, apperrors.ErrNotFound
		}
		return nil, intakevalue.Value{}, fmt.Errorf("summary service: load intake: %w", err)
	}

	responses, err := intakevalue.Parse(intake.Responses)
	if err != nil {
		return nil, intakevalue.Value{}, fmt.Errorf("summary service: decode responses: %w", err)
	}

	return &intake, responses, nil
}

// persist writes the summary and its ai-derived flags atomically.
// Regeneration replaces the previous AI output and ai flags while preserving
// keyword flags and any doctor-edits overlay.
func (s *SummaryService) persist(ctx context.Context, intake *models.Intake, responses intakevalue.Value, text string) (*SummaryDTO, error) {
	now := s.now()

	medications := responses.StringsAt("medications")
	medsJSON, err := json.Marshal(medications)
	if err != nil {
		return nil, fmt.Errorf("summary service: encode medications: %w", err)
	}

	aiFindings := extractAIFlags(text)

	var summary models.Summary
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing := models.Summary{}
		found := true
		if err := tx.First(&existing, "intake_id = ?", intake.ID).Error; err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("load existing summary: %w", err)
			}
			found = false
		}

		if found {
			// Regeneration: refresh AI fields in place, keep the overlay.
			updates := map[string]any{
				"chief_complaint":  responses.StringAt("chief_complaint"),
				"medications":      datatypes.JSON(medsJSON),
				"systems_review":   sectionOrField(responses, "systems_review"),
				"relevant_history": sectionOrField(responses, "medical_history"),
				"lifestyle":        sectionOrField(responses, "lifestyle"),
				"raw_text":         text,
				"model":            s.client.Model(),
				"generated_at":     now,
			}
			if err := tx.Model(&existing).Updates(updates).Error; err != nil {
				return fmt.Errorf("update summary: %w", err)
			}
			if err := tx.Where("summary_id = ? AND source = ?", existing.ID, models.SourceAI).
				Delete(&models.RedFlag{}).Error; err != nil {
				return fmt.Errorf("clear prior ai flags: %w", err)
			}
			summary = existing
			summary.RawText = text
			summary.GeneratedAt = now
		} else {
			summary = models.Summary{
				IntakeID:        intake.ID,
				ChiefComplaint:  responses.StringAt("chief_complaint"),
				Medications:     datatypes.JSON(medsJSON),
				SystemsReview:   sectionOrField(responses, "systems_review"),
				RelevantHistory: sectionOrField(responses, "medical_history"),
				Lifestyle:       sectionOrField(responses, "lifestyle"),
				RawText:         text,
				Model:           s.client.Model(),
				GeneratedAt:     now,
			}
			if err := tx.Create(&summary).Error; err != nil {
				return fmt.Errorf("create summary: %w", err)
			}
		}

		// Keyword flags are the system of record: attach them to the summary
		// without ever rewriting their content.
		if err := tx.Model(&models.RedFlag{}).
			Where("intake_id = ? AND source = ?", intake.ID, models.SourceKeyword).
			Update("summary_id", summary.ID).Error; err != nil {
			return fmt.Errorf("attach keyword flags: %w", err)
		}

		var keywordFlags []models.RedFlag
		if err := tx.Where("intake_id = ? AND source = ?", intake.ID, models.SourceKeyword).
			Find(&keywordFlags).Error; err != nil {
			return fmt.Errorf("load keyword flags: %w", err)
		}

		// AI findings are additive; anything the scanner already flagged is
		// dropped rather than duplicated.
		for _, finding := range dedupeAgainst(aiFindings, keywordFlags) {
			id := summary.ID
			flag := models.RedFlag{
				IntakeID:  intake.ID,
				SummaryID: &id,
				Flag:      finding.Flag,
				Severity:  finding.Severity,
				Details:   finding.Details,
				Source:    models.SourceAI,
			}
			if err := tx.Create(&flag).Error; err != nil {
				return fmt.Errorf("persist ai flag: %w", err)
			}
			metrics.RedFlags.WithLabelValues(string(flag.Severity), string(flag.Source)).Inc()
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("summary service: %w", err)
	}

	return s.toDTO(ctx, &summary)
}

func (s *SummaryService) toDTO(ctx context.Context, summary *models.Summary) (*SummaryDTO, error) {
	var flags []models.RedFlag
	if err := s.db.WithContext(ctx).
		Where("summary_id = ?", summary.ID).
		Order("created_at ASC").
		Find(&flags).Error; err != nil {
		return nil, fmt.Errorf("summary service: load flags: %w", err)
	}

	var medications []string
	if len(summary.Medications) > 0 {
		_ = json.Unmarshal(summary.Medications, &medications)
	}

	var edits map[string]string
	if len(summary.DoctorEdits) > 0 {
		_ = json.Unmarshal(summary.DoctorEdits, &edits)
	}

	return &SummaryDTO{
		ID:              summary.ID,
		IntakeID:        summary.IntakeID,
		ChiefComplaint:  summary.ChiefComplaint,
		Medications:     medications,
		SystemsReview:   summary.SystemsReview,
		RelevantHistory: summary.RelevantHistory,
		Lifestyle:       summary.Lifestyle,
		RawText:         summary.RawText,
		RedFlags:        flags,
		HasRedFlags:     len(flags) > 0,
		RedFlagCount:    len(flags),
		DoctorEdits:     edits,
		Model:           summary.Model,
		GeneratedAt:     summary.GeneratedAt,
	}, nil
}

func (s *SummaryService) auditSummary(ctx context.Context, action, intakeID, result string) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Log(ctx, AuditEntry{
		Action:   action,
		Resource: "summary",
		Result:   result,
		Metadata: map[string]any{"intake_id": intakeID},
	})
}

func sectionOrField(responses intakevalue.Value, key string) string {
	if value, ok := responses.Get(key); ok {
		return value.Render()
	}
	return ""
}

func keysOf(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

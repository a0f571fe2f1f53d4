package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/clinicbridge/intake/internal/intakevalue"
	"github.com/clinicbridge/intake/internal/models"
	"github.com/clinicbridge/intake/internal/scanner"
	apperrors "github.com/clinicbridge/intake/pkg/errors"
	"github.com/clinicbridge/intake/pkg/logger"
	"github.com/clinicbridge/intake/pkg/metrics"
)

// SummaryEnqueuer accepts intake ids for asynchronous summary generation.
// The worker pool implements it; tests supply a recorder.
type SummaryEnqueuer interface {
	Enqueue(intakeID string)
}

// IntakeOption customises the IntakeService.
type IntakeOption func(*IntakeService)

// WithIntakeClock injects a custom time source.
func WithIntakeClock(clock func() time.Time) IntakeOption {
	return func(s *IntakeService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithSummaryQueue wires the asynchronous summary pipeline.
func WithSummaryQueue(queue SummaryEnqueuer) IntakeOption {
	return func(s *IntakeService) {
		s.queue = queue
	}
}

// IntakeService is the submission gate: it enforces single consumption of a
// link and creates the intake record.
type IntakeService struct {
	db      *gorm.DB
	links   *LinkService
	scanner *scanner.Scanner
	audit   *AuditService
	queue   SummaryEnqueuer
	now     func() time.Time
	log     *zap.Logger
}

// NewIntakeService constructs an IntakeService.
func NewIntakeService(db *gorm.DB, links *LinkService, scan *scanner.Scanner, audit *AuditService, opts ...IntakeOption) (*IntakeService, error) {
	if db == nil {
		return nil, errors.New("intake service: db is required")
	}
	if links == nil {
		return nil, errors.New("intake service: link service is required")
	}
	if scan == nil {
		scan = scanner.New()
	}

	service := &IntakeService{
		db:      db,
		links:   links,
		scanner: scan,
		audit:   audit,
		now:     time.Now,
		log:     logger.WithModule("intake"),
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// SubmitInput is one intake submission.
type SubmitInput struct {
	Responses json.RawMessage
	Consent   bool
}

// SubmitResult reports the created intake and the keyword findings persisted
// with it.
type SubmitResult struct {
	Intake   *models.Intake
	RedFlags []models.RedFlag
}

// Submit consumes an intake link exactly once. Preconditions run in a fixed
// order with distinct errors; the used_at stamp and the intake insert commit
// atomically, guarded by a compare-and-swap on used_at so two concurrent
// submissions yield one success and one AlreadyUsed.
func (s *IntakeService) Submit(ctx context.Context, token string, input SubmitInput) (*SubmitResult, error) {
	ctx = ensureContext(ctx)

	link, err := s.links.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}

	now := s.now()
	switch link.StateAt(now) {
	case models.LinkStateExpired:
		metrics.Submissions.WithLabelValues("rejected").Inc()
		return nil, apperrors.ErrLinkExpired
	case models.LinkStateLocked:
		metrics.Submissions.WithLabelValues("rejected").Inc()
		return nil, apperrors.ErrLinkLocked
	case models.LinkStateUsed:
		metrics.Submissions.WithLabelValues("rejected").Inc()
		return nil, apperrors.ErrLinkAlreadyUsed
	}

	if !s.links.verificationSatisfied(link) {
		metrics.Submissions.WithLabelValues("rejected").Inc()
		return nil, apperrors.ErrVerificationRequired
	}
	if !input.Consent {
		metrics.Submissions.WithLabelValues("rejected").Inc()
		return nil, apperrors.ErrConsentRequired
	}

	if len(input.Responses) == 0 {
		metrics.Submissions.WithLabelValues("rejected").Inc()
		return nil, apperrors.NewBadRequest("responses are required")
	}
	parsed, err := intakevalue.Parse(input.Responses)
	if err != nil || parsed.Kind() != intakevalue.KindMap {
		metrics.Submissions.WithLabelValues("rejected").Inc()
		return nil, apperrors.NewBadRequest("responses must be a JSON object")
	}

	// The scanner is deterministic and bounded, so it can run before the
	// transaction; its findings are persisted atomically with the intake.
	findings := s.scanner.Scan(scanner.ExtractInput(parsed))

	intake := models.Intake{
		PatientID:        link.PatientID,
		IntakeLinkID:     link.ID,
		Responses:        datatypes.JSON(input.Responses),
		ConsentGiven:     true,
		ConsentTimestamp: now,
		CompletedAt:      now,
	}

	var flags []models.RedFlag
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Compare-and-swap on used_at. A lost race means another submission
		// already consumed the link between our read and this write.
		result := tx.Model(&models.IntakeLink{}).
			Where("id = ? AND used_at IS NULL", link.ID).
			Update("used_at", now)
		if result.Error != nil {
			return fmt.Errorf("consume link: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return apperrors.ErrLinkAlreadyUsed
		}

		if err := tx.Create(&intake).Error; err != nil {
			return fmt.Errorf("create intake: %w", err)
		}

		for _, finding := range findings {
			flag := models.RedFlag{
				IntakeID:       intake.ID,
				Flag:           finding.Flag,
				Severity:       finding.Severity,
				Details:        finding.Details,
				Recommendation: finding.Recommendation,
				Source:         models.SourceKeyword,
			}
			if err := tx.Create(&flag).Error; err != nil {
				return fmt.Errorf("persist red flag: %w", err)
			}
			flags = append(flags, flag)
		}
		return nil
	})
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			metrics.Submissions.WithLabelValues("rejected").Inc()
			return nil, appErr
		}
		return nil, fmt.Errorf("intake service: %w", err)
	}

	metrics.Submissions.WithLabelValues("accepted").Inc()
	for _, flag := range flags {
		metrics.RedFlags.WithLabelValues(string(flag.Severity), string(flag.Source)).Inc()
	}

	s.log.Info("intake submitted",
		logger.TokenField(link.TokenDigest),
		zap.String("intake_id", intake.ID),
		zap.Int("red_flags", len(flags)),
	)
	if s.audit != nil {
		_ = s.audit.Log(ctx, AuditEntry{
			Action:   AuditIntakeSubmitted,
			Resource: "intake",
			Result:   "success",
			Metadata: map[string]any{
				"token_digest": link.TokenDigest,
				"intake_id":    intake.ID,
				"red_flags":    len(flags),
			},
		})
	}

	if s.queue != nil {
		s.queue.Enqueue(intake.ID)
	}

	return &SubmitResult{Intake: &intake, RedFlags: flags}, nil
}

// GetByID returns an intake with its keyword and ai flags for provider review.
func (s *IntakeService) GetByID(ctx context.Context, id string) (*models.Intake, []models.RedFlag, error) {
	ctx = ensureContext(ctx)

	var intake models.Intake
	if err := s.db.WithContext(ctx).
		Preload("Patient").
		First(&intake, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, apperrors.ErrNotFound
		}
		return nil, nil, fmt.Errorf("intake service: load intake: %w", err)
	}

	var flags []models.RedFlag
	if err := s.db.WithContext(ctx).
		Where("intake_id = ?", intake.ID).
		Order("created_at ASC").
		Find(&flags).Error; err != nil {
		return nil, nil, fmt.Errorf("intake service: load red flags: %w", err)
	}

	return &intake, flags, nil
}

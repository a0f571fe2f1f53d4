package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/clinicbridge/intake/internal/models"
	"github.com/clinicbridge/intake/pkg/crypto"
	apperrors "github.com/clinicbridge/intake/pkg/errors"
	"github.com/clinicbridge/intake/pkg/logger"
	"github.com/clinicbridge/intake/pkg/metrics"
)

const (
	defaultLinkTokenBytes    = crypto.LinkTokenBytes
	defaultMaxVerifyAttempts = 3
	// Once verified, a link stays verified for its remaining life unless a
	// re-verification window is configured.
	defaultReverifyAfter = time.Duration(0)
)

// LinkOption customises the LinkService.
type LinkOption func(*LinkService)

// WithLinkClock injects a custom time source.
func WithLinkClock(clock func() time.Time) LinkOption {
	return func(s *LinkService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithLinkBaseURL sets the public base URL used to build patient-facing links.
func WithLinkBaseURL(url string) LinkOption {
	return func(s *LinkService) {
		s.baseURL = strings.TrimRight(url, "/")
	}
}

// WithLinkTokenSize adjusts the number of random bytes in generated tokens.
func WithLinkTokenSize(size int) LinkOption {
	return func(s *LinkService) {
		if size > 0 {
			s.tokenBytes = size
		}
	}
}

// WithMaxVerificationAttempts overrides the lockout threshold.
func WithMaxVerificationAttempts(n int) LinkOption {
	return func(s *LinkService) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithReverifyAfter makes a previously successful verification expire after
// the given idle window, forcing the patient to re-verify. Zero disables the
// window: once verified, a link stays verified until it is consumed.
func WithReverifyAfter(d time.Duration) LinkOption {
	return func(s *LinkService) {
		if d >= 0 {
			s.reverifyAfter = d
		}
	}
}

// LinkService issues intake links and enforces the verification state
// machine. All mutations go through guarded single-row updates so any number
// of request workers can race safely on the same link.
type LinkService struct {
	db            *gorm.DB
	audit         *AuditService
	now           func() time.Time
	baseURL       string
	tokenBytes    int
	maxAttempts   int
	reverifyAfter time.Duration
	log           *zap.Logger
}

// NewLinkService constructs a LinkService.
func NewLinkService(db *gorm.DB, audit *AuditService, opts ...LinkOption) (*LinkService, error) {
	if db == nil {
		return nil, errors.New("link service: db is required")
	}

	service := &LinkService{
		db:            db,
		audit:         audit,
		now:           time.Now,
		tokenBytes:    defaultLinkTokenBytes,
		maxAttempts:   defaultMaxVerifyAttempts,
		reverifyAfter: defaultReverifyAfter,
		log:           logger.WithModule("links"),
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// IssueLinkInput describes a link creation request.
type IssueLinkInput struct {
	PatientID            string
	TTL                  time.Duration
	RequiresVerification bool
	IssuedBy             string
}

// IssuedLink is the one-time issuance result. Token is the only copy of the
// raw secret the system ever produces.
type IssuedLink struct {
	Link  *models.IntakeLink
	Token string
	URL   string
}

// Issue creates a new intake link for a patient, superseding any link that is
// still active so at most one live link exists per patient.
func (s *LinkService) Issue(ctx context.Context, input IssueLinkInput) (*IssuedLink, error) {
	ctx = ensureContext(ctx)

	patientID := strings.TrimSpace(input.PatientID)
	if patientID == "" {
		return nil, apperrors.NewBadRequest("patient id is required")
	}
	if input.TTL <= 0 {
		return nil, apperrors.NewBadRequest("link ttl must be positive")
	}

	var patient models.Patient
	if err := s.db.WithContext(ctx).First(&patient, "id = ?", patientID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewBadRequest("unknown patient")
		}
		return nil, fmt.Errorf("link service: lookup patient: %w", err)
	}

	token, err := crypto.GenerateLinkToken(s.tokenBytes)
	if err != nil {
		return nil, fmt.Errorf("link service: generate token: %w", err)
	}

	now := s.now()
	link := models.IntakeLink{
		PatientID:            patient.ID,
		TokenDigest:          crypto.TokenDigest(token),
		ExpiresAt:            now.Add(input.TTL),
		RequiresVerification: input.RequiresVerification,
		CreatedBy:            strings.TrimSpace(input.IssuedBy),
	}

	var superseded int64
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Retire any link still live for this patient. The guard clauses keep
		// used and locked rows untouched; those are already terminal.
		result := tx.Model(&models.IntakeLink{}).
			Where("patient_id = ?", patient.ID).
			Where("used_at IS NULL AND locked_at IS NULL AND superseded_at IS NULL").
			Where("expires_at > ?", now).
			Update("superseded_at", now)
		if result.Error != nil {
			return fmt.Errorf("supersede prior links: %w", result.Error)
		}
		superseded = result.RowsAffected

		if err := tx.Create(&link).Error; err != nil {
			return fmt.Errorf("create link: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("link service: %w", err)
	}

	metrics.LinksIssued.Inc()
	s.log.Info("intake link issued",
		logger.TokenField(link.TokenDigest),
		zap.String("patient_id", patient.ID),
		zap.Time("expires_at", link.ExpiresAt),
		zap.Int64("superseded", superseded),
	)
	s.auditLog(ctx, AuditLinkIssued, link.TokenDigest, "success", map[string]any{
		"patient_id": patient.ID,
		"superseded": superseded,
	})

	link.Patient = &patient
	return &IssuedLink{
		Link:  &link,
		Token: token,
		URL:   s.linkURL(token),
	}, nil
}

// Resolve loads a link by raw token. Unknown tokens map to NotFound without
// revealing whether the token ever existed.
func (s *LinkService) Resolve(ctx context.Context, token string) (*models.IntakeLink, error) {
	ctx = ensureContext(ctx)

	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apperrors.ErrNotFound
	}

	var link models.IntakeLink
	if err := s.db.WithContext(ctx).
		Preload("Patient").
		Where("token_digest = ?", crypto.TokenDigest(token)).
		First(&link).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("link service: find token: %w", err)
	}

	return &link, nil
}

// LinkInfo is the public view of an active link.
type LinkInfo struct {
	PatientName          string    `json:"patient_name"`
	ExpiresAt            time.Time `json:"expires_at"`
	RequiresVerification bool      `json:"requires_verification"`
	Verified             bool      `json:"verified"`
}

// Inspect returns display info for an active link, or the terminal lifecycle
// error for anything else.
func (s *LinkService) Inspect(ctx context.Context, token string) (*LinkInfo, error) {
	link, err := s.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}

	if err := s.stateError(link); err != nil {
		return nil, err
	}

	return &LinkInfo{
		PatientName:          link.Patient.DisplayName(),
		ExpiresAt:            link.ExpiresAt,
		RequiresVerification: link.RequiresVerification,
		Verified:             s.verificationSatisfied(link),
	}, nil
}

// VerificationResult is the outcome of one verification attempt.
type VerificationResult struct {
	Accepted          bool `json:"accepted"`
	AttemptsRemaining int  `json:"attempts_remaining"`
	Locked            bool `json:"locked"`
}

// Verify checks the shared secret (date of birth) against the link's patient.
// Wrong answers increment the attempt counter; reaching the threshold locks
// the link permanently. The counter never resets.
func (s *LinkService) Verify(ctx context.Context, token, sharedSecret string) (*VerificationResult, error) {
	ctx = ensureContext(ctx)

	link, err := s.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}

	now := s.now()
	switch link.StateAt(now) {
	case models.LinkStateUsed:
		return nil, apperrors.ErrLinkAlreadyUsed
	case models.LinkStateExpired:
		return nil, apperrors.ErrLinkExpired
	case models.LinkStateLocked:
		metrics.VerificationAttempts.WithLabelValues("locked").Inc()
		return &VerificationResult{Accepted: false, AttemptsRemaining: 0, Locked: true}, nil
	}

	if !link.RequiresVerification {
		return &VerificationResult{Accepted: true, AttemptsRemaining: s.maxAttempts - link.VerificationAttempts}, nil
	}

	if s.secretMatches(link, sharedSecret) {
		if err := s.db.WithContext(ctx).Model(&models.IntakeLink{}).
			Where("id = ? AND used_at IS NULL AND locked_at IS NULL", link.ID).
			Update("verified_at", now).Error; err != nil {
			return nil, fmt.Errorf("link service: mark verified: %w", err)
		}

		metrics.VerificationAttempts.WithLabelValues("accepted").Inc()
		s.auditLog(ctx, AuditLinkVerified, link.TokenDigest, "success", nil)
		return &VerificationResult{
			Accepted:          true,
			AttemptsRemaining: max(0, s.maxAttempts-link.VerificationAttempts),
		}, nil
	}

	// Guarded increment: concurrent wrong guesses each consume an attempt and
	// the threshold check below runs against the re-read counter, so two
	// racing requests cannot both land on attempt N.
	if err := s.db.WithContext(ctx).Model(&models.IntakeLink{}).
		Where("id = ? AND used_at IS NULL AND locked_at IS NULL", link.ID).
		Update("verification_attempts", gorm.Expr("verification_attempts + 1")).Error; err != nil {
		return nil, fmt.Errorf("link service: record attempt: %w", err)
	}

	var fresh models.IntakeLink
	if err := s.db.WithContext(ctx).
		Select("verification_attempts").
		First(&fresh, "id = ?", link.ID).Error; err != nil {
		return nil, fmt.Errorf("link service: reload attempts: %w", err)
	}
	attempts := fresh.VerificationAttempts

	if attempts >= s.maxAttempts {
		result := s.db.WithContext(ctx).Model(&models.IntakeLink{}).
			Where("id = ? AND locked_at IS NULL", link.ID).
			Update("locked_at", now)
		if result.Error != nil {
			return nil, fmt.Errorf("link service: lock link: %w", result.Error)
		}
		if result.RowsAffected > 0 {
			s.log.Warn("intake link locked", logger.TokenField(link.TokenDigest), zap.Int("attempts", attempts))
			s.auditLog(ctx, AuditLinkLocked, link.TokenDigest, "locked", map[string]any{"attempts": attempts})
		}

		metrics.VerificationAttempts.WithLabelValues("locked").Inc()
		return &VerificationResult{Accepted: false, AttemptsRemaining: 0, Locked: true}, nil
	}

	metrics.VerificationAttempts.WithLabelValues("rejected").Inc()
	s.auditLog(ctx, AuditLinkVerifyRejected, link.TokenDigest, "rejected", map[string]any{"attempts": attempts})
	return &VerificationResult{
		Accepted:          false,
		AttemptsRemaining: max(0, s.maxAttempts-attempts),
	}, nil
}

// ListForPatient returns all links ever issued for a patient, newest first.
// Rows are retained indefinitely for audit.
func (s *LinkService) ListForPatient(ctx context.Context, patientID string) ([]models.IntakeLink, error) {
	ctx = ensureContext(ctx)

	var links []models.IntakeLink
	if err := s.db.WithContext(ctx).
		Where("patient_id = ?", patientID).
		Order("created_at DESC").
		Find(&links).Error; err != nil {
		return nil, fmt.Errorf("link service: list links: %w", err)
	}
	return links, nil
}

// CountActive reports how many links are currently active, for the metrics
// sweep in maintenance.
func (s *LinkService) CountActive(ctx context.Context) (int64, error) {
	ctx = ensureContext(ctx)

	var count int64
	err := s.db.WithContext(ctx).Model(&models.IntakeLink{}).
		Where("used_at IS NULL AND locked_at IS NULL AND superseded_at IS NULL").
		Where("expires_at > ?", s.now()).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("link service: count active: %w", err)
	}
	return count, nil
}

// stateError maps a non-active link state to its terminal error.
func (s *LinkService) stateError(link *models.IntakeLink) error {
	switch link.StateAt(s.now()) {
	case models.LinkStateUsed:
		return apperrors.ErrLinkAlreadyUsed
	case models.LinkStateExpired:
		return apperrors.ErrLinkExpired
	case models.LinkStateLocked:
		return apperrors.ErrLinkLocked
	default:
		return nil
	}
}

// verificationSatisfied reports whether the link's verification requirement
// is met right now, honouring the optional re-verification window.
func (s *LinkService) verificationSatisfied(link *models.IntakeLink) bool {
	if !link.RequiresVerification {
		return true
	}
	if link.VerifiedAt == nil {
		return false
	}
	if s.reverifyAfter > 0 && s.now().Sub(*link.VerifiedAt) > s.reverifyAfter {
		return false
	}
	return true
}

// secretMatches compares the presented shared secret with the patient's date
// of birth, tolerating whitespace and requiring YYYY-MM-DD form.
func (s *LinkService) secretMatches(link *models.IntakeLink, secret string) bool {
	if link.Patient == nil {
		return false
	}

	presented := strings.TrimSpace(secret)
	if _, err := time.Parse("2006-01-02", presented); err != nil {
		return false
	}

	return crypto.ConstantTimeEquals(link.Patient.DateOfBirth, presented)
}

func (s *LinkService) linkURL(token string) string {
	if s.baseURL == "" {
		return "/intake/" + token
	}
	return fmt.Sprintf("%s/intake/%s", s.baseURL, token)
}

func (s *LinkService) auditLog(ctx context.Context, action, tokenDigest, result string, metadata map[string]any) {
	if s.audit == nil {
		return
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata["token_digest"] = tokenDigest

	if err := s.audit.Log(ctx, AuditEntry{
		Action:   action,
		Resource: "intake_link",
		Result:   result,
		Metadata: metadata,
	}); err != nil {
		s.log.Warn("audit write failed", zap.Error(err))
	}
}

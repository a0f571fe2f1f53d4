package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/clinicbridge/intake/internal/models"
)

// Audit actions recorded across the link lifecycle and summary pipeline.
const (
	AuditLinkIssued         = "link.issued"
	AuditLinkSuperseded     = "link.superseded"
	AuditLinkVerified       = "link.verified"
	AuditLinkVerifyRejected = "link.verify_rejected"
	AuditLinkLocked         = "link.locked"
	AuditIntakeSubmitted    = "intake.submitted"
	AuditSummaryGenerated   = "summary.generated"
	AuditSummaryFailed      = "summary.failed"
	AuditSummaryEdited      = "summary.edited"
	AuditPatientCreated     = "patient.created"
	AuditPatientUpdated     = "patient.updated"
	AuditProviderLogin      = "provider.login"
)

// AuditEntry captures a single audit event to persist. Metadata carries token
// digests where relevant; raw tokens must never appear here.
type AuditEntry struct {
	ActorID   *string
	Actor     string
	Action    string
	Resource  string
	Result    string
	IPAddress string
	Metadata  map[string]any
}

// AuditFilters encapsulates optional filters when querying audit logs.
type AuditFilters struct {
	Action   string
	Resource string
	Result   string
	Since    *time.Time
	Until    *time.Time
}

// AuditListOptions controls pagination and filtering for audit queries.
type AuditListOptions struct {
	Page     int
	PageSize int
	Filters  AuditFilters
}

// AuditService persists and retrieves audit log entries.
type AuditService struct {
	db *gorm.DB
}

// NewAuditService constructs an AuditService using the provided database handle.
func NewAuditService(db *gorm.DB) (*AuditService, error) {
	if db == nil {
		return nil, errors.New("audit service: db is required")
	}
	return &AuditService{db: db}, nil
}

// Log stores an audit entry, marshalling metadata into JSON form.
func (s *AuditService) Log(ctx context.Context, entry AuditEntry) error {
	ctx = ensureContext(ctx)

	if strings.TrimSpace(entry.Action) == "" {
		return errors.New("audit service: action is required")
	}
	if strings.TrimSpace(entry.Result) == "" {
		return errors.New("audit service: result is required")
	}

	payload := ""
	if entry.Metadata != nil {
		encoded, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("audit service: marshal metadata: %w", err)
		}
		payload = string(encoded)
	}

	log := models.AuditLog{
		Action:    strings.TrimSpace(entry.Action),
		Resource:  strings.TrimSpace(entry.Resource),
		Result:    strings.TrimSpace(entry.Result),
		Actor:     strings.TrimSpace(entry.Actor),
		IPAddress: strings.TrimSpace(entry.IPAddress),
		Metadata:  payload,
	}

	if entry.ActorID != nil && strings.TrimSpace(*entry.ActorID) != "" {
		id := strings.TrimSpace(*entry.ActorID)
		log.ActorID = &id
	}

	return s.db.WithContext(ctx).Create(&log).Error
}

// List returns paginated audit logs ordered by creation time descending.
func (s *AuditService) List(ctx context.Context, opts AuditListOptions) ([]models.AuditLog, int64, error) {
	ctx = ensureContext(ctx)

	page := opts.Page
	if page <= 0 {
		page = 1
	}
	perPage := opts.PageSize
	if perPage <= 0 || perPage > 200 {
		perPage = 50
	}

	query := s.db.WithContext(ctx).Model(&models.AuditLog{})
	if f := opts.Filters; true {
		if f.Action != "" {
			query = query.Where("action = ?", f.Action)
		}
		if f.Resource != "" {
			query = query.Where("resource = ?", f.Resource)
		}
		if f.Result != "" {
			query = query.Where("result = ?", f.Result)
		}
		if f.Since != nil {
			query = query.Where("created_at >= ?", *f.Since)
		}
		if f.Until != nil {
			query = query.Where("created_at <= ?", *f.Until)
		}
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("audit service: count: %w", err)
	}

	var results []models.AuditLog
	if err := query.
		Order("created_at DESC").
		Limit(perPage).
		Offset((page - 1) * perPage).
		Find(&results).Error; err != nil {
		return nil, 0, fmt.Errorf("audit service: list: %w", err)
	}

	return results, total, nil
}

// PruneOlderThan deletes audit logs created before the cutoff and returns the
// number removed. Used by the maintenance cleaner.
func (s *AuditService) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx = ensureContext(ctx)

	result := s.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&models.AuditLog{})
	if result.Error != nil {
		return 0, fmt.Errorf("audit service: prune: %w", result.Error)
	}
	return result.RowsAffected, nil
}

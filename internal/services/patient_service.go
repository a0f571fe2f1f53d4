package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/clinicbridge/intake/internal/models"
	apperrors "github.com/clinicbridge/intake/pkg/errors"
)

// CreatePatientInput describes the fields accepted when registering a patient.
type CreatePatientInput struct {
	FirstName   string
	LastName    string
	DateOfBirth string
	Email       string
	Phone       string
}

// UpdatePatientInput enumerates mutable patient attributes. Nil fields are
// left unchanged.
type UpdatePatientInput struct {
	FirstName   *string
	LastName    *string
	DateOfBirth *string
	Email       *string
	Phone       *string
}

// ListPatientsOptions controls pagination and filtering for patient listing.
type ListPatientsOptions struct {
	Page     int
	PageSize int
	Query    string
}

// PatientService manages provider-side patient records. Date of birth is the
// shared secret intake links verify against, so it is validated strictly at
// the edge and stored in canonical YYYY-MM-DD form.
type PatientService struct {
	db    *gorm.DB
	audit *AuditService
}

// NewPatientService constructs a PatientService instance.
func NewPatientService(db *gorm.DB, audit *AuditService) (*PatientService, error) {
	if db == nil {
		return nil, errors.New("patient service: db is required")
	}
	return &PatientService{db: db, audit: audit}, nil
}

// Create registers a new patient record.
func (s *PatientService) Create(ctx context.Context, input CreatePatientInput) (*models.Patient, error) {
	ctx = ensureContext(ctx)

	firstName := strings.TrimSpace(input.FirstName)
	lastName := strings.TrimSpace(input.LastName)
	if firstName == "" && lastName == "" {
		return nil, apperrors.NewBadRequest("patient name is required")
	}

	dob, err := canonicalDateOfBirth(input.DateOfBirth)
	if err != nil {
		return nil, err
	}

	patient := &models.Patient{
		FirstName:   firstName,
		LastName:    lastName,
		DateOfBirth: dob,
		Email:       strings.ToLower(strings.TrimSpace(input.Email)),
		Phone:       strings.TrimSpace(input.Phone),
	}

	if err := s.db.WithContext(ctx).Create(patient).Error; err != nil {
		return nil, fmt.Errorf("patient service: create: %w", err)
	}

	s.auditPatient(ctx, AuditPatientCreated, patient.ID)
	return patient, nil
}

// GetByID loads a single patient record.
func (s *PatientService) GetByID(ctx context.Context, id string) (*models.Patient, error) {
	ctx = ensureContext(ctx)

	var patient models.Patient
	err := s.db.WithContext(ctx).First(&patient, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("patient service: load: %w", err)
	}
	return &patient, nil
}

// Update applies partial changes to a patient record.
func (s *PatientService) Update(ctx context.Context, id string, input UpdatePatientInput) (*models.Patient, error) {
	ctx = ensureContext(ctx)

	patient, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if input.FirstName != nil {
		updates["first_name"] = strings.TrimSpace(*input.FirstName)
	}
	if input.LastName != nil {
		updates["last_name"] = strings.TrimSpace(*input.LastName)
	}
	if input.DateOfBirth != nil {
		dob, err := canonicalDateOfBirth(*input.DateOfBirth)
		if err != nil {
			return nil, err
		}
		updates["date_of_birth"] = dob
	}
	if input.Email != nil {
		updates["email"] = strings.ToLower(strings.TrimSpace(*input.Email))
	}
	if input.Phone != nil {
		updates["phone"] = strings.TrimSpace(*input.Phone)
	}

	if len(updates) == 0 {
		return patient, nil
	}

	if err := s.db.WithContext(ctx).Model(patient).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("patient service: update: %w", err)
	}

	s.auditPatient(ctx, AuditPatientUpdated, patient.ID)
	return patient, nil
}

// List returns patients matching the provided filters with pagination.
func (s *PatientService) List(ctx context.Context, opts ListPatientsOptions) ([]models.Patient, int64, error) {
	ctx = ensureContext(ctx)

	page := opts.Page
	if page < 1 {
		page = 1
	}
	pageSize := opts.PageSize
	if pageSize < 1 || pageSize > 200 {
		pageSize = 50
	}

	query := s.db.WithContext(ctx).Model(&models.Patient{})
	if q := strings.TrimSpace(opts.Query); q != "" {
		like := "%" + strings.ToLower(q) + "%"
		query = query.Where(
			"LOWER(first_name) LIKE ? OR LOWER(last_name) LIKE ? OR LOWER(email) LIKE ?",
			like, like, like,
		)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("patient service: count: %w", err)
	}

	var patients []models.Patient
	err := query.
		Order("last_name ASC, first_name ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&patients).Error
	if err != nil {
		return nil, 0, fmt.Errorf("patient service: list: %w", err)
	}

	return patients, total, nil
}

func (s *PatientService) auditPatient(ctx context.Context, action, patientID string) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Log(ctx, AuditEntry{
		Action:   action,
		Resource: "patient:" + patientID,
		Result:   "success",
	})
}

// canonicalDateOfBirth validates and normalises a YYYY-MM-DD date string.
func canonicalDateOfBirth(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	parsed, err := time.Parse("2006-01-02", trimmed)
	if err != nil {
		return "", apperrors.NewBadRequest("date_of_birth must be in YYYY-MM-DD form")
	}
	return parsed.Format("2006-01-02"), nil
}

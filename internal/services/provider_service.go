package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/clinicbridge/intake/internal/auth"
	"github.com/clinicbridge/intake/internal/models"
	"github.com/clinicbridge/intake/pkg/crypto"
	apperrors "github.com/clinicbridge/intake/pkg/errors"
)

// LoginResult carries the issued token and the authenticated provider user.
type LoginResult struct {
	Token string
	User  *models.ProviderUser
}

// ProviderService authenticates provider staff and manages their accounts.
// Failed logins resolve to the same error regardless of whether the username
// exists, so the login endpoint cannot be used to enumerate accounts.
type ProviderService struct {
	db    *gorm.DB
	jwt   *auth.JWTService
	audit *AuditService
}

// NewProviderService constructs a ProviderService instance.
func NewProviderService(db *gorm.DB, jwtService *auth.JWTService, audit *AuditService) (*ProviderService, error) {
	if db == nil {
		return nil, errors.New("provider service: db is required")
	}
	if jwtService == nil {
		return nil, errors.New("provider service: jwt service is required")
	}
	return &ProviderService{db: db, jwt: jwtService, audit: audit}, nil
}

// Login verifies provider credentials and issues an access token.
func (s *ProviderService) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	ctx = ensureContext(ctx)

	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, apperrors.ErrInvalidCredentials
	}

	var user models.ProviderUser
	err := s.db.WithContext(ctx).First(&user, "username = ?", username).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// Burn a hash comparison so the miss costs the same as a mismatch.
		crypto.VerifyPassword("$2a$10$invalidinvalidinvalidinvalidinvalidinvalidinvalidinval", password)
		return nil, apperrors.ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("provider service: load user: %w", err)
	}

	if !user.IsActive || !crypto.VerifyPassword(user.PasswordHash, password) {
		s.auditLogin(ctx, &user, "failure")
		return nil, apperrors.ErrInvalidCredentials
	}

	token, err := s.jwt.GenerateAccessToken(auth.AccessTokenInput{
		UserID:   user.ID,
		Username: user.Username,
	})
	if err != nil {
		return nil, fmt.Errorf("provider service: issue token: %w", err)
	}

	s.auditLogin(ctx, &user, "success")
	return &LoginResult{Token: token, User: &user}, nil
}

// GetByID loads a provider user by id.
func (s *ProviderService) GetByID(ctx context.Context, id string) (*models.ProviderUser, error) {
	ctx = ensureContext(ctx)

	var user models.ProviderUser
	err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("provider service: load user: %w", err)
	}
	return &user, nil
}

// ChangePassword replaces the stored hash after verifying the current password.
func (s *ProviderService) ChangePassword(ctx context.Context, id, current, next string) error {
	ctx = ensureContext(ctx)

	if len(next) < 8 {
		return apperrors.NewBadRequest("password must be at least 8 characters")
	}

	user, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if !crypto.VerifyPassword(user.PasswordHash, current) {
		return apperrors.ErrInvalidCredentials
	}

	hashed, err := crypto.HashPassword(next)
	if err != nil {
		return fmt.Errorf("provider service: hash password: %w", err)
	}

	err = s.db.WithContext(ctx).
		Model(&models.ProviderUser{}).
		Where("id = ?", user.ID).
		Update("password_hash", hashed).Error
	if err != nil {
		return fmt.Errorf("provider service: update password: %w", err)
	}

	return nil
}

func (s *ProviderService) auditLogin(ctx context.Context, user *models.ProviderUser, result string) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Log(ctx, AuditEntry{
		ActorID:  &user.ID,
		Actor:    user.Username,
		Action:   AuditProviderLogin,
		Resource: "provider:" + user.ID,
		Result:   result,
	})
}

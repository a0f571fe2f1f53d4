package database

import (
	"errors"

	"gorm.io/gorm"

	"github.com/clinicbridge/intake/internal/models"
	"github.com/clinicbridge/intake/pkg/crypto"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.ProviderUser{},
		&models.Patient{},
		&models.IntakeLink{},
		&models.Intake{},
		&models.RedFlag{},
		&models.Summary{},
		&models.AuditLog{},
	)
}

// DefaultAdminUsername identifies the bootstrap provider account created on
// an empty database.
const DefaultAdminUsername = "admin"

// SeedData creates a bootstrap provider account when none exists. The
// password must be rotated through the profile endpoint on first login.
func SeedData(db *gorm.DB) error {
	return SeedDataWithPassword(db, "changeme")
}

// SeedDataWithPassword seeds the bootstrap account with an explicit initial
// password, used by the server bootstrap when one is configured.
func SeedDataWithPassword(db *gorm.DB, password string) error {
	if db == nil {
		return errors.New("nil database handle")
	}

	var count int64
	if err := db.Model(&models.ProviderUser{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hash, err := crypto.HashPassword(password)
	if err != nil {
		return err
	}

	admin := models.ProviderUser{
		Username:     DefaultAdminUsername,
		PasswordHash: hash,
		DisplayName:  "Administrator",
		IsActive:     true,
	}
	return db.Create(&admin).Error
}

package database

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clinicbridge/intake/internal/models"
)

func TestOpenUnsupportedDriver(t *testing.T) {
	_, err := Open(Config{Driver: "oracle"})
	require.Error(t, err)
}

func TestAutoMigrateAndSeed(t *testing.T) {
	db, err := Open(Config{Driver: "sqlite"})
	require.NoError(t, err)
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		_ = sqlDB.Close()
	})

	require.NoError(t, AutoMigrateAndSeed(db))

	var admin models.ProviderUser
	require.NoError(t, db.Where("username = ?", DefaultAdminUsername).First(&admin).Error)
	require.True(t, admin.IsActive)
	require.NotEmpty(t, admin.PasswordHash)
	require.NotEqual(t, "changeme", admin.PasswordHash)

	// Seeding again must not duplicate the account.
	require.NoError(t, SeedData(db))
	var count int64
	require.NoError(t, db.Model(&models.ProviderUser{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestOpenSQLiteFileBacked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "intake.sqlite")

	db, err := Open(Config{Driver: "sqlite", Path: path})
	require.NoError(t, err)
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		_ = sqlDB.Close()
	})

	// The parent directory is created on demand.
	_, err = os.Stat(filepath.Dir(path))
	require.NoError(t, err)

	var fk int
	require.NoError(t, db.Raw("PRAGMA foreign_keys").Scan(&fk).Error)
	require.Equal(t, 1, fk)
}

func TestSQLiteDSNPragmas(t *testing.T) {
	dsn := sqliteDSN("data/intake.sqlite")
	require.Contains(t, dsn, "_foreign_keys=1")
	require.Contains(t, dsn, "_journal_mode=WAL")
	require.Contains(t, dsn, "_busy_timeout=5000")
}

func TestBuildPostgresDSN(t *testing.T) {
	dsn, err := buildPostgresDSN(Config{User: "intake", Name: "intake", Password: "pw"})
	require.NoError(t, err)
	require.Contains(t, dsn, "host=localhost")
	require.Contains(t, dsn, "port=5432")
	require.Contains(t, dsn, "sslmode=disable")

	_, err = buildPostgresDSN(Config{})
	require.Error(t, err)

	override, err := buildPostgresDSN(Config{DSN: "postgres://x"})
	require.NoError(t, err)
	require.Equal(t, "postgres://x", override)
}

func TestBuildMySQLDSN(t *testing.T) {
	dsn, err := buildMySQLDSN(Config{User: "intake", Password: "pw", Name: "intake"})
	require.NoError(t, err)
	require.Equal(t, "intake:pw@tcp(127.0.0.1:3306)/intake?charset=utf8mb4&parseTime=True&loc=Local", dsn)

	_, err = buildMySQLDSN(Config{})
	require.Error(t, err)
}

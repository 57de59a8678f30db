package services

import (
	"os"
	"testing"

	"sweepstakes-system/models"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// testDB connects to the database named by TEST_DATABASE_URL. Tests that need
// real SQL semantics (unique indexes, ON CONFLICT, FOR UPDATE SKIP LOCKED)
// skip when it is unset.
func testDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Entry{},
		&models.ConversionRecord{},
		&models.MigrationSubscriber{},
		&models.OperationLog{},
	))
	return db
}

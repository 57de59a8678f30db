package models

import "time"

// MigrationStatus is the state of a queued subscriber record.
// Transitions: pending → in_progress → {migrated | failed | already_exists},
// plus in_progress → pending (stall reset) and failed → pending (manual reset).
type MigrationStatus string

const (
	MigrationStatusPending       MigrationStatus = "pending"
	MigrationStatusInProgress    MigrationStatus = "in_progress"
	MigrationStatusMigrated      MigrationStatus = "migrated"
	MigrationStatusFailed        MigrationStatus = "failed"
	MigrationStatusAlreadyExists MigrationStatus = "already_exists"
)

// MigrationSubscriber is one email-list record queued for migration to BeehiiV.
// MigrationBatch is the claim marker: a record carries the batch id of the
// processor run that owns it, so two concurrent runs never touch the same row.
type MigrationSubscriber struct {
	ID        string          `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	Email     string          `gorm:"uniqueIndex;not null" json:"email"`
	FirstName string          `json:"first_name"`
	LastName  string          `json:"last_name"`
	Status    MigrationStatus `gorm:"index;not null;default:'pending'" json:"status"`

	SourceFile     string  `json:"source_file"`
	MigrationBatch *string `gorm:"index" json:"migration_batch,omitempty"`

	// Remote subscriber id returned by BeehiiV on a successful create
	SubscriberID *string `json:"subscriber_id,omitempty"`

	ErrorMessage *string    `gorm:"type:text" json:"error_message,omitempty"`
	MigratedAt   *time.Time `json:"migrated_at,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

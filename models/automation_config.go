package models

import "time"

// AutomationConfig is a singleton row controlling automated batch migration.
// StartHour/EndHour form a half-open UTC window [start, end); when EndHour is
// smaller than StartHour the window wraps past midnight.
type AutomationConfig struct {
	ID      string `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	Enabled bool   `gorm:"default:false" json:"enabled"`

	DailyTotalTarget int `gorm:"default:1000" json:"daily_total_target"`
	StartHour        int `gorm:"default:9" json:"start_hour"`
	EndHour          int `gorm:"default:17" json:"end_hour"`
	MinBatchSize     int `gorm:"default:10" json:"min_batch_size"`
	MaxBatchSize     int `gorm:"default:100" json:"max_batch_size"`

	LastAutomatedRun *time.Time `json:"last_automated_run,omitempty"`
	CurrentBatchID   *string    `json:"current_batch_id,omitempty"`
	LastHeartbeat    *time.Time `json:"last_heartbeat,omitempty"`

	// Free-form snapshot of the last tick outcome (JSON)
	StatusDetails string `gorm:"type:text" json:"status_details"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

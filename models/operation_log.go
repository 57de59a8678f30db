package models

import "time"

// OperationLog captures every significant pipeline step for debugging.
// This table is the primary operational surface — there is no tracing stack.
type OperationLog struct {
	ID        string    `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	Context   string    `gorm:"index;not null" json:"context"` // e.g. "conversion.webhook", "migration.batch"
	Data      string    `gorm:"type:jsonb" json:"data"`
	IsError   bool      `gorm:"index;default:false" json:"is_error"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

package models

import (
	"time"

	"gorm.io/gorm"
)

// Entry is a single sweepstakes entrant (denormalized counters for read performance)
type Entry struct {
	ID           string `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	Email        string `gorm:"uniqueIndex;not null" json:"email"` // stored lowercased
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	ReferralCode string `gorm:"uniqueIndex;not null" json:"referral_code"`

	// referral_code of the entrant who referred this one, if any
	ReferredBy *string `gorm:"index" json:"referred_by,omitempty"`

	// Counters: total_entries is always entry_count + referral_count.
	// Only the conversion service mutates referral_count/total_entries.
	EntryCount    int `json:"entry_count" gorm:"default:1"`
	ReferralCount int `json:"referral_count" gorm:"default:0"`
	TotalEntries  int `json:"total_entries" gorm:"default:1"`

	Timestamps
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

package models

import "time"

// ConversionRecord is the append-only dedup ledger for referral conversions.
// The unique index on TransactionID is the idempotency mechanism: a duplicate
// insert means the conversion was already credited.
type ConversionRecord struct {
	ID            string    `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	TransactionID string    `gorm:"uniqueIndex;not null" json:"transaction_id"`
	ReferralCode  string    `gorm:"index;not null" json:"referral_code"`
	CreatedAt     time.Time `json:"created_at" gorm:"autoCreateTime"`
}

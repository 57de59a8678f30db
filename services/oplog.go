package services

import (
	"encoding/json"
	"log"

	"sweepstakes-system/models"

	"gorm.io/gorm"
)

// LogOperation persists one operational log row. Logging must never break the
// pipeline that called it, so failures only go to stdout.
func LogOperation(db *gorm.DB, context string, data map[string]interface{}, isError bool) {
	payload, err := json.Marshal(data)
	if err != nil {
		log.Printf("[OPLOG] failed to marshal data for %s: %v", context, err)
		payload = []byte("{}")
	}

	entry := models.OperationLog{
		Context: context,
		Data:    string(payload),
		IsError: isError,
	}
	if err := db.Create(&entry).Error; err != nil {
		log.Printf("[OPLOG] failed to write log row for %s: %v", context, err)
	}
}

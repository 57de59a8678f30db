// services/migration_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"sweepstakes-system/models"
	"sweepstakes-system/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultStallTimeout = 30 * time.Minute
	batchErrorCap       = 25
)

// BatchError is one failed record inside a batch result.
type BatchError struct {
	Email   string `json:"email"`
	Message string `json:"message"`
}

// BatchResult aggregates per-record outcomes of one processor pass.
// Invariant: Success + Duplicates + Failed == Total.
type BatchResult struct {
	BatchID    string       `json:"batch_id"`
	Success    int          `json:"success"`
	Duplicates int          `json:"duplicates"`
	Failed     int          `json:"failed"`
	Total      int          `json:"total"`
	Errors     []BatchError `json:"errors"`
}

// MigrationService owns the subscriber migration queue: import, batch
// processing against the BeehiiV subscription API, stall recovery, and the
// admin reset/clear/stats operations.
type MigrationService struct {
	DB      *gorm.DB
	Beehiiv *BeehiivClient

	StallTimeout time.Duration
	// Fixed delay between records to stay under BeehiiV rate limits
	RecordDelay time.Duration
}

func NewMigrationService(db *gorm.DB, beehiiv *BeehiivClient) *MigrationService {
	return &MigrationService{
		DB:           db,
		Beehiiv:      beehiiv,
		StallTimeout: defaultStallTimeout,
		RecordDelay:  200 * time.Millisecond,
	}
}

// --- Import ---

type importSubscriber struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// HandleImport queues subscriber records as pending. Invalid emails are
// filtered silently; duplicates of already-queued emails are skipped.
func (s *MigrationService) HandleImport(c *fiber.Ctx) error {
	var req struct {
		Subscribers []importSubscriber `json:"subscribers"`
		FileName    string             `json:"fileName"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "Invalid request body"})
	}
	if len(req.Subscribers) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "subscribers list is empty"})
	}

	var records []models.MigrationSubscriber
	filtered := 0
	for _, sub := range req.Subscribers {
		email := strings.ToLower(strings.TrimSpace(sub.Email))
		if !utils.IsValidEmail(email) {
			filtered++
			continue
		}
		records = append(records, models.MigrationSubscriber{
			Email:      email,
			FirstName:  strings.TrimSpace(sub.FirstName),
			LastName:   strings.TrimSpace(sub.LastName),
			Status:     models.MigrationStatusPending,
			SourceFile: req.FileName,
		})
	}

	queued := 0
	if len(records) > 0 {
		result := s.DB.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "email"}},
			DoNothing: true,
		}).Create(&records)
		if result.Error != nil {
			log.Printf("[MIGRATION] ❌ import insert failed: %v", result.Error)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "error": "Failed to queue subscribers"})
		}
		queued = int(result.RowsAffected)
	}

	// Archive the raw payload for auditing — best effort, never fails the import
	go func(body []byte, fileName string) {
		if err := utils.ArchiveImportPayload(context.Background(), fileName, body); err != nil {
			log.Printf("[MIGRATION] ⚠️ import archive failed for %s: %v", fileName, err)
		}
	}(append([]byte(nil), c.Body()...), req.FileName)

	LogOperation(s.DB, "migration.import", map[string]interface{}{
		"file":     req.FileName,
		"received": len(req.Subscribers),
		"queued":   queued,
		"filtered": filtered,
	}, false)

	return c.JSON(fiber.Map{
		"success":  true,
		"received": len(req.Subscribers),
		"queued":   queued,
		"filtered": filtered,
		"skipped":  len(records) - queued,
	})
}

// --- Batch processing ---

// outcomeForError maps a subscribe-call error to a terminal status and message.
func outcomeForError(err error) (models.MigrationStatus, string) {
	if err == nil {
		return models.MigrationStatusMigrated, ""
	}
	if errors.Is(err, ErrSubscriberExists) {
		return models.MigrationStatusAlreadyExists, ""
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return models.MigrationStatusFailed, fmt.Sprintf("API %d: %s", apiErr.StatusCode, apiErr.Body)
	}
	return models.MigrationStatusFailed, err.Error()
}

// ProcessBatch runs one Batch Processor pass: stall sweep, atomic claim of up
// to batchSize pending records under a fresh batch id, one subscribe call per
// record, terminal status per record. A single record's failure never aborts
// the batch.
func (s *MigrationService) ProcessBatch(ctx context.Context, batchSize int, publicationID string) (*BatchResult, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}

	if reset, err := s.RecoverStalled(); err != nil {
		log.Printf("[MIGRATION] ⚠️ stall sweep failed: %v", err)
	} else if reset > 0 {
		log.Printf("[MIGRATION] ♻️ reset %d stalled record(s) to pending", reset)
	}

	batchID := uuid.NewString()

	// Claim: the UPDATE is the mutual-exclusion point. SKIP LOCKED keeps two
	// concurrent processors from blocking on (or double-claiming) the same rows.
	err := s.DB.Exec(`
		UPDATE migration_subscribers
		SET status = ?, migration_batch = ?, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM migration_subscribers
			WHERE status = ?
			ORDER BY created_at ASC
			LIMIT ?
			FOR UPDATE SKIP LOCKED
		)`,
		models.MigrationStatusInProgress, batchID, models.MigrationStatusPending, batchSize,
	).Error
	if err != nil {
		return nil, fmt.Errorf("failed to claim batch: %w", err)
	}

	var claimed []models.MigrationSubscriber
	if err := s.DB.Where("migration_batch = ? AND status = ?", batchID, models.MigrationStatusInProgress).
		Order("created_at ASC").
		Find(&claimed).Error; err != nil {
		return nil, fmt.Errorf("failed to load claimed batch: %w", err)
	}

	result := &BatchResult{BatchID: batchID, Total: len(claimed)}
	if len(claimed) == 0 {
		return result, nil
	}

	log.Printf("[MIGRATION] 🚚 batch %s: processing %d record(s)", batchID, len(claimed))

	for i, record := range claimed {
		if i > 0 && s.RecordDelay > 0 {
			select {
			case <-time.After(s.RecordDelay):
			case <-ctx.Done():
				// Keep Success+Duplicates+Failed == Total on the partial result
				result.Total = result.Success + result.Duplicates + result.Failed
				return result, ctx.Err()
			}
		}

		sub, err := s.Beehiiv.CreateSubscriber(ctx, publicationID, CreateSubscriberRequest{
			Email:       record.Email,
			FirstName:   record.FirstName,
			LastName:    record.LastName,
			SendWelcome: false,
		})
		status, errMsg := outcomeForError(err)

		updates := map[string]interface{}{
			"status":     status,
			"updated_at": time.Now().UTC(),
		}
		switch status {
		case models.MigrationStatusMigrated:
			result.Success++
			now := time.Now().UTC()
			updates["migrated_at"] = now
			if sub != nil {
				updates["subscriber_id"] = sub.ID
			}
		case models.MigrationStatusAlreadyExists:
			result.Duplicates++
		default:
			result.Failed++
			updates["error_message"] = errMsg
			if len(result.Errors) < batchErrorCap {
				result.Errors = append(result.Errors, BatchError{Email: record.Email, Message: errMsg})
			}
		}

		if err := s.DB.Model(&models.MigrationSubscriber{}).
			Where("id = ?", record.ID).
			Updates(updates).Error; err != nil {
			log.Printf("[MIGRATION] ❌ failed to persist status for %s: %v", record.Email, err)
		}
	}

	LogOperation(s.DB, "migration.batch", map[string]interface{}{
		"batch_id":   batchID,
		"total":      result.Total,
		"success":    result.Success,
		"duplicates": result.Duplicates,
		"failed":     result.Failed,
	}, result.Failed > 0)

	log.Printf("[MIGRATION] ✅ batch %s done: %d ok, %d dup, %d failed",
		batchID, result.Success, result.Duplicates, result.Failed)

	return result, nil
}

// RecoverStalled resets records stuck in_progress past the stall timeout back
// to pending so the next batch can pick them up.
func (s *MigrationService) RecoverStalled() (int64, error) {
	cutoff := time.Now().UTC().Add(-s.StallTimeout)
	result := s.DB.Model(&models.MigrationSubscriber{}).
		Where("status = ? AND updated_at < ?", models.MigrationStatusInProgress, cutoff).
		Updates(map[string]interface{}{
			"status":          models.MigrationStatusPending,
			"migration_batch": nil,
			"error_message":   fmt.Sprintf("reset to pending after stalling in_progress > %s", s.StallTimeout),
		})
	return result.RowsAffected, result.Error
}

// PendingCount is used by the automation gate.
func (s *MigrationService) PendingCount() (int64, error) {
	var count int64
	err := s.DB.Model(&models.MigrationSubscriber{}).
		Where("status = ?", models.MigrationStatusPending).
		Count(&count).Error
	return count, err
}

// --- HTTP handlers (one route per command — no action-string dispatch) ---

// HandleMigrateBatch runs one processor pass synchronously.
func (s *MigrationService) HandleMigrateBatch(c *fiber.Ctx) error {
	var req struct {
		BatchSize     int    `json:"batchSize"`
		PublicationID string `json:"publicationId"`
		FileName      string `json:"fileName"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "Invalid request body"})
	}
	if req.BatchSize <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "batchSize must be positive"})
	}

	result, err := s.ProcessBatch(c.Context(), req.BatchSize, req.PublicationID)
	if err != nil {
		log.Printf("[MIGRATION] ❌ batch run failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"batchId": result.BatchID,
		"results": fiber.Map{
			"success":    result.Success,
			"duplicates": result.Duplicates,
			"failed":     result.Failed,
			"total":      result.Total,
			"errors":     result.Errors,
		},
	})
}

// HandleResetInProgress force-resets every in_progress record to pending.
func (s *MigrationService) HandleResetInProgress(c *fiber.Ctx) error {
	result := s.DB.Model(&models.MigrationSubscriber{}).
		Where("status = ?", models.MigrationStatusInProgress).
		Updates(map[string]interface{}{
			"status":          models.MigrationStatusPending,
			"migration_batch": nil,
		})
	if result.Error != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "error": "Failed to reset records"})
	}
	return c.JSON(fiber.Map{"success": true, "reset": result.RowsAffected})
}

// HandleResetFailed re-queues failed records for another attempt.
func (s *MigrationService) HandleResetFailed(c *fiber.Ctx) error {
	result := s.DB.Model(&models.MigrationSubscriber{}).
		Where("status = ?", models.MigrationStatusFailed).
		Updates(map[string]interface{}{
			"status":          models.MigrationStatusPending,
			"migration_batch": nil,
			"error_message":   nil,
		})
	if result.Error != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "error": "Failed to reset records"})
	}
	return c.JSON(fiber.Map{"success": true, "reset": result.RowsAffected})
}

// HandleClearQueue deletes pending or failed records.
func (s *MigrationService) HandleClearQueue(c *fiber.Ctx) error {
	var req struct {
		Status string `json:"status"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "Invalid request body"})
	}

	status := models.MigrationStatus(req.Status)
	if status != models.MigrationStatusPending && status != models.MigrationStatusFailed {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "status must be pending or failed"})
	}

	result := s.DB.Where("status = ?", status).Delete(&models.MigrationSubscriber{})
	if result.Error != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "error": "Failed to clear queue"})
	}

	LogOperation(s.DB, "migration.clear_queue", map[string]interface{}{
		"status":  status,
		"deleted": result.RowsAffected,
	}, false)

	return c.JSON(fiber.Map{"success": true, "deleted": result.RowsAffected})
}

// HandleStats returns counts by status, the latest batch summaries, and the
// automation config snapshot.
func (s *MigrationService) HandleStats(c *fiber.Ctx) error {
	type statusCount struct {
		Status string `json:"status"`
		Count  int64  `json:"count"`
	}
	var counts []statusCount
	if err := s.DB.Model(&models.MigrationSubscriber{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&counts).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "error": "Failed to aggregate statuses"})
	}

	byStatus := fiber.Map{}
	for _, sc := range counts {
		byStatus[sc.Status] = sc.Count
	}

	type batchSummary struct {
		MigrationBatch string    `json:"batch_id"`
		Total          int64     `json:"total"`
		Migrated       int64     `json:"migrated"`
		Failed         int64     `json:"failed"`
		LastUpdate     time.Time `json:"last_update"`
	}
	var batches []batchSummary
	if err := s.DB.Raw(`
		SELECT migration_batch,
		       COUNT(*) AS total,
		       COUNT(*) FILTER (WHERE status = 'migrated') AS migrated,
		       COUNT(*) FILTER (WHERE status = 'failed') AS failed,
		       MAX(updated_at) AS last_update
		FROM migration_subscribers
		WHERE migration_batch IS NOT NULL
		GROUP BY migration_batch
		ORDER BY MAX(updated_at) DESC
		LIMIT 5`).Scan(&batches).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "error": "Failed to load batch summaries"})
	}

	var config models.AutomationConfig
	if err := s.DB.First(&config).Error; err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "error": "Failed to load automation config"})
	}

	return c.JSON(fiber.Map{
		"success":        true,
		"counts":         byStatus,
		"latest_batches": batches,
		"automation":     config,
	})
}

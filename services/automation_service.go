// services/automation_service.go
package services

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"sweepstakes-system/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

const defaultAutomationBatchSize = 10

// Tick outcome statuses recorded in status_details / heartbeats.
const (
	AutomationStatusDisabled     = "disabled"
	AutomationStatusOutsideHours = "outside_hours"
	AutomationStatusIdle         = "idle"
	AutomationStatusProcessed    = "processed"
	AutomationStatusError        = "error"
)

// WithinOperatingWindow reports whether hour falls in the half-open UTC window
// [start, end). end < start wraps past midnight, e.g. 22→6 covers 22..23,0..5.
func WithinOperatingWindow(hour, start, end int) bool {
	if start == end {
		return false
	}
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}

// ClampBatchSize fits the default automation batch size into [min, max].
func ClampBatchSize(min, max int) int {
	size := defaultAutomationBatchSize
	if min > 0 && size < min {
		size = min
	}
	if max > 0 && size > max {
		size = max
	}
	return size
}

// AutomationService decides, per tick, whether to run one Batch Processor pass.
type AutomationService struct {
	DB        *gorm.DB
	Migration *MigrationService

	// now is swappable in tests
	now func() time.Time
}

func NewAutomationService(db *gorm.DB, migration *MigrationService) *AutomationService {
	return &AutomationService{
		DB:        db,
		Migration: migration,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// EnsureConfig fetches the singleton automation config, creating the default
// row on first use (idempotent).
func (s *AutomationService) EnsureConfig() (*models.AutomationConfig, error) {
	var config models.AutomationConfig
	err := s.DB.First(&config).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		config = models.AutomationConfig{
			Enabled:          false,
			DailyTotalTarget: 1000,
			StartHour:        9,
			EndHour:          17,
			MinBatchSize:     10,
			MaxBatchSize:     100,
		}
		if err := s.DB.Create(&config).Error; err != nil {
			return nil, err
		}
		return &config, nil
	}
	if err != nil {
		return nil, err
	}
	return &config, nil
}

// heartbeat stamps last_heartbeat and the status snapshot.
func (s *AutomationService) heartbeat(config *models.AutomationConfig, status string, details map[string]interface{}) {
	now := s.now()
	config.LastHeartbeat = &now

	snapshot := map[string]interface{}{"status": status, "at": now.Format(time.RFC3339)}
	for k, v := range details {
		snapshot[k] = v
	}
	if data, err := json.Marshal(snapshot); err == nil {
		config.StatusDetails = string(data)
	}

	if err := s.DB.Save(config).Error; err != nil {
		log.Printf("[AUTOMATION] ⚠️ heartbeat save failed: %v", err)
	}
}

// RunTick evaluates the gates and runs at most one batch pass. All gates must
// hold: enabled, inside the operating window, and pending work available.
func (s *AutomationService) RunTick(ctx context.Context) (string, *BatchResult, error) {
	config, err := s.EnsureConfig()
	if err != nil {
		return AutomationStatusError, nil, err
	}

	if !config.Enabled {
		s.heartbeat(config, AutomationStatusDisabled, nil)
		return AutomationStatusDisabled, nil, nil
	}

	hour := s.now().Hour()
	if !WithinOperatingWindow(hour, config.StartHour, config.EndHour) {
		s.heartbeat(config, AutomationStatusOutsideHours, map[string]interface{}{
			"hour": hour, "window": []int{config.StartHour, config.EndHour},
		})
		return AutomationStatusOutsideHours, nil, nil
	}

	pending, err := s.Migration.PendingCount()
	if err != nil {
		s.heartbeat(config, AutomationStatusError, map[string]interface{}{"error": err.Error()})
		return AutomationStatusError, nil, err
	}
	if pending == 0 {
		s.heartbeat(config, AutomationStatusIdle, nil)
		return AutomationStatusIdle, nil, nil
	}

	batchSize := ClampBatchSize(config.MinBatchSize, config.MaxBatchSize)
	log.Printf("[AUTOMATION] ▶️ running batch (size=%d, pending=%d)", batchSize, pending)

	result, err := s.Migration.ProcessBatch(ctx, batchSize, "")
	if err != nil {
		s.heartbeat(config, AutomationStatusError, map[string]interface{}{"error": err.Error()})
		LogOperation(s.DB, "automation.tick", map[string]interface{}{"error": err.Error()}, true)
		return AutomationStatusError, nil, err
	}

	now := s.now()
	config.LastAutomatedRun = &now
	config.CurrentBatchID = &result.BatchID
	s.heartbeat(config, AutomationStatusProcessed, map[string]interface{}{
		"batch_id":   result.BatchID,
		"total":      result.Total,
		"success":    result.Success,
		"duplicates": result.Duplicates,
		"failed":     result.Failed,
		"pending":    pending - int64(result.Total),
	})

	LogOperation(s.DB, "automation.tick", map[string]interface{}{
		"batch_id": result.BatchID,
		"total":    result.Total,
		"success":  result.Success,
		"failed":   result.Failed,
	}, false)

	return AutomationStatusProcessed, result, nil
}

// --- HTTP handlers ---

// HandleHeartbeat exposes the last heartbeat/status for monitoring.
func (s *AutomationService) HandleHeartbeat(c *fiber.Ctx) error {
	config, err := s.EnsureConfig()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "error": "Failed to load automation config"})
	}
	return c.JSON(fiber.Map{
		"success":        true,
		"enabled":        config.Enabled,
		"last_heartbeat": config.LastHeartbeat,
		"last_run":       config.LastAutomatedRun,
		"status_details": json.RawMessage(orEmptyJSON(config.StatusDetails)),
	})
}

func orEmptyJSON(s string) string {
	if s == "" {
		return "{}"
	}
	return s
}

// HandleRunAutomation runs one gated pass synchronously.
func (s *AutomationService) HandleRunAutomation(c *fiber.Ctx) error {
	status, result, err := s.RunTick(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "status": status, "error": err.Error()})
	}
	resp := fiber.Map{"success": true, "status": status}
	if result != nil {
		resp["results"] = result
	}
	return c.JSON(resp)
}

// HandleContinuousAutomation dispatches a pass in the background and returns
// an acknowledgement immediately — the caller gets no result, by contract.
func (s *AutomationService) HandleContinuousAutomation(c *fiber.Ctx) error {
	go func() {
		if status, _, err := s.RunTick(context.Background()); err != nil {
			log.Printf("[AUTOMATION] ❌ background pass failed (status=%s): %v", status, err)
		}
	}()
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"success": true, "message": "automation pass dispatched"})
}

// HandleToggleAutomation flips the enabled flag.
func (s *AutomationService) HandleToggleAutomation(c *fiber.Ctx) error {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := c.BodyParser(&req); err != nil || req.Enabled == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "enabled (bool) is required"})
	}

	config, err := s.EnsureConfig()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "error": "Failed to load automation config"})
	}

	config.Enabled = *req.Enabled
	if err := s.DB.Save(config).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "error": "Failed to update automation config"})
	}

	log.Printf("[AUTOMATION] ⚙️ automation enabled=%t", config.Enabled)
	return c.JSON(fiber.Map{"success": true, "enabled": config.Enabled})
}

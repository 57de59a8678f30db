// services/entry_service.go
package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"strings"

	"sweepstakes-system/models"
	"sweepstakes-system/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

const (
	referralCodeLength   = 8
	referralCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789" // no 0/O/1/I
	codeGenMaxAttempts   = 5
)

// EntryService owns sweepstakes entry creation and lookup.
type EntryService struct {
	DB       *gorm.DB
	Notifier *NotifierService
}

func NewEntryService(db *gorm.DB, notifier *NotifierService) *EntryService {
	return &EntryService{DB: db, Notifier: notifier}
}

// GenerateReferralCode returns a random fixed-length alphanumeric code.
func GenerateReferralCode() (string, error) {
	buf := make([]byte, referralCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = referralCodeAlphabet[int(b)%len(referralCodeAlphabet)]
	}
	return string(buf), nil
}

// newUniqueReferralCode generates a code and verifies it against existing
// entries. The space is large enough that collisions are effectively
// impossible, but a cheap check costs one indexed query.
func (s *EntryService) newUniqueReferralCode() (string, error) {
	for attempt := 0; attempt < codeGenMaxAttempts; attempt++ {
		code, err := GenerateReferralCode()
		if err != nil {
			return "", err
		}
		var count int64
		if err := s.DB.Model(&models.Entry{}).Where("referral_code = ?", code).Count(&count).Error; err != nil {
			return "", err
		}
		if count == 0 {
			return code, nil
		}
	}
	return "", fmt.Errorf("could not generate unique referral code after %d attempts", codeGenMaxAttempts)
}

// CreateEntry handles the landing page signup.
func (s *EntryService) CreateEntry(c *fiber.Ctx) error {
	var req struct {
		Email      string  `json:"email"`
		FirstName  string  `json:"first_name"`
		LastName   string  `json:"last_name"`
		ReferredBy *string `json:"referred_by"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "Invalid request body"})
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if !utils.IsValidEmail(email) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "A valid email is required"})
	}

	// Existing entrant signing up again just gets their entry back
	var existing models.Entry
	if err := s.DB.Where("email = ?", email).First(&existing).Error; err == nil {
		return c.JSON(fiber.Map{"success": true, "entry": existing, "existing": true})
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "error": "DB error"})
	}

	code, err := s.newUniqueReferralCode()
	if err != nil {
		log.Printf("[ENTRY] ❌ referral code generation failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "error": "Failed to generate referral code"})
	}

	var referredBy *string
	if req.ReferredBy != nil && *req.ReferredBy != "" {
		ref := strings.ToUpper(strings.TrimSpace(*req.ReferredBy))
		// Unknown referrer codes are dropped silently — the signup still counts
		var count int64
		if err := s.DB.Model(&models.Entry{}).Where("referral_code = ?", ref).Count(&count).Error; err == nil && count > 0 {
			referredBy = &ref
		}
	}

	entry := models.Entry{
		Email:         email,
		FirstName:     strings.TrimSpace(req.FirstName),
		LastName:      strings.TrimSpace(req.LastName),
		ReferralCode:  code,
		ReferredBy:    referredBy,
		EntryCount:    1,
		ReferralCount: 0,
		TotalEntries:  1,
	}
	if err := s.DB.Create(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"success": false, "error": "Email already entered"})
		}
		log.Printf("[ENTRY] ❌ DB error creating entry: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "error": "Failed to create entry"})
	}

	LogOperation(s.DB, "entry.signup", map[string]interface{}{
		"email":         entry.Email,
		"referral_code": entry.ReferralCode,
		"referred_by":   referredBy,
	}, false)

	// Best-effort welcome sync; signup never fails on BeehiiV errors
	go func(e models.Entry) {
		if err := s.Notifier.SyncEntryToBeehiiv(context.Background(), &e); err != nil {
			log.Printf("[ENTRY] ⚠️ BeehiiV sync after signup failed for %s: %v", e.Email, err)
		}
	}(entry)

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "entry": entry})
}

// GetEntryByCode returns the entry owning a referral code (landing page share view).
func (s *EntryService) GetEntryByCode(c *fiber.Ctx) error {
	code := strings.ToUpper(strings.TrimSpace(c.Params("code")))
	if code == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "referral code required"})
	}

	var entry models.Entry
	if err := s.DB.Where("referral_code = ?", code).First(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"success": false, "error": "referral code not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "error": "DB error"})
	}

	return c.JSON(fiber.Map{"success": true, "entry": entry})
}

// GetEntryByEmail returns the caller's own entry (used by the landing page
// to restore state after a repeat visit).
func (s *EntryService) GetEntryByEmail(c *fiber.Ctx) error {
	email := strings.ToLower(strings.TrimSpace(c.Query("email")))
	if !utils.IsValidEmail(email) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "A valid email is required"})
	}

	var entry models.Entry
	if err := s.DB.Where("email = ?", email).First(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"success": false, "error": "entry not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "error": "DB error"})
	}

	return c.JSON(fiber.Map{"success": true, "entry": entry})
}

// services/conversion_service.go
package services

import (
	"context"
	"errors"
	"log"

	"sweepstakes-system/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrUnknownReferralCode means the conversion referenced a code no entry owns.
var ErrUnknownReferralCode = errors.New("unknown referral code")

// ConversionService reconciles Everflow conversion postbacks: resolve the
// referrer, credit the referral exactly once per transaction id, then fan out
// to BeehiiV and the notification email.
type ConversionService struct {
	DB       *gorm.DB
	Notifier *NotifierService
}

func NewConversionService(db *gorm.DB, notifier *NotifierService) *ConversionService {
	return &ConversionService{DB: db, Notifier: notifier}
}

// conversionParams collects every alias the ad network may send.
type conversionParams struct {
	ReferralCode   string `json:"referral_code"`
	Sub1           string `json:"sub1"`
	ReferralCode2  string `json:"referralCode"`
	TransactionID  string `json:"transaction_id"`
	TID            string `json:"tid"`
	TransactionID2 string `json:"transactionId"`
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// ExtractConversionParams resolves referral code and transaction id from query
// params or JSON body, first match wins across aliases.
func ExtractConversionParams(c *fiber.Ctx) (referralCode, transactionID string) {
	referralCode = firstNonEmpty(c.Query("referral_code"), c.Query("sub1"), c.Query("referralCode"))
	transactionID = firstNonEmpty(c.Query("transaction_id"), c.Query("tid"), c.Query("transactionId"))

	if referralCode != "" && transactionID != "" {
		return referralCode, transactionID
	}

	var body conversionParams
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&body); err == nil {
			if referralCode == "" {
				referralCode = firstNonEmpty(body.ReferralCode, body.Sub1, body.ReferralCode2)
			}
			if transactionID == "" {
				transactionID = firstNonEmpty(body.TransactionID, body.TID, body.TransactionID2)
			}
		}
	}
	return referralCode, transactionID
}

// RecordConversion credits one referral conversion to the entry owning
// referralCode. The ledger insert runs first, inside the same transaction as
// the counter update, with ON CONFLICT DO NOTHING on the transaction id: zero
// rows inserted means a replayed webhook, which skips the increment and
// reports a benign duplicate instead of double-counting.
//
// The counter update itself is a single SQL read-modify-write
// (referral_count = referral_count + 1) so concurrent conversions for the same
// code cannot lose an increment.
func (s *ConversionService) RecordConversion(referralCode, transactionID string) (*models.Entry, bool, error) {
	var entry models.Entry
	if err := s.DB.Where("referral_code = ?", referralCode).First(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, ErrUnknownReferralCode
		}
		return nil, false, err
	}

	replayed := false
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		record := models.ConversionRecord{
			TransactionID: transactionID,
			ReferralCode:  referralCode,
		}
		// ON CONFLICT DO NOTHING keeps the transaction valid on a replay; a
		// plain insert would leave it aborted and the commit would roll back.
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "transaction_id"}},
			DoNothing: true,
		}).Create(&record)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			replayed = true
			log.Printf("[CONVERSION] 🔁 transaction %s already processed, skipping increment", transactionID)
			return nil
		}

		result := tx.Model(&models.Entry{}).
			Where("referral_code = ?", referralCode).
			Updates(map[string]interface{}{
				"referral_count": gorm.Expr("referral_count + 1"),
				"total_entries":  gorm.Expr("entry_count + referral_count + 1"),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrUnknownReferralCode
		}

		return tx.Where("referral_code = ?", referralCode).First(&entry).Error
	})
	if err != nil {
		return nil, false, err
	}

	return &entry, replayed, nil
}

// HandleConversionWebhook is the Everflow postback endpoint (GET or POST).
func (s *ConversionService) HandleConversionWebhook(c *fiber.Ctx) error {
	referralCode, transactionID := ExtractConversionParams(c)

	if referralCode == "" || transactionID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "referral_code and transaction_id are required",
		})
	}

	entry, replayed, err := s.RecordConversion(referralCode, transactionID)
	if err != nil {
		if errors.Is(err, ErrUnknownReferralCode) {
			LogOperation(s.DB, "conversion.webhook", map[string]interface{}{
				"referral_code":  referralCode,
				"transaction_id": transactionID,
				"error":          "unknown referral code",
			}, true)
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"success": false,
				"error":   "referral code not found",
			})
		}
		log.Printf("[CONVERSION] ❌ datastore failure for tx %s: %v", transactionID, err)
		LogOperation(s.DB, "conversion.webhook", map[string]interface{}{
			"referral_code":  referralCode,
			"transaction_id": transactionID,
			"error":          err.Error(),
		}, true)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "failed to record conversion",
			"details": err.Error(),
		})
	}

	// Fan-out only for freshly counted conversions; a replay already notified.
	var fanout FanOutResult
	if !replayed {
		fanout = s.Notifier.Notify(context.Background(), entry)
	}

	LogOperation(s.DB, "conversion.webhook", map[string]interface{}{
		"referral_code":  referralCode,
		"transaction_id": transactionID,
		"replayed":       replayed,
		"referral_count": entry.ReferralCount,
		"total_entries":  entry.TotalEntries,
		"beehiiv":        fanout.BeehiivUpdated,
		"notification":   fanout.NotificationSent,
	}, false)

	return c.JSON(fiber.Map{
		"success":        true,
		"referral_code":  referralCode,
		"transaction_id": transactionID,
		"duplicate":      replayed,
		"data": fiber.Map{
			"id":             entry.ID,
			"email":          entry.Email,
			"first_name":     entry.FirstName,
			"last_name":      entry.LastName,
			"referral_count": entry.ReferralCount,
			"total_entries":  entry.TotalEntries,
		},
		"beehiiv_updated":    fanout.BeehiivUpdated,
		"beehiiv_error":      fanout.BeehiivError,
		"notification_sent":  fanout.NotificationSent,
		"notification_error": fanout.NotificationError,
	})
}

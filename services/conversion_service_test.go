package services

import (
	"net/http/httptest"
	"strings"
	"testing"

	"sweepstakes-system/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// extractVia spins up a fiber handler and captures what the extractor resolves.
func extractVia(t *testing.T, method, target, body string) (string, string) {
	t.Helper()

	var code, txID string
	app := fiber.New()
	app.All("/hook", func(c *fiber.Ctx) error {
		code, txID = ExtractConversionParams(c)
		return c.SendString("ok")
	})

	httpReq := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(httpReq)
	require.NoError(t, err)
	defer resp.Body.Close()

	return code, txID
}

func TestExtractConversionParams(t *testing.T) {
	t.Run("canonical query params", func(t *testing.T) {
		code, txID := extractVia(t, "GET", "/hook?referral_code=ABC123&transaction_id=tx-1", "")
		assert.Equal(t, "ABC123", code)
		assert.Equal(t, "tx-1", txID)
	})

	t.Run("everflow aliases", func(t *testing.T) {
		code, txID := extractVia(t, "GET", "/hook?sub1=DEF456&tid=tx-2", "")
		assert.Equal(t, "DEF456", code)
		assert.Equal(t, "tx-2", txID)
	})

	t.Run("camelCase aliases", func(t *testing.T) {
		code, txID := extractVia(t, "GET", "/hook?referralCode=GHI789&transactionId=tx-3", "")
		assert.Equal(t, "GHI789", code)
		assert.Equal(t, "tx-3", txID)
	})

	t.Run("alias precedence is first match", func(t *testing.T) {
		code, _ := extractVia(t, "GET", "/hook?referral_code=FIRST&sub1=SECOND&tid=tx", "")
		assert.Equal(t, "FIRST", code)
	})

	t.Run("JSON body", func(t *testing.T) {
		code, txID := extractVia(t, "POST", "/hook", `{"referral_code":"JKL012","transaction_id":"tx-4"}`)
		assert.Equal(t, "JKL012", code)
		assert.Equal(t, "tx-4", txID)
	})

	t.Run("JSON body aliases", func(t *testing.T) {
		code, txID := extractVia(t, "POST", "/hook", `{"sub1":"MNO345","tid":"tx-5"}`)
		assert.Equal(t, "MNO345", code)
		assert.Equal(t, "tx-5", txID)
	})

	t.Run("query wins over body", func(t *testing.T) {
		code, txID := extractVia(t, "POST", "/hook?referral_code=QUERY", `{"referral_code":"BODY","transaction_id":"tx-6"}`)
		assert.Equal(t, "QUERY", code)
		assert.Equal(t, "tx-6", txID)
	})

	t.Run("missing everything", func(t *testing.T) {
		code, txID := extractVia(t, "GET", "/hook", "")
		assert.Empty(t, code)
		assert.Empty(t, txID)
	})

	t.Run("malformed body yields empty", func(t *testing.T) {
		code, txID := extractVia(t, "POST", "/hook", `{not-json`)
		assert.Empty(t, code)
		assert.Empty(t, txID)
	})
}

func TestRecordConversionReplay(t *testing.T) {
	db := testDB(t)

	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	entry := models.Entry{
		Email:        "replay-" + strings.ToLower(suffix) + "@example.com",
		FirstName:    "Rita",
		ReferralCode: "RC" + suffix,
		EntryCount:   1,
		TotalEntries: 1,
	}
	require.NoError(t, db.Create(&entry).Error)
	t.Cleanup(func() {
		db.Where("referral_code = ?", entry.ReferralCode).Delete(&models.ConversionRecord{})
		db.Unscoped().Delete(&models.Entry{}, "id = ?", entry.ID)
	})

	svc := NewConversionService(db, nil)
	txID := "tx-" + suffix

	credited, replayed, err := svc.RecordConversion(entry.ReferralCode, txID)
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, 1, credited.ReferralCount)
	assert.Equal(t, 2, credited.TotalEntries)

	// Same transaction id again: benign duplicate, counters untouched
	again, replayed, err := svc.RecordConversion(entry.ReferralCode, txID)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, 1, again.ReferralCount)
	assert.Equal(t, 2, again.TotalEntries)

	var ledger int64
	require.NoError(t, db.Model(&models.ConversionRecord{}).
		Where("transaction_id = ?", txID).Count(&ledger).Error)
	assert.EqualValues(t, 1, ledger)

	// A fresh transaction id still credits normally afterwards
	credited, replayed, err = svc.RecordConversion(entry.ReferralCode, txID+"-b")
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, 2, credited.ReferralCount)
	assert.Equal(t, 3, credited.TotalEntries)
}

func TestRecordConversionUnknownCode(t *testing.T) {
	db := testDB(t)

	svc := NewConversionService(db, nil)
	txID := "tx-missing-" + uuid.NewString()[:8]

	_, _, err := svc.RecordConversion("NOSUCHCODE", txID)
	require.ErrorIs(t, err, ErrUnknownReferralCode)

	// The miss leaves no ledger row behind
	var ledger int64
	require.NoError(t, db.Model(&models.ConversionRecord{}).
		Where("transaction_id = ?", txID).Count(&ledger).Error)
	assert.EqualValues(t, 0, ledger)
}

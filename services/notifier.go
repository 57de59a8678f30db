// services/notifier.go
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"sweepstakes-system/models"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"
)

const (
	totalEntriesField      = "total_entries"
	fieldUpdateMaxAttempts = 3
)

// NotificationClient calls the transactional notification API that emails a
// referrer when one of their referrals converts.
type NotificationClient struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewNotificationClient(baseURL, token string) *NotificationClient {
	return &NotificationClient{
		BaseURL: baseURL,
		Token:   token,
		Client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// NotificationPayload is the templated body for the referral-credited email.
// Template fields are generic defaults; campaign overrides are layered on top.
type NotificationPayload struct {
	Email        string `json:"email"`
	FirstName    string `json:"first_name"`
	ReferralCode string `json:"referral_code"`
	TotalEntries int    `json:"total_entries"`
	Subject      string `json:"subject"`
	TemplateID   string `json:"template_id,omitempty"`
}

func (c *NotificationClient) Send(ctx context.Context, payload NotificationPayload) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal notification payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("notification request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("notification API returned %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// CampaignTemplate holds optional per-campaign overrides for the notification
// email. Zero values fall back to the generic defaults.
type CampaignTemplate struct {
	Subject    string
	TemplateID string
}

// FanOutResult reports both side effects independently so the webhook response
// can distinguish "counters updated but email failed" from a full failure.
type FanOutResult struct {
	BeehiivUpdated    bool   `json:"beehiiv_updated"`
	BeehiivError      string `json:"beehiiv_error,omitempty"`
	NotificationSent  bool   `json:"notification_sent"`
	NotificationError string `json:"notification_error,omitempty"`
}

// NotifierService pushes updated entry state to BeehiiV and sends the
// referral-credited notification email. Both effects are best-effort: neither
// blocks nor rolls back the reconciliation write.
type NotifierService struct {
	DB            *gorm.DB
	Beehiiv       *BeehiivClient
	Notifications *NotificationClient
	Template      CampaignTemplate

	// Delay knobs — overridable in tests
	RetryBaseDelay time.Duration
	SettleDelay    time.Duration
}

func NewNotifierService(db *gorm.DB, beehiiv *BeehiivClient, notifications *NotificationClient, tmpl CampaignTemplate) *NotifierService {
	return &NotifierService{
		DB:             db,
		Beehiiv:        beehiiv,
		Notifications:  notifications,
		Template:       tmpl,
		RetryBaseDelay: 500 * time.Millisecond,
		SettleDelay:    2 * time.Second,
	}
}

// Notify runs both fan-out effects for an updated entry. Failures are captured
// in the result and the operation log, never returned as errors.
func (s *NotifierService) Notify(ctx context.Context, entry *models.Entry) FanOutResult {
	var result FanOutResult

	if err := s.SyncEntryToBeehiiv(ctx, entry); err != nil {
		result.BeehiivError = err.Error()
		log.Printf("[NOTIFIER] ❌ BeehiiV sync failed for %s: %v", entry.Email, err)
		LogOperation(s.DB, "notifier.beehiiv_sync", map[string]interface{}{
			"email": entry.Email, "error": err.Error(),
		}, true)
	} else {
		result.BeehiivUpdated = true
	}

	if err := s.SendConversionNotification(ctx, entry); err != nil {
		result.NotificationError = err.Error()
		log.Printf("[NOTIFIER] ❌ Notification email failed for %s: %v", entry.Email, err)
		LogOperation(s.DB, "notifier.notification_email", map[string]interface{}{
			"email": entry.Email, "error": err.Error(),
		}, true)
	} else {
		result.NotificationSent = true
	}

	return result
}

// SyncEntryToBeehiiv looks up (or creates) the subscriber and sets the
// total_entries custom field. BeehiiV is eventually consistent right after a
// create, so the field update retries with exponential backoff; a 404 mid-retry
// means the subscriber id changed and triggers a fresh lookup.
func (s *NotifierService) SyncEntryToBeehiiv(ctx context.Context, entry *models.Entry) error {
	sub, err := s.Beehiiv.GetSubscriberByEmail(ctx, entry.Email)
	if errors.Is(err, ErrSubscriberNotFound) {
		sub, err = s.createSubscriberForEntry(ctx, entry)
		if err != nil {
			return fmt.Errorf("subscriber create failed: %w", err)
		}
		// Give the remote side a moment before touching the fresh record
		select {
		case <-time.After(s.SettleDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	} else if err != nil {
		return fmt.Errorf("subscriber lookup failed: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < fieldUpdateMaxAttempts; attempt++ {
		if attempt > 0 {
			backoff := s.RetryBaseDelay * time.Duration(1<<attempt)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := s.Beehiiv.UpdateSubscriberField(ctx, sub.ID, totalEntriesField, entry.TotalEntries)
		if err == nil {
			if tagErr := s.Beehiiv.AddTags(ctx, sub.ID, []string{"sweepstakes", "referrer"}); tagErr != nil {
				log.Printf("[NOTIFIER] ⚠️ tag attach failed for %s: %v", entry.Email, tagErr)
			}
			return nil
		}
		lastErr = err

		if errors.Is(err, ErrSubscriberNotFound) {
			// Subscriber id may have changed after creation — re-resolve it
			fresh, lookupErr := s.Beehiiv.GetSubscriberByEmail(ctx, entry.Email)
			if lookupErr == nil {
				sub = fresh
			}
		}
	}

	return fmt.Errorf("custom field update failed after %d attempts: %w", fieldUpdateMaxAttempts, lastErr)
}

func (s *NotifierService) createSubscriberForEntry(ctx context.Context, entry *models.Entry) (*BeehiivSubscriber, error) {
	return s.Beehiiv.CreateSubscriber(ctx, "", CreateSubscriberRequest{
		Email:        entry.Email,
		FirstName:    entry.FirstName,
		LastName:     entry.LastName,
		ReferralCode: entry.ReferralCode,
		CustomFields: map[string]string{
			"referral_code": entry.ReferralCode,
		},
		Tags:        []string{"sweepstakes"},
		SendWelcome: false,
	})
}

// SendConversionNotification emails the referrer that a referral was credited.
func (s *NotifierService) SendConversionNotification(ctx context.Context, entry *models.Entry) error {
	if entry.Email == "" || entry.FirstName == "" || entry.ReferralCode == "" || entry.TotalEntries <= 0 {
		return fmt.Errorf("entry %s missing notification fields (email/first_name/referral_code/total_entries)", entry.ID)
	}

	payload := NotificationPayload{
		Email:        entry.Email,
		FirstName:    cases.Title(language.English).String(entry.FirstName),
		ReferralCode: entry.ReferralCode,
		TotalEntries: entry.TotalEntries,
		Subject:      "You just earned another entry! 🎉",
	}
	if s.Template.Subject != "" {
		payload.Subject = s.Template.Subject
	}
	if s.Template.TemplateID != "" {
		payload.TemplateID = s.Template.TemplateID
	}

	return s.Notifications.Send(ctx, payload)
}

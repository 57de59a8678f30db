// services/beehiiv.go
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
	"net/url"
	"time"
)

var (
	// ErrSubscriberNotFound maps a BeehiiV 404 — subscriber does not exist (yet)
	ErrSubscriberNotFound = errors.New("beehiiv: subscriber not found")
	// ErrSubscriberExists maps a BeehiiV 409 — subscriber already on the publication
	ErrSubscriberExists = errors.New("beehiiv: subscriber already exists")
)

// APIError carries a non-success BeehiiV response for error_message storage.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("beehiiv API error %d: %s", e.StatusCode, e.Body)
}

// BeehiivClient wraps the BeehiiV v2 API surface this service depends on.
type BeehiivClient struct {
	BaseURL       string
	APIKey        string
	PublicationID string
	Client        *http.Client
}

type BeehiivSubscriber struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	Status       string `json:"status"`
	SubscriberID string `json:"subscriber_id,omitempty"`
}

type CreateSubscriberRequest struct {
	Email        string            `json:"email"`
	FirstName    string            `json:"first_name,omitempty"`
	LastName     string            `json:"last_name,omitempty"`
	ReferralCode string            `json:"referral_code,omitempty"`
	CustomFields map[string]string `json:"custom_fields,omitempty"`
	Tags         []string          `json:"tags,omitempty"`
	SendWelcome  bool              `json:"send_welcome_email"`
}

func NewBeehiivClient(baseURL, apiKey, publicationID string) *BeehiivClient {
	if baseURL == "" {
		baseURL = "https://api.beehiiv.com/v2"
	}
	return &BeehiivClient{
		BaseURL:       baseURL,
		APIKey:        apiKey,
		PublicationID: publicationID,
		Client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *BeehiivClient) doJSON(ctx context.Context, method, path string, body interface{}) (int, []byte, error) {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reqBody)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.Client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	return resp.StatusCode, respBody, nil
}

// GetSubscriberByEmail looks up a subscriber on the configured publication.
func (c *BeehiivClient) GetSubscriberByEmail(ctx context.Context, email string) (*BeehiivSubscriber, error) {
	path := fmt.Sprintf("/publications/%s/subscriptions/by_email/%s",
		c.PublicationID, url.PathEscape(email))

	status, body, err := c.doJSON(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, ErrSubscriberNotFound
	}
	if status != http.StatusOK {
		return nil, &APIError{StatusCode: status, Body: string(body)}
	}

	var out struct {
		Data BeehiivSubscriber `json:"data"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to decode subscriber response: %w", err)
	}
	return &out.Data, nil
}

// CreateSubscriber creates a subscriber on the given publication. A 409 (or the
// "already subscribed" variant BeehiiV sometimes returns as 400) maps to
// ErrSubscriberExists so callers can treat duplicates as benign.
func (c *BeehiivClient) CreateSubscriber(ctx context.Context, publicationID string, req CreateSubscriberRequest) (*BeehiivSubscriber, error) {
	if publicationID == "" {
		publicationID = c.PublicationID
	}
	path := fmt.Sprintf("/publications/%s/subscriptions", publicationID)

	status, body, err := c.doJSON(ctx, http.MethodPost, path, req)
	if err != nil {
		return nil, err
	}
	if status == http.StatusConflict {
		return nil, ErrSubscriberExists
	}
	if status < 200 || status >= 300 {
		return nil, &APIError{StatusCode: status, Body: string(body)}
	}

	var out struct {
		Data BeehiivSubscriber `json:"data"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to decode create response: %w", err)
	}
	return &out.Data, nil
}

// UpdateSubscriberField sets one custom field on an existing subscriber.
func (c *BeehiivClient) UpdateSubscriberField(ctx context.Context, subscriberID, field string, value int) error {
	path := fmt.Sprintf("/publications/%s/subscriptions/%s/custom_fields",
		c.PublicationID, url.PathEscape(subscriberID))

	payload := map[string]interface{}{
		"custom_fields": []map[string]interface{}{
			{"name": field, "value": value},
		},
	}

	status, body, err := c.doJSON(ctx, http.MethodPatch, path, payload)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return ErrSubscriberNotFound
	}
	if status < 200 || status >= 300 {
		log.Printf("[BEEHIIV] custom field update returned %d: %s", status, string(body))
		return &APIError{StatusCode: status, Body: string(body)}
	}
	return nil
}

// AddTags attaches tags to a subscriber (best effort — callers log failures).
func (c *BeehiivClient) AddTags(ctx context.Context, subscriberID string, tags []string) error {
	if len(tags) == 0 {
		return nil
	}
	path := fmt.Sprintf("/publications/%s/subscriptions/%s/tags",
		c.PublicationID, url.PathEscape(subscriberID))

	status, body, err := c.doJSON(ctx, http.MethodPost, path, map[string]interface{}{"tags": tags})
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return &APIError{StatusCode: status, Body: string(body)}
	}
	return nil
}

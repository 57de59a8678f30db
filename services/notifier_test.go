package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"sweepstakes-system/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBeehiiv simulates the subset of the BeehiiV API the notifier touches.
type fakeBeehiiv struct {
	mu sync.Mutex

	subscriberExists bool
	subscriberID     string

	// number of PATCH custom_fields calls to fail with 500 before succeeding
	fieldFailures int

	lookups      int
	creates      int
	fieldUpdates int
	tagCalls     int
}

func (f *fakeBeehiiv) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		switch {
		case r.Method == http.MethodGet && strings.Contains(r.URL.Path, "/by_email/"):
			f.lookups++
			if !f.subscriberExists {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"data": map[string]string{"id": f.subscriberID},
			})

		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/subscriptions"):
			f.creates++
			f.subscriberExists = true
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"data": map[string]string{"id": f.subscriberID},
			})

		case r.Method == http.MethodPatch && strings.HasSuffix(r.URL.Path, "/custom_fields"):
			f.fieldUpdates++
			if f.fieldFailures > 0 {
				f.fieldFailures--
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusOK)

		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/tags"):
			f.tagCalls++
			w.WriteHeader(http.StatusOK)

		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func newTestNotifier(t *testing.T, fake *fakeBeehiiv) (*NotifierService, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(fake.handler())
	beehiiv := NewBeehiivClient(srv.URL, "key", "pub_1")
	notifier := NewNotifierService(nil, beehiiv, nil, CampaignTemplate{})
	notifier.RetryBaseDelay = time.Millisecond
	notifier.SettleDelay = 0
	return notifier, srv
}

func testEntry() *models.Entry {
	return &models.Entry{
		ID:            "e1",
		Email:         "jane@example.com",
		FirstName:     "jane",
		LastName:      "doe",
		ReferralCode:  "ABC123XY",
		EntryCount:    1,
		ReferralCount: 3,
		TotalEntries:  4,
	}
}

func TestSyncEntryToBeehiiv_ExistingSubscriber(t *testing.T) {
	fake := &fakeBeehiiv{subscriberExists: true, subscriberID: "sub_1"}
	notifier, srv := newTestNotifier(t, fake)
	defer srv.Close()

	err := notifier.SyncEntryToBeehiiv(context.Background(), testEntry())
	require.NoError(t, err)
	assert.Equal(t, 1, fake.lookups)
	assert.Equal(t, 0, fake.creates)
	assert.Equal(t, 1, fake.fieldUpdates)
	assert.Equal(t, 1, fake.tagCalls)
}

func TestSyncEntryToBeehiiv_CreatesMissingSubscriber(t *testing.T) {
	fake := &fakeBeehiiv{subscriberExists: false, subscriberID: "sub_new"}
	notifier, srv := newTestNotifier(t, fake)
	defer srv.Close()

	err := notifier.SyncEntryToBeehiiv(context.Background(), testEntry())
	require.NoError(t, err)
	assert.Equal(t, 1, fake.creates)
	assert.Equal(t, 1, fake.fieldUpdates)
}

func TestSyncEntryToBeehiiv_RetriesFieldUpdate(t *testing.T) {
	fake := &fakeBeehiiv{subscriberExists: true, subscriberID: "sub_1", fieldFailures: 2}
	notifier, srv := newTestNotifier(t, fake)
	defer srv.Close()

	err := notifier.SyncEntryToBeehiiv(context.Background(), testEntry())
	require.NoError(t, err)
	assert.Equal(t, 3, fake.fieldUpdates)
}

func TestSyncEntryToBeehiiv_GivesUpAfterMaxAttempts(t *testing.T) {
	fake := &fakeBeehiiv{subscriberExists: true, subscriberID: "sub_1", fieldFailures: 10}
	notifier, srv := newTestNotifier(t, fake)
	defer srv.Close()

	err := notifier.SyncEntryToBeehiiv(context.Background(), testEntry())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, fieldUpdateMaxAttempts, fake.fieldUpdates)
}

func TestSendConversionNotification(t *testing.T) {
	t.Run("sends templated payload with title-cased name", func(t *testing.T) {
		var received NotificationPayload
		calls := 0
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		notifier := NewNotifierService(nil, nil, NewNotificationClient(srv.URL, "tok"), CampaignTemplate{
			Subject: "Campaign subject",
		})

		err := notifier.SendConversionNotification(context.Background(), testEntry())
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
		assert.Equal(t, "Jane", received.FirstName)
		assert.Equal(t, "ABC123XY", received.ReferralCode)
		assert.Equal(t, 4, received.TotalEntries)
		assert.Equal(t, "Campaign subject", received.Subject)
	})

	t.Run("rejects entries with missing fields before calling the API", func(t *testing.T) {
		calls := 0
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
		}))
		defer srv.Close()

		notifier := NewNotifierService(nil, nil, NewNotificationClient(srv.URL, "tok"), CampaignTemplate{})

		entry := testEntry()
		entry.FirstName = ""
		err := notifier.SendConversionNotification(context.Background(), entry)
		require.Error(t, err)
		assert.Equal(t, 0, calls)
	})
}

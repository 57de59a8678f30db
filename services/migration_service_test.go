package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"sweepstakes-system/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutcomeForError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus models.MigrationStatus
		wantMsg    string
	}{
		{"created", nil, models.MigrationStatusMigrated, ""},
		{"duplicate subscriber", ErrSubscriberExists, models.MigrationStatusAlreadyExists, ""},
		{
			"API failure keeps response body",
			&APIError{StatusCode: 500, Body: `{"error":"boom"}`},
			models.MigrationStatusFailed,
			`API 500: {"error":"boom"}`,
		},
		{
			"wrapped duplicate still benign",
			errors.Join(errors.New("create failed"), ErrSubscriberExists),
			models.MigrationStatusAlreadyExists,
			"",
		},
		{
			"transport error message preserved",
			errors.New("dial tcp: connection refused"),
			models.MigrationStatusFailed,
			"dial tcp: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, msg := outcomeForError(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantMsg, msg)
		})
	}
}

// fakeSubscriptionServer answers CreateSubscriber calls by email prefix:
// "dup" → 409, "bad" → 500, anything else → 201.
func fakeSubscriptionServer(onRequest func()) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if onRequest != nil {
			onRequest()
		}
		var req CreateSubscriberRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		switch {
		case strings.HasPrefix(req.Email, "dup"):
			w.WriteHeader(http.StatusConflict)
		case strings.HasPrefix(req.Email, "bad"):
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"boom"}`))
		default:
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"data":{"id":"sub_` + req.Email + `","email":"` + req.Email + `","status":"active"}}`))
		}
	}))
}

func TestProcessBatchAggregation(t *testing.T) {
	db := testDB(t)
	require.NoError(t, db.Exec("DELETE FROM migration_subscribers").Error)

	srv := fakeSubscriptionServer(nil)
	defer srv.Close()

	rows := []models.MigrationSubscriber{
		{Email: "ok@example.com", FirstName: "Olive", Status: models.MigrationStatusPending},
		{Email: "dup@example.com", Status: models.MigrationStatusPending},
		{Email: "bad@example.com", Status: models.MigrationStatusPending},
	}
	require.NoError(t, db.Create(&rows).Error)

	svc := NewMigrationService(db, NewBeehiivClient(srv.URL, "test-key", "pub_1"))
	svc.RecordDelay = 0

	result, err := svc.ProcessBatch(context.Background(), 10, "")
	require.NoError(t, err)

	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 1, result.Success)
	assert.Equal(t, 1, result.Duplicates)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, result.Total, result.Success+result.Duplicates+result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "bad@example.com", result.Errors[0].Email)

	var got models.MigrationSubscriber
	require.NoError(t, db.First(&got, "email = ?", "ok@example.com").Error)
	assert.Equal(t, models.MigrationStatusMigrated, got.Status)
	require.NotNil(t, got.SubscriberID)
	assert.Equal(t, "sub_ok@example.com", *got.SubscriberID)
	assert.NotNil(t, got.MigratedAt)

	require.NoError(t, db.First(&got, "email = ?", "dup@example.com").Error)
	assert.Equal(t, models.MigrationStatusAlreadyExists, got.Status)

	require.NoError(t, db.First(&got, "email = ?", "bad@example.com").Error)
	assert.Equal(t, models.MigrationStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "API 500")
}

func TestProcessBatchCancelledMidBatch(t *testing.T) {
	db := testDB(t)
	require.NoError(t, db.Exec("DELETE FROM migration_subscribers").Error)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The batch loses its context right after the first subscribe call
	srv := fakeSubscriptionServer(cancel)
	defer srv.Close()

	rows := []models.MigrationSubscriber{
		{Email: "one@example.com", Status: models.MigrationStatusPending},
		{Email: "two@example.com", Status: models.MigrationStatusPending},
	}
	require.NoError(t, db.Create(&rows).Error)

	svc := NewMigrationService(db, NewBeehiivClient(srv.URL, "test-key", "pub_1"))
	svc.RecordDelay = 10 * time.Millisecond

	result, err := svc.ProcessBatch(ctx, 10, "")
	require.ErrorIs(t, err, context.Canceled)

	// Only the processed slice is reported; the aggregate invariant still holds
	assert.Equal(t, 1, result.Total)
	assert.Equal(t, result.Total, result.Success+result.Duplicates+result.Failed)
}

func TestRecoverStalled(t *testing.T) {
	db := testDB(t)
	require.NoError(t, db.Exec("DELETE FROM migration_subscribers").Error)

	batch := uuid.NewString()
	stalled := models.MigrationSubscriber{
		Email:          "stalled@example.com",
		Status:         models.MigrationStatusInProgress,
		MigrationBatch: &batch,
	}
	require.NoError(t, db.Create(&stalled).Error)
	require.NoError(t, db.Exec(
		"UPDATE migration_subscribers SET updated_at = NOW() - INTERVAL '45 minutes' WHERE id = ?",
		stalled.ID,
	).Error)

	fresh := models.MigrationSubscriber{
		Email:          "fresh@example.com",
		Status:         models.MigrationStatusInProgress,
		MigrationBatch: &batch,
	}
	require.NoError(t, db.Create(&fresh).Error)

	svc := NewMigrationService(db, NewBeehiivClient("http://unused.invalid", "test-key", "pub_1"))
	reset, err := svc.RecoverStalled()
	require.NoError(t, err)
	assert.EqualValues(t, 1, reset)

	var got models.MigrationSubscriber
	require.NoError(t, db.First(&got, "id = ?", stalled.ID).Error)
	assert.Equal(t, models.MigrationStatusPending, got.Status)
	assert.Nil(t, got.MigrationBatch)

	require.NoError(t, db.First(&got, "id = ?", fresh.ID).Error)
	assert.Equal(t, models.MigrationStatusInProgress, got.Status)
}

package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attend-sync/internal/config"
	app_errors "attend-sync/internal/errors"
	"attend-sync/internal/models"
	"attend-sync/internal/types"
)

func newTestClient(serverURL string) *Client {
	sync := types.SyncConfig{
		ServerURL:                serverURL,
		ServerAuthKey:            "server-key",
		IntervalSeconds:          60,
		AttemptTimeoutSeconds:    30,
		BatchSize:                100,
		RetryHorizonDays:         14,
		ErrorVisibilityThreshold: 3,
	}
	return NewClient(&config.MockConfig{SyncValue: &sync})
}

func sampleRecords(n int) []models.AttendanceRecord {
	records := make([]models.AttendanceRecord, 0, n)
	for i := 0; i < n; i++ {
		records = append(records, models.AttendanceRecord{
			ID:         string(rune('a'+i)) + "-rec",
			EmployeeID: "emp-1",
			Timestamp:  time.Now().UTC(),
			Type:       models.PunchClockIn,
			Method:     models.MethodGeo,
		})
	}
	return records
}

func TestUploadRecordsParsesVerdicts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/attendance/records", r.URL.Path)
		assert.Equal(t, "Bearer server-key", r.Header.Get("Authorization"))

		var body struct {
			Records []struct {
				ID string `json:"id"`
			} `json:"records"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Records, 2)

		resp := map[string]interface{}{
			"verdicts": []map[string]interface{}{
				{"record_id": body.Records[0].ID, "status": "accepted", "server_revision": 7},
				{"record_id": body.Records[1].ID, "status": "conflict", "existing_record_id": "srv-1", "existing_sequence": 3, "pairing_violation": true},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	verdicts, err := client.UploadRecords(context.Background(), sampleRecords(2))
	require.NoError(t, err)
	require.Len(t, verdicts, 2)
	assert.Equal(t, VerdictAccepted, verdicts[0].Status)
	assert.Equal(t, int64(7), verdicts[0].ServerRevision)
	assert.Equal(t, VerdictConflict, verdicts[1].Status)
	assert.True(t, verdicts[1].PairingViolation)
	assert.Equal(t, int64(3), verdicts[1].ExistingSequence)
}

func TestUploadRecordsVerdictCountMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"verdicts": []interface{}{}})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.UploadRecords(context.Background(), sampleRecords(1))
	var syncErr *app_errors.SyncError
	require.ErrorAs(t, err, &syncErr)
	assert.Equal(t, app_errors.ServerRejected, syncErr.Code)
}

func TestUploadRecordsServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":{"message":"maintenance window"}}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.UploadRecords(context.Background(), sampleRecords(1))
	var syncErr *app_errors.SyncError
	require.ErrorAs(t, err, &syncErr)
	assert.Equal(t, app_errors.NetworkUnavailable, syncErr.Code)
	assert.True(t, syncErr.Transient())
	assert.Contains(t, syncErr.Detail, "maintenance window")
}

func TestUploadRecordsBadRequestIsPermanent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":"unknown site version"}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.UploadRecords(context.Background(), sampleRecords(1))
	var syncErr *app_errors.SyncError
	require.ErrorAs(t, err, &syncErr)
	assert.Equal(t, app_errors.ServerRejected, syncErr.Code)
	assert.False(t, syncErr.Transient())
}

func TestUploadRecordsNetworkFailure(t *testing.T) {
	client := newTestClient("http://127.0.0.1:1")
	_, err := client.UploadRecords(context.Background(), sampleRecords(1))
	var syncErr *app_errors.SyncError
	require.ErrorAs(t, err, &syncErr)
	assert.Equal(t, app_errors.NetworkUnavailable, syncErr.Code)
}

func TestUploadRecordsAttemptTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.UploadRecords(ctx, sampleRecords(1))
	var syncErr *app_errors.SyncError
	require.ErrorAs(t, err, &syncErr)
	assert.Equal(t, app_errors.ServerTimeout, syncErr.Code)
}

func TestResolveConflict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/attendance/records/rec-1/resolve", r.URL.Path)
		json.NewEncoder(w).Encode(RecordVerdict{RecordID: "rec-1", Status: VerdictAccepted, ServerRevision: 55})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	verdict, err := client.ResolveConflict(context.Background(), &models.AttendanceRecord{ID: "rec-1"})
	require.NoError(t, err)
	assert.Equal(t, VerdictAccepted, verdict.Status)
	assert.Equal(t, int64(55), verdict.ServerRevision)
}

func TestFetchPolicy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/attendance/policy/standard", r.URL.Path)
		assert.NotEmpty(t, r.URL.Query().Get("as_of"))
		json.NewEncoder(w).Encode(models.OvertimePolicy{
			PolicyID:              "standard",
			Version:               3,
			DailyThresholdMinutes: 480,
		})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	policy, err := client.FetchPolicy(context.Background(), "standard", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 3, policy.Version)
	assert.Equal(t, 480, policy.DailyThresholdMinutes)
}

func TestMissingServerURL(t *testing.T) {
	client := newTestClient("")
	_, err := client.UploadRecords(context.Background(), sampleRecords(1))
	var syncErr *app_errors.SyncError
	require.ErrorAs(t, err, &syncErr)
	assert.Equal(t, app_errors.NetworkUnavailable, syncErr.Code)
}

func TestExtractErrorMessageFallbacks(t *testing.T) {
	assert.Equal(t, "boom", extractErrorMessage([]byte(`{"error":{"message":"boom"}}`)))
	assert.Equal(t, "plain", extractErrorMessage([]byte(`{"error":"plain"}`)))
	assert.Equal(t, "detail text", extractErrorMessage([]byte(`{"detail":"detail text"}`)))
	assert.Equal(t, "empty response body", extractErrorMessage(nil))
	assert.Equal(t, "not json at all", extractErrorMessage([]byte("not json at all")))
}

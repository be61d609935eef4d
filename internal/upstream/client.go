// Package upstream talks to the central attendance server. All calls are
// bounded by the caller's context; classification of failures into
// transient and permanent lives here so the sync layer can decide whether
// to retry.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	app_errors "attend-sync/internal/errors"
	"attend-sync/internal/models"
	"attend-sync/internal/types"
)

// VerdictStatus is the server's per-record decision.
type VerdictStatus string

const (
	VerdictAccepted VerdictStatus = "accepted"
	VerdictRejected VerdictStatus = "rejected"
	VerdictConflict VerdictStatus = "conflict"
)

// RecordVerdict is one entry of the batch upload response. Every record in
// the request gets exactly one verdict; batches are never all-or-nothing.
type RecordVerdict struct {
	RecordID         string        `json:"record_id"`
	Status           VerdictStatus `json:"status"`
	ServerRevision   int64         `json:"server_revision,omitempty"`
	Reason           string        `json:"reason,omitempty"`
	ExistingRecordID string        `json:"existing_record_id,omitempty"`
	ExistingSequence int64         `json:"existing_sequence,omitempty"`
	PairingViolation bool          `json:"pairing_violation,omitempty"`
}

type uploadRecord struct {
	ID          string          `json:"id"`
	EmployeeID  string          `json:"employee_id"`
	Timestamp   time.Time       `json:"timestamp"`
	ClockSkewMs int64           `json:"clock_skew_ms"`
	Type        string          `json:"type"`
	Method      string          `json:"method"`
	Evidence    json.RawMessage `json:"evidence,omitempty"`
	DeviceID    string          `json:"device_id"`
	SiteID      *uint           `json:"site_id,omitempty"`
	PolicyID    string          `json:"policy_id,omitempty"`
}

// Client is the HTTP client for the central server.
type Client struct {
	baseURL    string
	authKey    string
	httpClient *http.Client
}

// NewClient builds a Client from the sync configuration.
func NewClient(configManager types.ConfigManager) *Client {
	syncCfg := configManager.GetSyncConfig()
	transport := &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Client{
		baseURL: syncCfg.ServerURL,
		authKey: syncCfg.ServerAuthKey,
		httpClient: &http.Client{
			Transport: transport,
			// Per-attempt deadlines come from the caller's context.
		},
	}
}

// UploadRecords posts a batch of records. Uploads are idempotent by record
// ID: re-sending an already accepted record returns its original verdict.
func (c *Client) UploadRecords(ctx context.Context, records []models.AttendanceRecord) ([]RecordVerdict, error) {
	if c.baseURL == "" {
		return nil, app_errors.NewSyncError(app_errors.NetworkUnavailable, "sync server URL not configured")
	}

	payload := make([]uploadRecord, 0, len(records))
	for i := range records {
		rec := &records[i]
		payload = append(payload, uploadRecord{
			ID:          rec.ID,
			EmployeeID:  rec.EmployeeID,
			Timestamp:   rec.Timestamp,
			ClockSkewMs: rec.ClockSkewMs,
			Type:        rec.Type,
			Method:      rec.Method,
			Evidence:    json.RawMessage(rec.Evidence),
			DeviceID:    rec.DeviceID,
			SiteID:      rec.SiteID,
			PolicyID:    rec.PolicyID,
		})
	}
	body, err := json.Marshal(map[string]interface{}{"records": payload})
	if err != nil {
		return nil, app_errors.NewSyncError(app_errors.ServerRejected, fmt.Sprintf("encode batch: %v", err))
	}

	respBody, err := c.do(ctx, http.MethodPost, "/attendance/records", body)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Verdicts []RecordVerdict `json:"verdicts"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, app_errors.NewSyncError(app_errors.ServerRejected,
			fmt.Sprintf("malformed verdict response: %v", err))
	}
	if len(parsed.Verdicts) != len(records) {
		return nil, app_errors.NewSyncError(app_errors.ServerRejected,
			fmt.Sprintf("verdict count %d does not match batch size %d", len(parsed.Verdicts), len(records)))
	}
	return parsed.Verdicts, nil
}

// ResolveConflict re-submits a single record under last-write-wins. The
// server assigns sequence numbers at arrival, so the re-submission wins
// unless the server still refuses it outright.
func (c *Client) ResolveConflict(ctx context.Context, rec *models.AttendanceRecord) (*RecordVerdict, error) {
	if c.baseURL == "" {
		return nil, app_errors.NewSyncError(app_errors.NetworkUnavailable, "sync server URL not configured")
	}
	body, err := json.Marshal(map[string]interface{}{"strategy": "last_write_wins"})
	if err != nil {
		return nil, app_errors.NewSyncError(app_errors.ServerRejected, fmt.Sprintf("encode resolution: %v", err))
	}
	path := fmt.Sprintf("/attendance/records/%s/resolve", rec.ID)
	respBody, err := c.do(ctx, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}
	var verdict RecordVerdict
	if err := json.Unmarshal(respBody, &verdict); err != nil {
		return nil, app_errors.NewSyncError(app_errors.ServerRejected,
			fmt.Sprintf("malformed resolution response: %v", err))
	}
	return &verdict, nil
}

// FetchPolicy retrieves the policy snapshot active at asOf.
func (c *Client) FetchPolicy(ctx context.Context, policyID string, asOf time.Time) (*models.OvertimePolicy, error) {
	if c.baseURL == "" {
		return nil, app_errors.NewSyncError(app_errors.NetworkUnavailable, "sync server URL not configured")
	}
	path := fmt.Sprintf("/attendance/policy/%s?as_of=%s", policyID, asOf.UTC().Format(time.RFC3339))
	respBody, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var policy models.OvertimePolicy
	if err := json.Unmarshal(respBody, &policy); err != nil {
		return nil, app_errors.NewSyncError(app_errors.ServerRejected,
			fmt.Sprintf("malformed policy response: %v", err))
	}
	return &policy, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, app_errors.NewSyncError(app_errors.ServerRejected, fmt.Sprintf("build request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.authKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, app_errors.NewSyncError(app_errors.NetworkUnavailable, fmt.Sprintf("read response: %v", err))
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return respBody, nil
	}

	detail := extractErrorMessage(respBody)
	logrus.WithFields(logrus.Fields{
		"status": resp.StatusCode,
		"path":   path,
	}).Debug("Upstream request failed")

	switch {
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
		return nil, app_errors.NewSyncError(app_errors.ServerTimeout, detail)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, app_errors.NewSyncError(app_errors.NetworkUnavailable,
			fmt.Sprintf("server unavailable (%d): %s", resp.StatusCode, detail))
	default:
		return nil, app_errors.NewSyncError(app_errors.ServerRejected,
			fmt.Sprintf("server rejected request (%d): %s", resp.StatusCode, detail))
	}
}

func classifyTransportError(err error) *app_errors.SyncError {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return app_errors.NewSyncError(app_errors.ServerTimeout, err.Error())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return app_errors.NewSyncError(app_errors.ServerTimeout, "attempt deadline exceeded")
	}
	return app_errors.NewSyncError(app_errors.NetworkUnavailable, err.Error())
}

// extractErrorMessage digs a human-readable message out of whatever error
// body the server returned without requiring a fixed schema.
func extractErrorMessage(body []byte) string {
	if len(body) == 0 {
		return "empty response body"
	}
	for _, key := range []string{"error.message", "error", "message", "detail"} {
		if v := gjson.GetBytes(body, key); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return string(body)
}

package logclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Deliverer attempts to hand one record to the ingestion endpoint. A nil
// error means the attempt reached a terminal verdict (persisted, duplicate,
// or permanently failed); a non-nil error is transient and worth retrying.
type Deliverer interface {
	Deliver(ctx context.Context, record Record) (Result, error)
}

// Client submits records over HTTP. It implements Deliverer.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient constructs a Client with sane defaults.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Deliver posts one record. Status mapping: 201 persisted, 409 duplicate
// (success-equivalent), other 4xx permanently failed with the server's
// reason, 5xx and transport errors transient.
func (c *Client) Deliver(ctx context.Context, record Record) (Result, error) {
	body, err := json.Marshal(record)
	if err != nil {
		return Result{Outcome: OutcomeFailed, Reason: err.Error()}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/logs", bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusCreated:
		return Result{Outcome: OutcomePersisted, LogID: decodeLogID(resp.Body)}, nil
	case resp.StatusCode == http.StatusConflict:
		return Result{Outcome: OutcomeDuplicate, LogID: decodeLogID(resp.Body)}, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return Result{Outcome: OutcomeFailed, Reason: decodeErrorDetail(resp)}, nil
	default:
		return Result{}, fmt.Errorf("ingestion endpoint returned status %d", resp.StatusCode)
	}
}

// Healthy probes the service health endpoint; used as the connectivity
// signal that triggers queue replay.
func (c *Client) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

func decodeLogID(body io.Reader) string {
	var payload struct {
		LogID string `json:"log_id"`
	}
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		return ""
	}
	return payload.LogID
}

func decodeErrorDetail(resp *http.Response) string {
	var payload struct {
		Detail string `json:"detail"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil || payload.Detail == "" {
		return fmt.Sprintf("rejected with status %d", resp.StatusCode)
	}
	return payload.Detail
}

package logclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func submitServer(t *testing.T, status int, body interface{}) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/logs", r.URL.Path)
		require.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		var record Record
		require.NoError(t, json.NewDecoder(r.Body).Decode(&record))
		require.NotEmpty(t, record.ClientMutationID)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestClientDeliverPersisted(t *testing.T) {
	server := submitServer(t, http.StatusCreated, map[string]string{"log_id": "log-1", "outcome": "persisted"})
	client := NewClient(server.URL, "test-token")

	result, err := client.Deliver(context.Background(), queueRecord("m-1"))
	require.NoError(t, err)
	require.Equal(t, OutcomePersisted, result.Outcome)
	require.Equal(t, "log-1", result.LogID)
}

func TestClientDeliverDuplicate(t *testing.T) {
	server := submitServer(t, http.StatusConflict, map[string]string{"log_id": "log-1", "outcome": "duplicate"})
	client := NewClient(server.URL, "test-token")

	result, err := client.Deliver(context.Background(), queueRecord("m-1"))
	require.NoError(t, err)
	require.Equal(t, OutcomeDuplicate, result.Outcome)
	require.Equal(t, "log-1", result.LogID)
}

func TestClientDeliverValidationRejection(t *testing.T) {
	server := submitServer(t, http.StatusBadRequest, map[string]string{"type": "validation_failed", "detail": "sets must not be empty"})
	client := NewClient(server.URL, "test-token")

	result, err := client.Deliver(context.Background(), queueRecord("m-1"))
	require.NoError(t, err, "4xx is a terminal verdict, not a transport error")
	require.Equal(t, OutcomeFailed, result.Outcome)
	require.Equal(t, "sets must not be empty", result.Reason)
}

func TestClientDeliverServerErrorIsTransient(t *testing.T) {
	server := submitServer(t, http.StatusInternalServerError, map[string]string{"type": "server_error"})
	client := NewClient(server.URL, "test-token")

	_, err := client.Deliver(context.Background(), queueRecord("m-1"))
	require.Error(t, err)
}

func TestClientDeliverNetworkFailureIsTransient(t *testing.T) {
	server := submitServer(t, http.StatusCreated, nil)
	url := server.URL
	server.Close()

	client := NewClient(url, "test-token")
	_, err := client.Deliver(context.Background(), queueRecord("m-1"))
	require.Error(t, err)
}

func TestClientHealthy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(server.Close)

	client := NewClient(server.URL, "")
	require.True(t, client.Healthy(context.Background()))

	server.Close()
	require.False(t, client.Healthy(context.Background()))
}

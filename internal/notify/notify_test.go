package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testNotifier(timeout time.Duration) *Notifier {
	return NewNotifier(slog.New(slog.NewTextHandler(io.Discard, nil)), timeout)
}

func TestNotifyDeliversEvent(t *testing.T) {
	t.Parallel()

	var got Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := testNotifier(2 * time.Second)
	err := n.Notify(context.Background(), srv.URL, 7, LeadCaptured, map[string]any{
		"phone_number": "555-123-4567",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, got.EventID)
	assert.Equal(t, LeadCaptured, got.EventType)
	assert.Equal(t, int64(7), got.TenantID)
	assert.Equal(t, "555-123-4567", got.Data["phone_number"])
	assert.False(t, got.OccurredAt.IsZero())
}

func TestNotifyBlankURLIsNoop(t *testing.T) {
	t.Parallel()

	n := testNotifier(time.Second)
	assert.NoError(t, n.Notify(context.Background(), "", 7, LeadCaptured, nil))
}

func TestNotifyReportsRejection(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := testNotifier(time.Second)
	err := n.Notify(context.Background(), srv.URL, 7, LeadCaptured, nil)
	assert.Error(t, err)
}

func TestNotifyTimeoutBounded(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	n := testNotifier(100 * time.Millisecond)
	start := time.Now()
	err := n.Notify(context.Background(), srv.URL, 7, LeadCaptured, nil)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestNotifyUnreachableEndpoint(t *testing.T) {
	t.Parallel()

	n := testNotifier(500 * time.Millisecond)
	err := n.Notify(context.Background(), "http://127.0.0.1:1/hook", 7, LeadCaptured, nil)
	assert.Error(t, err)
}

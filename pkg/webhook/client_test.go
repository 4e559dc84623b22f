package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostDeliversEvent(t *testing.T) {
	var received Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := New(srv.URL, time.Second)
	err := client.Post(context.Background(), Event{Type: "enrollment.approved", Data: map[string]string{"requestId": "r1"}})
	require.NoError(t, err)
	assert.Equal(t, "enrollment.approved", received.Type)
	assert.False(t, received.OccurredAt.IsZero())
}

func TestPostFailsOnErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := New(srv.URL, time.Second).Post(context.Background(), Event{Type: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestNewWithoutURLIsDisabled(t *testing.T) {
	c := New("", 0)
	assert.Nil(t, c)
	assert.Error(t, c.Post(context.Background(), Event{}))
}

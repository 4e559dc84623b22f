package mailer

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/sendgrid/rest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSendGridDisabledWithoutKey(t *testing.T) {
	assert.Nil(t, NewSendGrid("", "LearnApp", "noreply@example.com"))
	var m *SendGrid
	assert.Error(t, m.Send(context.Background(), Message{ToEmail: "a@example.com"}))
}

func TestSendBuildsV3Payload(t *testing.T) {
	m := NewSendGrid("key", "LearnApp", "noreply@example.com")
	var captured rest.Request
	m.send = func(ctx context.Context, req rest.Request) (*rest.Response, error) {
		captured = req
		return &rest.Response{StatusCode: http.StatusAccepted}, nil
	}

	err := m.Send(context.Background(), Message{
		ToName:   "Ada",
		ToEmail:  "ada@example.com",
		Subject:  "Enrollment approved",
		Text:     "You're in.",
		Category: "enrollment",
	})
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, string(captured.Method))
	assert.Equal(t, "https://api.sendgrid.com/v3/mail/send", captured.BaseURL)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(captured.Body, &body))
	personalizations := body["personalizations"].([]interface{})
	require.Len(t, personalizations, 1)
	assert.Equal(t, "Enrollment approved", personalizations[0].(map[string]interface{})["subject"])
}

func TestSendReportsRejectedStatus(t *testing.T) {
	m := NewSendGrid("key", "LearnApp", "noreply@example.com")
	m.send = func(ctx context.Context, req rest.Request) (*rest.Response, error) {
		return &rest.Response{StatusCode: http.StatusUnauthorized, Body: "bad key"}, nil
	}
	err := m.Send(context.Background(), Message{ToEmail: "ada@example.com", Subject: "x", Text: "y"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

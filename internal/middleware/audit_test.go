package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kovancilartr/learnapp-api/internal/models"
)

type recordingAuditor struct {
	entries []models.AuditLog
	err     error
}

func (r *recordingAuditor) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	r.entries = append(r.entries, *log)
	return r.err
}

func newAuditedRouter(recorder AuditRecorder, status int) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/requests/:id/approve", func(c *gin.Context) {
		c.Set(ContextUserKey, &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin})
		c.Next()
	}, Audit(recorder, models.AuditActionRequestApprove, models.AuditResourceEnrollmentRequest, nil), func(c *gin.Context) {
		c.Status(status)
	})
	return r
}

func TestAuditRecordsSuccessfulRequests(t *testing.T) {
	recorder := &recordingAuditor{}
	r := newAuditedRouter(recorder, http.StatusOK)

	req := httptest.NewRequest(http.MethodPost, "/requests/req-9/approve", nil)
	req.Header.Set("User-Agent", "console")
	r.ServeHTTP(httptest.NewRecorder(), req)

	require.Len(t, recorder.entries, 1)
	entry := recorder.entries[0]
	assert.Equal(t, models.AuditActionRequestApprove, entry.Action)
	assert.Equal(t, models.AuditResourceEnrollmentRequest, entry.Resource)
	require.NotNil(t, entry.UserID)
	assert.Equal(t, "admin-1", *entry.UserID)
	require.NotNil(t, entry.ResourceID)
	assert.Equal(t, "req-9", *entry.ResourceID)
	assert.Equal(t, "console", entry.UserAgent)

	var details map[string]interface{}
	require.NoError(t, json.Unmarshal(entry.Details, &details))
	assert.Equal(t, "/requests/:id/approve", details["path"])
}

func TestAuditSkipsFailedRequests(t *testing.T) {
	recorder := &recordingAuditor{}
	r := newAuditedRouter(recorder, http.StatusConflict)
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/requests/req-9/approve", nil))
	assert.Empty(t, recorder.entries)
}

func TestAuditStoreFailureDoesNotChangeResponse(t *testing.T) {
	recorder := &recordingAuditor{err: errors.New("db down")}
	r := newAuditedRouter(recorder, http.StatusOK)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/requests/req-9/approve", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, recorder.entries, 1)
}

func TestResponseMeta(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())

	SetCacheHit(c, true)
	meta := ResponseMeta(c, time.Now().Add(-25*time.Millisecond))
	assert.Equal(t, true, meta["cache_hit"])
	assert.GreaterOrEqual(t, meta["processing_time_ms"].(int64), int64(25))
}

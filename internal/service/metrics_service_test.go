package service

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsServiceExportsDatabaseSeries(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	metrics := NewMetricsService()
	require.NoError(t, metrics.RegisterDBStats(db, "postgres"))
	metrics.ObserveDBQuery("enrollment_statistics", 30*time.Millisecond)
	metrics.ObserveDBQuery("enrollment_decide_tx", 10*time.Millisecond)

	families, err := metrics.registry.Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["learnapp_db_query_duration_seconds"])
	assert.True(t, names["go_sql_open_connections"])

	w := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, w.Body.String(), `go_sql_max_open_connections{db_name="postgres"}`)
	assert.Contains(t, w.Body.String(), `learnapp_db_query_duration_seconds_count{query="enrollment_statistics"} 1`)

	snapshot := metrics.Snapshot()
	assert.Equal(t, uint64(2), snapshot.DBQueries)
	assert.InDelta(t, 20, snapshot.AverageDBQueryMs, 0.001)
}

func TestMetricsServiceNilIsSafe(t *testing.T) {
	var metrics *MetricsService
	assert.NoError(t, metrics.RegisterDBStats(nil, "postgres"))
	metrics.ObserveDBQuery("noop", time.Millisecond)
	assert.Zero(t, metrics.Snapshot().DBQueries)
}

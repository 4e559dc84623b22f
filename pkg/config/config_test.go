package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestDefaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	cfg := fromViper(v)
	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, "/api/v1", cfg.APIPrefix)
	assert.Equal(t, 1, cfg.Enrollment.BulkConcurrency)
	assert.Equal(t, 100, cfg.Enrollment.BulkMaxItems)
	assert.Equal(t, 5*time.Minute, cfg.Cache.StatsTTL)
	assert.Equal(t, 2*time.Second, cfg.Notifications.RetryDelay)
	assert.Nil(t, cfg.CORS.AllowedOrigins)
}

func TestOverridesAndFallbacks(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	v.Set("ENROLLMENT_BULK_CONCURRENCY", 4)
	v.Set("ENROLLMENT_BULK_MAX_ITEMS", -3)
	v.Set("CACHE_STATS_TTL", "not-a-duration")
	v.Set("ALLOWED_ORIGINS", "https://a.example, ,https://b.example")

	cfg := fromViper(v)
	assert.Equal(t, 4, cfg.Enrollment.BulkConcurrency)
	assert.Equal(t, 100, cfg.Enrollment.BulkMaxItems)
	assert.Equal(t, 5*time.Minute, cfg.Cache.StatsTTL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
}

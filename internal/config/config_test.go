package config_test

import (
	"context"
	"testing"
	"time"

	"github.com/aelexs/nextchapter/internal/config"
	"github.com/aelexs/nextchapter/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := config.Load(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "local", cfg.Environment)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, 0, cfg.HTTP.TrustedProxyHops, "forwarded headers ignored by default")

	// Infrastructure defaults
	assert.Equal(t, "documents", cfg.DynamoDB.Table)
	assert.Equal(t, domain.DynamoDBTimeout, cfg.DynamoDB.Timeout)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 0, cfg.Redis.DB)
	assert.Equal(t, domain.RedisTimeout, cfg.Redis.Timeout)
	assert.Equal(t, "ap-northeast-1", cfg.AWS.Region)

	// Domain defaults
	assert.Equal(t, "Asia/Tokyo", cfg.Timeline.Zone)
	assert.Equal(t, domain.SessionTokenLifetime, cfg.Auth.TTL)
}

func TestTimelineResolve(t *testing.T) {
	cfg, err := config.Load(context.Background())
	require.NoError(t, err)

	tl, err := cfg.Timeline.Resolve()

	require.NoError(t, err)
	assert.Equal(t, "Asia/Tokyo", tl.Location.String())
	assert.True(t, tl.Countdown.Equal(time.Date(2025, 6, 30, 15, 0, 0, 0, time.UTC)))
	assert.True(t, tl.Together.Equal(time.Date(2023, 7, 19, 15, 0, 0, 0, time.UTC)))
}

func TestTimelineResolve_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.TimelineConfig
		wantKey string
	}{
		{
			name:    "unknown zone",
			cfg:     config.TimelineConfig{Zone: "Mars/Olympus", Countdown: "2025-07-01T00:00:00+09:00", Together: "2023-07-20T00:00:00+09:00"},
			wantKey: "timeline.zone",
		},
		{
			name:    "countdown not RFC 3339",
			cfg:     config.TimelineConfig{Zone: "Asia/Tokyo", Countdown: "July 1st", Together: "2023-07-20T00:00:00+09:00"},
			wantKey: "timeline.countdown",
		},
		{
			name:    "together not RFC 3339",
			cfg:     config.TimelineConfig{Zone: "Asia/Tokyo", Countdown: "2025-07-01T00:00:00+09:00", Together: ""},
			wantKey: "timeline.together",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.cfg.Resolve()

			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrConfigInvalid)
			assert.Contains(t, err.Error(), tt.wantKey)
		})
	}
}

func TestLoad_InvalidZoneFailsStartup(t *testing.T) {
	t.Setenv("TIMELINE_ZONE", "Nowhere/Special")

	_, err := config.Load(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfigInvalid)
}

func TestIsLocal(t *testing.T) {
	tests := []struct {
		name string
		env  string
		want bool
	}{
		{"local returns true", "local", true},
		{"prod returns false", "prod", false},
		{"dev returns false", "dev", false},
		{"empty returns false", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{Environment: tt.env}

			assert.Equal(t, tt.want, cfg.IsLocal())
		})
	}
}

func TestIsProd(t *testing.T) {
	tests := []struct {
		name string
		env  string
		want bool
	}{
		{"prod returns true", "prod", true},
		{"local returns false", "local", false},
		{"dev returns false", "dev", false},
		{"empty returns false", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{Environment: tt.env}

			assert.Equal(t, tt.want, cfg.IsProd())
		})
	}
}

func TestValidateRequired_LocalAllowsMissingFields(t *testing.T) {
	t.Setenv("ENVIRONMENT", "local")

	cfg, err := config.Load(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "local", cfg.Environment)
}

func TestValidateRequired_ProdRequiresSigningSecret(t *testing.T) {
	t.Setenv("ENVIRONMENT", "prod")
	t.Setenv("REDIS_ADDR", "redis:6379")

	_, err := config.Load(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfigRequired)
	assert.Contains(t, err.Error(), "auth.secret")
}

func TestValidateRequired_ProdRequiresRedisAddr(t *testing.T) {
	t.Setenv("ENVIRONMENT", "prod")
	t.Setenv("AUTH_SECRET", "nextchapter/signing-key")
	t.Setenv("REDIS_ADDR", "")

	_, err := config.Load(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfigRequired)
	assert.Contains(t, err.Error(), "redis.addr")
}

func TestLoadWithEnvOverride(t *testing.T) {
	t.Setenv("ENVIRONMENT", "prod")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("AUTH_SECRET", "nextchapter/signing-key")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("AUTH_TTL", "30m")
	t.Setenv("HTTP_TRUSTEDPROXYHOPS", "1")

	cfg, err := config.Load(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "prod", cfg.Environment)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 9000, cfg.HTTP.Port)
	assert.Equal(t, 30*time.Minute, cfg.Auth.TTL)
	assert.Equal(t, 1, cfg.HTTP.TrustedProxyHops)
}

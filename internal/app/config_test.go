package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 31, cfg.RateLookbackDays)
	assert.Equal(t, 31, cfg.RecalcForwardDays)
	assert.Equal(t, 10*time.Minute, cfg.RateCacheTTL)
	assert.Equal(t, "cashflow.recalc", cfg.RecalcChannel)
	assert.Equal(t, "30 0 * * *", cfg.RolloverCron)
	assert.Zero(t, cfg.RecalcCoalesceWindow)
	assert.Equal(t, 30*time.Second, cfg.RecalcLockTTL)
	assert.False(t, cfg.IsProduction())
}

func TestLoadConfigRejectsOutOfBounds(t *testing.T) {
	cases := map[string]string{
		"RATE_LOOKBACK_DAYS":     "0",
		"RECALC_FORWARD_DAYS":    "400",
		"RECALC_COALESCE_WINDOW": "10s",
		"RECALC_CHANNEL":         "",
		"PG_MAX_CONNS":           "0",
		"RECALC_LOCK_TTL":        "100ms",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := LoadConfig()
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("RECALC_COALESCE_WINDOW", "250ms")
	t.Setenv("CONCEPTS_FILE", "/etc/cashflow/concepts.yaml")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 250*time.Millisecond, cfg.RecalcCoalesceWindow)
	assert.Equal(t, "/etc/cashflow/concepts.yaml", cfg.ConceptsFile)
}

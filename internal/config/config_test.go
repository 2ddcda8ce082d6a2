package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func load(t *testing.T) *Config {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Chdir(t.TempDir()) // no stray .env
	cfg, err := Load()
	require.NoError(t, err)
	return cfg
}

func TestLoad_Defaults(t *testing.T) {
	cfg := load(t)

	assert.Equal(t, 8000, cfg.Port)
	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, "V", cfg.SaleNumberPrefix)
	assert.Equal(t, "D", cfg.RefundNumberPrefix)
	assert.Equal(t, "INV", cfg.VerifactuPrefix)
	assert.Equal(t, 365, cfg.VoucherValidityDays)
	assert.Equal(t, 5, cfg.FiscalMaxRetries)
	assert.False(t, cfg.VerifactuEnabled)
	assert.Len(t, cfg.VerifactuSeedHash, 64)
	assert.Equal(t, "21", cfg.TaxRate().String())
	assert.Equal(t, 15*time.Second, cfg.AEATTimeout())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("VERIFACTU_ENABLED", "true")
	t.Setenv("VERIFACTU_ISSUER_TAX_ID", "B12345678")
	t.Setenv("VERIFACTU_TAX_RATE", "10")
	t.Setenv("AEAT_TIMEOUT_SECONDS", "3")

	cfg := load(t)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "from-env", cfg.JWTSecret)
	assert.True(t, cfg.VerifactuEnabled)
	assert.Equal(t, "B12345678", cfg.VerifactuIssuerTaxID)
	assert.Equal(t, "10", cfg.TaxRate().String())
	assert.Equal(t, 3*time.Second, cfg.AEATTimeout())
}

func TestConfig_Fallbacks(t *testing.T) {
	cfg := &Config{VerifactuTaxRate: "veintiuno", Timezone: "Mars/Olympus"}
	assert.Equal(t, "21", cfg.TaxRate().String())
	assert.Equal(t, time.UTC, cfg.Location())
	assert.Equal(t, 15*time.Second, cfg.AEATTimeout())
}

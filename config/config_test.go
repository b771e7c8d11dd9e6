package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "portal.db", cfg.DatabasePath)
	assert.Equal(t, "200", cfg.XeroAccountCode)
	assert.Equal(t, time.Hour, cfg.VoucherSweepInterval)
	assert.False(t, cfg.InvoicingEnabled)
	assert.Equal(t, []string{"*"}, cfg.Origins())
}

func TestLoad_EnvFileAndEnvironment(t *testing.T) {
	// GIVEN: A .env file and a real environment variable for the same key
	// WHEN: Loading
	// THEN: The environment wins, other .env values are used

	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte(
		"DATABASE_PATH=/tmp/from-file.db\nVOUCHER_SWEEP_INTERVAL=15m\nCORS_ORIGINS=https://a.test, https://b.test\n",
	), 0o600))
	t.Setenv("PORT", "9090")
	t.Setenv("DATABASE_PATH", "/tmp/from-env.db")
	t.Setenv("INVOICING_ENABLED", "true")
	t.Cleanup(func() {
		os.Unsetenv("VOUCHER_SWEEP_INTERVAL")
		os.Unsetenv("CORS_ORIGINS")
	})

	cfg, err := Load(envFile)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "/tmp/from-env.db", cfg.DatabasePath)
	assert.Equal(t, 15*time.Minute, cfg.VoucherSweepInterval)
	assert.True(t, cfg.InvoicingEnabled)
	assert.Equal(t, []string{"https://a.test", "https://b.test"}, cfg.Origins())
}

func TestValidate(t *testing.T) {
	cfg := &Config{Port: 8080, JWTSecret: "s"}
	assert.NoError(t, cfg.Validate())

	cfg.JWTSecret = ""
	assert.Error(t, cfg.Validate())

	cfg = &Config{Port: 8080, JWTSecret: "s", InvoicingEnabled: true}
	assert.Error(t, cfg.Validate())

	cfg.XeroTenantID, cfg.XeroClientID, cfg.XeroRefreshToken = "t", "c", "r"
	assert.NoError(t, cfg.Validate())
}

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "", cfg.Database.URL)
	assert.Equal(t, 30*time.Second, cfg.Redis.TTL)
	assert.True(t, cfg.Trading.InitialBalance.Equal(mustDec(t, "500")))
	assert.Zero(t, cfg.Trading.PriceMaxAge)

	lvl, err := cfg.Log.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, lvl)
}

func TestLoad_FileThenEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	dir := t.TempDir()
	yaml := `
port: "9090"
sqlite:
  path: /var/lib/bitchest.db
trading:
  initial_balance: 750.50
  price_max_age: 10m
assets:
  file: assets.yaml
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))
	t.Setenv("DATABASE_URL", "postgres://bitchest@localhost/bitchest")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("PORT", "7070")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "7070", cfg.Port, "environment wins over file")
	assert.Equal(t, "postgres://bitchest@localhost/bitchest", cfg.Database.URL)
	assert.Equal(t, "/var/lib/bitchest.db", cfg.SQLite.Path)
	assert.True(t, cfg.Trading.InitialBalance.Equal(mustDec(t, "750.5")))
	assert.Equal(t, 10*time.Minute, cfg.Trading.PriceMaxAge)
	assert.Equal(t, "assets.yaml", cfg.Assets.File)

	lvl, err := cfg.Log.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, lvl)
}

func TestLoad_DotEnv(t *testing.T) {
	wd := t.TempDir()
	t.Chdir(wd)
	require.NoError(t, os.WriteFile(filepath.Join(wd, ".env"), []byte("TRADING_INITIAL_BALANCE=1000\n"), 0o644))
	// godotenv sets real environment variables; clear it after the test.
	t.Setenv("TRADING_INITIAL_BALANCE", "")
	require.NoError(t, os.Unsetenv("TRADING_INITIAL_BALANCE"))

	cfg, err := Load(wd)
	require.NoError(t, err)
	assert.True(t, cfg.Trading.InitialBalance.Equal(mustDec(t, "1000")))
}

func TestLoad_Invalid(t *testing.T) {
	t.Chdir(t.TempDir())

	t.Run("negative balance", func(t *testing.T) {
		t.Setenv("TRADING_INITIAL_BALANCE", "-1")
		_, err := Load(t.TempDir())
		assert.Error(t, err)
	})
	t.Run("bad log level", func(t *testing.T) {
		t.Setenv("LOG_LEVEL", "chatty")
		_, err := Load(t.TempDir())
		assert.Error(t, err)
	})
	t.Run("bad decimal", func(t *testing.T) {
		t.Setenv("TRADING_INITIAL_BALANCE", "five hundred")
		_, err := Load(t.TempDir())
		assert.Error(t, err)
	})
}

func mustDec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

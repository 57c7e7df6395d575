package config

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(context.Background(), envconfig.MapLookuper(map[string]string{}))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, BackendFile, cfg.LedgerBackend)
	assert.Equal(t, "./data/bank_data.json", cfg.LedgerPath)
	assert.Equal(t, 9600, cfg.Sensor.BaudRate)
	assert.Equal(t, 100*time.Millisecond, cfg.Sensor.ResetPulse)
	assert.Equal(t, 2*time.Second, cfg.Sensor.BootDelay)
	assert.Equal(t, 10*time.Second, cfg.Timeouts().Verify)
	assert.Equal(t, 30*time.Second, cfg.Timeouts().Enroll)
	assert.Equal(t, "", cfg.Terminator())
	assert.Equal(t, 100, cfg.Sensor.MaxConfidence)
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
}

func TestLoad_Overrides(t *testing.T) {
	cfg, err := load(context.Background(), envconfig.MapLookuper(map[string]string{
		"LEDGER_BACKEND":            "postgres",
		"DB_HOST":                   "db",
		"DB_PORT":                   "6543",
		"SENSOR_PORT":               "/dev/ttyUSB1",
		"SENSOR_VERIFY_TIMEOUT":     "4s",
		"SENSOR_COMMAND_TERMINATOR": `\r\n`,
		"LOG_LEVEL":                 "debug",
		"SENSOR_MAX_CONFIDENCE":     "255",
	}))
	require.NoError(t, err)

	assert.Equal(t, BackendPostgres, cfg.LedgerBackend)
	assert.Equal(t, "/dev/ttyUSB1", cfg.Device().Port)
	assert.Equal(t, 4*time.Second, cfg.Timeouts().Verify)
	assert.Equal(t, "\r\n", cfg.Terminator())
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	assert.Equal(t, 255, cfg.Sensor.MaxConfidence)
	assert.NotNil(t, cfg.Protocol(slog.Default()))
	assert.Equal(t,
		"host=db port=6543 user=postgres password=password dbname=fingerpay sslmode=disable",
		cfg.GetDBConnectionString())
}

func TestLoad_Invalid(t *testing.T) {
	_, err := load(context.Background(), envconfig.MapLookuper(map[string]string{"LEDGER_BACKEND": "sqlite"}))
	assert.Error(t, err)

	_, err = load(context.Background(), envconfig.MapLookuper(map[string]string{"SENSOR_ENROLL_TIMEOUT": "0s"}))
	assert.Error(t, err)

	_, err = load(context.Background(), envconfig.MapLookuper(map[string]string{"SENSOR_MAX_CONFIDENCE": "-1"}))
	assert.Error(t, err)
}

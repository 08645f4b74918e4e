package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, CurrentVersion, cfg.Version)
	assert.Equal(t, 75, cfg.Strategy.Quantity)
	assert.Equal(t, 40.0, cfg.Strategy.InitialLeg.SLPercent)
	assert.Equal(t, 39.0, cfg.Strategy.RecoveryLeg.SLPercent)
	assert.Equal(t, 95.0, cfg.Strategy.RecoveryLeg.TargetPercent)
	assert.Len(t, cfg.Strategy.InitialLeg.TrailingSteps, 3)
	assert.Len(t, cfg.Strategy.RecoveryLeg.TrailingSteps, 10)
	assert.Equal(t, 8.0, *cfg.Strategy.WaitPoints)
	assert.Equal(t, -2.75, *cfg.Strategy.RecoveryATMOffsetPercent)
	assert.Equal(t, TriggerOption, cfg.Strategy.TriggerSource)
	assert.Equal(t, 50000.0, cfg.Strategy.LockBase)
	assert.Equal(t, 10000.0, cfg.Strategy.LockIncrement)
	assert.Equal(t, 5, cfg.Engine.FillRetryLimit)
	assert.Equal(t, "09:16:00", cfg.Session.EntryTime)
	assert.Equal(t, 5*time.Second, cfg.Engine.MonitorInterval)
	assert.NoError(t, cfg.Validate())
}

func TestLoadYAMLAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := `
version: 1
strategy:
  quantity: 50
  trigger_source: underlying
  wait_points: 0
  initial_atm_offset_percent: 0
  initial_leg:
    sl_percent: 35
    target_percent: 90
    trailing_steps:
      - {threshold_percent: 50, sl_percent: 10}
engine:
  monitor_interval: 2s
state:
  backend: badger
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))
	t.Setenv("QUANTITY", "25")
	t.Setenv("HOLIDAYS", "2026-10-20, 2026-11-09")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 25, cfg.Strategy.Quantity)
	assert.Equal(t, TriggerUnderlying, cfg.Strategy.TriggerSource)
	assert.Equal(t, 0.0, *cfg.Strategy.WaitPoints, "explicit zero survives defaults")
	assert.Equal(t, 0.0, *cfg.Strategy.InitialATMOffsetPercent)
	assert.Equal(t, -2.75, *cfg.Strategy.RecoveryATMOffsetPercent)
	assert.Equal(t, 35.0, cfg.Strategy.InitialLeg.SLPercent)
	require.Len(t, cfg.Strategy.InitialLeg.TrailingSteps, 1)
	assert.Equal(t, 10.0, cfg.Strategy.InitialLeg.TrailingSteps[0].SLPercent)
	assert.Equal(t, 2*time.Second, cfg.Engine.MonitorInterval)
	assert.Equal(t, "data/state", cfg.State.Path)
	assert.Equal(t, []string{"2026-10-20", "2026-11-09"}, cfg.Session.Holidays)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad trigger", func(c *Config) { c.Strategy.TriggerSource = "spot" }},
		{"entry after square-off", func(c *Config) { c.Session.EntryTime = "15:30:00" }},
		{"bad clock", func(c *Config) { c.Session.ShutdownTime = "25:00" }},
		{"bridge without url", func(c *Config) { c.Broker.Mode = "bridge" }},
		{"bad backend", func(c *Config) { c.State.Backend = "redis" }},
		{"half telegram", func(c *Config) { c.Telegram.BotToken = "x" }},
		{"bad holiday", func(c *Config) { c.Session.Holidays = []string{"20/10/2026"} }},
		{"negative wait", func(c *Config) { c.Strategy.WaitPoints = Float(-1) }},
		{"bad version", func(c *Config) { c.Version = 7 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			ApplyDefaults(cfg)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestParseClock(t *testing.T) {
	d, err := ParseClock("09:16:00")
	require.NoError(t, err)
	assert.Equal(t, 9*time.Hour+16*time.Minute, d)

	d, err = ParseClock("15:00")
	require.NoError(t, err)
	assert.Equal(t, 15*time.Hour, d)

	_, err = ParseClock("nine")
	assert.Error(t, err)
}

func TestParseWeekday(t *testing.T) {
	d, err := ParseWeekday("Thursday")
	require.NoError(t, err)
	assert.Equal(t, time.Thursday, d)

	d, err = ParseWeekday("tue")
	require.NoError(t, err)
	assert.Equal(t, time.Tuesday, d)

	_, err = ParseWeekday("someday")
	assert.Error(t, err)
}

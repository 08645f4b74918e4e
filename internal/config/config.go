package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"LegSentinel/internal/model"
)

// CurrentVersion is the config layout this build understands.
const CurrentVersion = 1

// Trigger sources for the recovery point-drop wait.
const (
	TriggerOption     = "option"
	TriggerUnderlying = "underlying"
)

// LegParams is the exit parameter set applied to one kind of leg.
type LegParams struct {
	SLPercent     float64              `yaml:"sl_percent"`
	TargetPercent float64              `yaml:"target_percent"`
	TrailingSteps []model.TrailingStep `yaml:"trailing_steps"`
}

// Config holds all application configuration.
type Config struct {
	Version int `yaml:"version"`

	Session struct {
		Timezone       string   `yaml:"timezone"`
		EntryTime      string   `yaml:"entry_time"`
		SquareOffTime  string   `yaml:"square_off_time"`
		ShutdownTime   string   `yaml:"shutdown_time"`
		Holidays       []string `yaml:"holidays"`
		ManualOverride bool     `yaml:"manual_override"`
	} `yaml:"session"`

	Strategy struct {
		Underlying               string    `yaml:"underlying"`
		SymbolPrefix             string    `yaml:"symbol_prefix"`
		StrikeStep               float64   `yaml:"strike_step"`
		ExpiryWeekday            string    `yaml:"expiry_weekday"`
		Quantity                 int       `yaml:"quantity"`
		InitialATMOffsetPercent  *float64  `yaml:"initial_atm_offset_percent"`
		RecoveryATMOffsetPercent *float64  `yaml:"recovery_atm_offset_percent"`
		InitialLeg               LegParams `yaml:"initial_leg"`
		RecoveryLeg              LegParams `yaml:"recovery_leg"`
		WaitPoints               *float64  `yaml:"wait_points"`
		TriggerSource            string    `yaml:"trigger_source"`
		LockBase                 float64   `yaml:"lock_base"`
		LockIncrement            float64   `yaml:"lock_increment"`
	} `yaml:"strategy"`

	Engine struct {
		MonitorInterval      time.Duration `yaml:"monitor_interval"`
		SpotInterval         time.Duration `yaml:"spot_interval"`
		RecoveryPollInterval time.Duration `yaml:"recovery_poll_interval"`
		FillRetryLimit       int           `yaml:"fill_retry_limit"`
		FillRetryDelay       time.Duration `yaml:"fill_retry_delay"`
		SpotWaitAttempts     int           `yaml:"spot_wait_attempts"`
	} `yaml:"engine"`

	Broker struct {
		Mode    string        `yaml:"mode"`
		BaseURL string        `yaml:"base_url"`
		APIKey  string        `yaml:"api_key"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"broker"`

	State struct {
		Backend string `yaml:"backend"`
		Path    string `yaml:"path"`
	} `yaml:"state"`

	Database struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`

	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
	} `yaml:"telegram"`

	Log struct {
		Level      string `yaml:"level"`
		Format     string `yaml:"format"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"log"`

	HTTP struct {
		Listen string `yaml:"listen"`
	} `yaml:"http"`

	Proxy string `yaml:"proxy"`
}

// Float returns a pointer to v, for optional numeric settings where zero is
// meaningful.
func Float(v float64) *float64 { return &v }

// DefaultInitialSteps is the trailing table for the two opening legs.
func DefaultInitialSteps() []model.TrailingStep {
	return []model.TrailingStep{
		{ThresholdPercent: 60, SLPercent: 30},
		{ThresholdPercent: 20, SLPercent: 20},
		{ThresholdPercent: 5, SLPercent: -95},
	}
}

// DefaultRecoverySteps is the trailing table for recovery legs.
func DefaultRecoverySteps() []model.TrailingStep {
	return []model.TrailingStep{
		{ThresholdPercent: 90, SLPercent: 30},
		{ThresholdPercent: 80, SLPercent: 20},
		{ThresholdPercent: 70, SLPercent: 10},
		{ThresholdPercent: 60, SLPercent: 0},
		{ThresholdPercent: 50, SLPercent: -10},
		{ThresholdPercent: 40, SLPercent: -20},
		{ThresholdPercent: 30, SLPercent: -30},
		{ThresholdPercent: 20, SLPercent: -40},
		{ThresholdPercent: 10, SLPercent: -50},
		{ThresholdPercent: 5, SLPercent: -95},
	}
}

// Load reads config from a YAML file, then applies environment variable
// overrides and defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "read config")
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(err, "parse config")
		}
	}

	applyEnv(cfg)
	ApplyDefaults(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	// Environment variable overrides
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := os.Getenv("BROKER_MODE"); v != "" {
		cfg.Broker.Mode = v
	}
	if v := os.Getenv("BROKER_BASE_URL"); v != "" {
		cfg.Broker.BaseURL = v
	}
	if v := os.Getenv("BROKER_API_KEY"); v != "" {
		cfg.Broker.APIKey = v
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		cfg.Proxy = v
	}
	if v := os.Getenv("STATE_BACKEND"); v != "" {
		cfg.State.Backend = v
	}
	if v := os.Getenv("STATE_PATH"); v != "" {
		cfg.State.Path = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("HTTP_LISTEN"); v != "" {
		cfg.HTTP.Listen = v
	}
	if v := os.Getenv("TRIGGER_SOURCE"); v != "" {
		cfg.Strategy.TriggerSource = v
	}
	if v := os.Getenv("QUANTITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Strategy.Quantity = n
		}
	}
	if v := os.Getenv("HOLIDAYS"); v != "" {
		cfg.Session.Holidays = splitList(v)
	}
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ApplyDefaults fills every unset field with the stock strategy parameters.
func ApplyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}

	s := &cfg.Session
	if s.Timezone == "" {
		s.Timezone = "Asia/Kolkata"
	}
	if s.EntryTime == "" {
		s.EntryTime = "09:16:00"
	}
	if s.SquareOffTime == "" {
		s.SquareOffTime = "15:00:00"
	}
	if s.ShutdownTime == "" {
		s.ShutdownTime = "16:49:00"
	}

	st := &cfg.Strategy
	if st.Underlying == "" {
		st.Underlying = "NSE:NIFTY50-INDEX"
	}
	if st.SymbolPrefix == "" {
		st.SymbolPrefix = "NSE:NIFTY"
	}
	if st.StrikeStep == 0 {
		st.StrikeStep = 50
	}
	if st.ExpiryWeekday == "" {
		st.ExpiryWeekday = "Thursday"
	}
	if st.Quantity == 0 {
		st.Quantity = 75
	}
	if st.InitialATMOffsetPercent == nil {
		st.InitialATMOffsetPercent = Float(2.5)
	}
	if st.RecoveryATMOffsetPercent == nil {
		st.RecoveryATMOffsetPercent = Float(-2.75)
	}
	if st.InitialLeg.SLPercent == 0 {
		st.InitialLeg.SLPercent = 40
	}
	if st.InitialLeg.TargetPercent == 0 {
		st.InitialLeg.TargetPercent = 95
	}
	if st.InitialLeg.TrailingSteps == nil {
		st.InitialLeg.TrailingSteps = DefaultInitialSteps()
	}
	if st.RecoveryLeg.SLPercent == 0 {
		st.RecoveryLeg.SLPercent = 39
	}
	if st.RecoveryLeg.TargetPercent == 0 {
		st.RecoveryLeg.TargetPercent = 95
	}
	if st.RecoveryLeg.TrailingSteps == nil {
		st.RecoveryLeg.TrailingSteps = DefaultRecoverySteps()
	}
	if st.WaitPoints == nil {
		st.WaitPoints = Float(8)
	}
	if st.TriggerSource == "" {
		st.TriggerSource = TriggerOption
	}
	if st.LockBase == 0 {
		st.LockBase = 50000
	}
	if st.LockIncrement == 0 {
		st.LockIncrement = 10000
	}

	e := &cfg.Engine
	if e.MonitorInterval == 0 {
		e.MonitorInterval = 5 * time.Second
	}
	if e.SpotInterval == 0 {
		e.SpotInterval = 10 * time.Second
	}
	if e.RecoveryPollInterval == 0 {
		e.RecoveryPollInterval = 10 * time.Second
	}
	if e.FillRetryLimit == 0 {
		e.FillRetryLimit = 5
	}
	if e.FillRetryDelay == 0 {
		e.FillRetryDelay = 60 * time.Second
	}
	if e.SpotWaitAttempts == 0 {
		e.SpotWaitAttempts = 30
	}

	if cfg.Broker.Mode == "" {
		cfg.Broker.Mode = "paper"
	}
	if cfg.Broker.Timeout == 0 {
		cfg.Broker.Timeout = 10 * time.Second
	}
	if cfg.State.Backend == "" {
		cfg.State.Backend = "file"
	}
	if cfg.State.Path == "" {
		if cfg.State.Backend == "badger" {
			cfg.State.Path = "data/state"
		} else {
			cfg.State.Path = "data/state.json"
		}
	}
	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "data/leg_sentinel.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Log.MaxSizeMB == 0 {
		cfg.Log.MaxSizeMB = 50
	}
	if cfg.Log.MaxBackups == 0 {
		cfg.Log.MaxBackups = 5
	}
	if cfg.Log.MaxAgeDays == 0 {
		cfg.Log.MaxAgeDays = 14
	}
	if cfg.HTTP.Listen == "" {
		cfg.HTTP.Listen = ":8080"
	}
}

// Validate checks that all required fields are set and consistent.
func (c *Config) Validate() error {
	if c.Version != CurrentVersion {
		return fmt.Errorf("unsupported config version %d", c.Version)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	for name, v := range map[string]string{
		"session.entry_time":      c.Session.EntryTime,
		"session.square_off_time": c.Session.SquareOffTime,
		"session.shutdown_time":   c.Session.ShutdownTime,
	} {
		if _, err := ParseClock(v); err != nil {
			return errors.Wrapf(err, "%s", name)
		}
	}
	entry, _ := ParseClock(c.Session.EntryTime)
	squareOff, _ := ParseClock(c.Session.SquareOffTime)
	if entry >= squareOff {
		return fmt.Errorf("session.entry_time must be before session.square_off_time")
	}
	for _, h := range c.Session.Holidays {
		if _, err := time.Parse("2006-01-02", h); err != nil {
			return errors.Wrapf(err, "session.holidays: %q", h)
		}
	}
	if _, err := ParseWeekday(c.Strategy.ExpiryWeekday); err != nil {
		return err
	}
	if c.Strategy.Quantity <= 0 {
		return fmt.Errorf("strategy.quantity must be positive")
	}
	if c.Strategy.StrikeStep <= 0 {
		return fmt.Errorf("strategy.strike_step must be positive")
	}
	if *c.Strategy.WaitPoints < 0 {
		return fmt.Errorf("strategy.wait_points must not be negative")
	}
	if c.Strategy.TriggerSource != TriggerOption && c.Strategy.TriggerSource != TriggerUnderlying {
		return fmt.Errorf("strategy.trigger_source must be %q or %q", TriggerOption, TriggerUnderlying)
	}
	if c.Strategy.LockBase <= 0 || c.Strategy.LockIncrement <= 0 {
		return fmt.Errorf("strategy.lock_base and strategy.lock_increment must be positive")
	}
	for name, p := range map[string]LegParams{"initial_leg": c.Strategy.InitialLeg, "recovery_leg": c.Strategy.RecoveryLeg} {
		if p.SLPercent <= 0 || p.TargetPercent <= 0 || p.TargetPercent > 100 {
			return fmt.Errorf("strategy.%s: sl_percent and target_percent must be in range", name)
		}
		for _, step := range p.TrailingSteps {
			if step.ThresholdPercent <= 0 {
				return fmt.Errorf("strategy.%s: trailing threshold must be positive", name)
			}
		}
	}
	switch c.Broker.Mode {
	case "paper":
	case "bridge":
		if c.Broker.BaseURL == "" {
			return fmt.Errorf("broker.base_url is required in bridge mode")
		}
	default:
		return fmt.Errorf("broker.mode must be paper or bridge")
	}
	if c.State.Backend != "file" && c.State.Backend != "badger" {
		return fmt.Errorf("state.backend must be file or badger")
	}
	if (c.Telegram.BotToken == "") != (c.Telegram.ChatID == "") {
		return fmt.Errorf("telegram.bot_token and telegram.chat_id must be set together")
	}
	return nil
}

// Location returns the session timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Session.Timezone)
	if err != nil {
		return nil, errors.Wrapf(err, "session.timezone %q", c.Session.Timezone)
	}
	return loc, nil
}

// ParseClock parses "HH:MM:SS" (or "HH:MM") into an offset from midnight.
func ParseClock(v string) (time.Duration, error) {
	layout := "15:04:05"
	if strings.Count(v, ":") == 1 {
		layout = "15:04"
	}
	t, err := time.Parse(layout, v)
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q", v)
	}
	return time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second, nil
}

// ParseWeekday accepts full or three-letter English weekday names.
func ParseWeekday(v string) (time.Weekday, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if v == name || v == name[:3] {
			return d, nil
		}
	}
	return 0, fmt.Errorf("invalid weekday %q", v)
}

// Clock returns the wall-clock instant of offset on the day of ref.
func Clock(ref time.Time, offset time.Duration) time.Time {
	y, m, d := ref.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, ref.Location()).Add(offset)
}

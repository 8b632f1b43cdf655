package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Browser   BrowserConfig   `json:"browser"`
	Store     StoreConfig     `json:"store"`
	Knowledge KnowledgeConfig `json:"knowledge"`
	Intent    IntentConfig    `json:"intent"`
	Notifier  *NotifierConfig `json:"notifier,omitempty"`
	Agent     AgentConfig     `json:"agent"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the trigger service (one-shot timers and cron).
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`
	// Timezone for cron evaluation and day-boundary handling.
	// Empty means the host local zone.
	Timezone string `json:"timezone,omitempty"`
	// MissedTasksPath is where one-shot tasks whose fire time passed while the
	// process was down get recorded. Default: "./missed_tasks.json".
	MissedTasksPath string `json:"missed_tasks_path,omitempty"`
}

// BrowserConfig controls the browser instance pool.
//
// All durations are Go duration strings (e.g. "500ms", "30s").
type BrowserConfig struct {
	// Instances is the number of concurrently usable browser slots. Default: 2.
	Instances int `json:"instances,omitempty"`
	// DailyQuota caps acquisitions per local calendar day. Default: 50.
	DailyQuota int `json:"daily_quota,omitempty"`
	// MinSpacing is the minimum start-to-start delay between uses. Default: "30s".
	MinSpacing string `json:"min_spacing,omitempty"`
	// RefundFailedUse returns the quota slot when an execution errors.
	RefundFailedUse bool `json:"refund_failed_use,omitempty"`
	// SearxURL is the base URL of the search backend.
	SearxURL string `json:"searx_url,omitempty"`
	// RequestTimeout bounds a single search request. Default: "20s".
	RequestTimeout string `json:"request_timeout,omitempty"`
}

type StoreConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
	// Retention removes completed/failed tasks older than this. "0s" disables
	// the sweep. Default: "720h" (30 days).
	Retention string `json:"retention,omitempty"`
	// RetentionInterval is how often the sweep runs. Default: "1h".
	RetentionInterval string `json:"retention_interval,omitempty"`
}

type KnowledgeConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"` // defaults to the task store path
}

// IntentConfig controls the natural-language intent parser.
type IntentConfig struct {
	Enabled bool   `json:"enabled"`
	APIKey  string `json:"api_key,omitempty"`
	BaseURL string `json:"base_url,omitempty"`
	Model   string `json:"model,omitempty"`
	// Timeout is a Go duration string. Default: "30s".
	Timeout string `json:"timeout,omitempty"`
}

// NotifierConfig controls the async notification pipeline. If the whole
// section is omitted the notifier defaults to enabled with stock settings.
type NotifierConfig struct {
	Enabled       bool   `json:"enabled"`
	Workers       int    `json:"workers"`
	QueueSize     int    `json:"queue_size"`
	RatePerSec    int    `json:"rate_per_sec"`
	RetryMax      int    `json:"retry_max"`
	RetryBase     string `json:"retry_base"`
	RetryMaxDelay string `json:"retry_max_delay"`
}

// AgentConfig controls task execution behavior.
type AgentConfig struct {
	// RetryRearm re-fires a failed one-shot with a growing delay. Off by
	// default: a failure bumps the retry count and notifies the owner, and the
	// task stays pending.
	RetryRearm bool `json:"retry_rearm,omitempty"`
	// RetryMax is how many failures a re-armed one-shot survives before it is
	// marked failed. Only used with retry_rearm. Default: 3.
	RetryMax int `json:"retry_max,omitempty"`
	// ImmediateTimeout bounds a run-now execution. Default: "2m".
	ImmediateTimeout string `json:"immediate_timeout,omitempty"`
}

// Validate checks cross-field constraints that the strict decoder can't.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return errors.New("telegram.token is required")
	}
	if strings.TrimSpace(c.Store.Path) == "" {
		return errors.New("store.path is required")
	}
	if c.Browser.Instances < 0 {
		return fmt.Errorf("browser.instances must be >= 0, got %d", c.Browser.Instances)
	}
	if c.Browser.DailyQuota < 0 {
		return fmt.Errorf("browser.daily_quota must be >= 0, got %d", c.Browser.DailyQuota)
	}
	for _, f := range []struct{ path, raw string }{
		{"telegram.poll_timeout", c.Telegram.PollTimeout},
		{"browser.min_spacing", c.Browser.MinSpacing},
		{"browser.request_timeout", c.Browser.RequestTimeout},
		{"store.busy_timeout", c.Store.BusyTimeout},
		{"store.retention", c.Store.Retention},
		{"store.retention_interval", c.Store.RetentionInterval},
		{"intent.timeout", c.Intent.Timeout},
		{"agent.immediate_timeout", c.Agent.ImmediateTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	if c.Scheduler.Timezone != "" {
		if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
			return fmt.Errorf("scheduler.timezone: %w", err)
		}
	}
	if c.Intent.Enabled && strings.TrimSpace(c.Intent.APIKey) == "" {
		return errors.New("intent.api_key is required when intent is enabled")
	}
	return nil
}

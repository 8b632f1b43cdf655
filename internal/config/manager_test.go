package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const minimalJSON = `{
  "telegram": {"token": "123:abc", "owner_user_ids": [42], "poll_timeout": "10s"},
  "logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}},
  "scheduler": {"enabled": true},
  "browser": {"instances": 2, "daily_quota": 50, "min_spacing": "30s"},
  "store": {"path": "./huginn.db"},
  "knowledge": {"enabled": true},
  "intent": {"enabled": false},
  "agent": {"retry_max": 3}
}`

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoadJSON(t *testing.T) {
	m := NewManager(writeConfig(t, "config.json", minimalJSON))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Browser.DailyQuota != 50 {
		t.Fatalf("browser.daily_quota = %d, want 50", cfg.Browser.DailyQuota)
	}
	if got := m.Get(); got != cfg {
		t.Fatalf("Get returned a different config")
	}
}

func TestLoadYAML(t *testing.T) {
	body := `
telegram:
  token: "123:abc"
  owner_user_ids: [42]
  poll_timeout: 10s
logging:
  level: debug
  console: true
scheduler:
  enabled: true
  timezone: UTC
browser:
  instances: 3
  daily_quota: 10
  min_spacing: 45s
store:
  path: ./huginn.db
  retention: 168h
knowledge:
  enabled: true
intent:
  enabled: false
agent:
  retry_rearm: true
  retry_max: 5
`
	m := NewManager(writeConfig(t, "config.yaml", body))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Browser.Instances != 3 || cfg.Agent.RetryMax != 5 || !cfg.Agent.RetryRearm {
		t.Fatalf("yaml did not decode: %+v", cfg)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	body := strings.Replace(minimalJSON, `"agent"`, `"agnet"`, 1)
	m := NewManager(writeConfig(t, "config.json", body))
	if _, err := m.Load(); err == nil {
		t.Fatalf("Load accepted unknown field")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(c *Config) {}, true},
		{"missing token", func(c *Config) { c.Telegram.Token = "" }, false},
		{"missing store path", func(c *Config) { c.Store.Path = "" }, false},
		{"negative instances", func(c *Config) { c.Browser.Instances = -1 }, false},
		{"bad spacing", func(c *Config) { c.Browser.MinSpacing = "soon" }, false},
		{"bad timezone", func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }, false},
		{"intent enabled without key", func(c *Config) { c.Intent.Enabled = true }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := NewManager(writeConfig(t, "config.json", minimalJSON))
			cfg, err := m.Parse()
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			tc.mutate(cfg)
			err = cfg.Validate()
			if tc.ok && err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatalf("Validate accepted bad config")
			}
		})
	}
}

func TestSubscribePublish(t *testing.T) {
	m := NewManager(writeConfig(t, "config.json", minimalJSON))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)
	m.publish(cfg)
	select {
	case got := <-ch:
		if got != cfg {
			t.Fatalf("subscriber got a different config")
		}
	default:
		t.Fatalf("publish did not deliver")
	}

	// A full buffer gets the oldest entry dropped, never a blocked publish.
	m.publish(cfg)
	next := &Config{}
	m.publish(next)
	if got := <-ch; got != next {
		t.Fatalf("slow subscriber did not get the latest config")
	}
	m.Unsubscribe(ch)
	if _, open := <-ch; open {
		t.Fatalf("Unsubscribe left the channel open")
	}
}

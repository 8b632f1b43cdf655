package app

import (
	"testing"
	"time"

	"huginn/internal/config"
)

func TestOwnerSet(t *testing.T) {
	s := newOwnerSet([]int64{10, 20})
	if !s.allowed(10) || !s.allowed(20) {
		t.Fatal("configured owners not allowed")
	}
	if s.allowed(30) {
		t.Fatal("stranger allowed")
	}
	if s.primary() != 10 {
		t.Fatalf("primary = %d, want 10", s.primary())
	}

	s.set([]int64{30})
	if s.allowed(10) {
		t.Fatal("stale owner still allowed after reload")
	}
	if !s.allowed(30) || s.primary() != 30 {
		t.Fatal("new owner not applied")
	}
}

func TestSplitCommand(t *testing.T) {
	tests := []struct {
		in       string
		cmd, arg string
	}{
		{"/tasks", "/tasks", ""},
		{"/cancel morning-check", "/cancel", "morning-check"},
		{"/Status", "/status", ""},
		{"/tasks@huginnbot", "/tasks", ""},
		{"/cancel@huginnbot  a b ", "/cancel", "a b"},
	}
	for _, tc := range tests {
		cmd, arg := splitCommand(tc.in)
		if cmd != tc.cmd || arg != tc.arg {
			t.Errorf("splitCommand(%q) = %q, %q; want %q, %q", tc.in, cmd, arg, tc.cmd, tc.arg)
		}
	}
}

func TestMapNotifierConfigDefaults(t *testing.T) {
	ncfg, err := mapNotifierConfig(&config.Config{})
	if err != nil {
		t.Fatalf("mapNotifierConfig: %v", err)
	}
	if !ncfg.Enabled {
		t.Fatal("omitted notifier section should default to enabled")
	}

	ncfg, err = mapNotifierConfig(&config.Config{
		Notifier: &config.NotifierConfig{Enabled: true, RetryBase: "1s", RetryMaxDelay: "20s"},
	})
	if err != nil {
		t.Fatalf("mapNotifierConfig: %v", err)
	}
	if ncfg.RetryBase != time.Second || ncfg.RetryMaxDelay != 20*time.Second {
		t.Fatalf("retry durations = %v/%v", ncfg.RetryBase, ncfg.RetryMaxDelay)
	}

	if _, err := mapNotifierConfig(&config.Config{
		Notifier: &config.NotifierConfig{RetryBase: "soon"},
	}); err == nil {
		t.Fatal("bad duration accepted")
	}
}

func TestMapBrowserConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.Browser.Instances = 3
	cfg.Browser.MinSpacing = "45s"

	bc, err := mapBrowserConfig(cfg)
	if err != nil {
		t.Fatalf("mapBrowserConfig: %v", err)
	}
	if bc.Instances != 3 || bc.MinSpacing != 45*time.Second {
		t.Fatalf("mapped = %+v", bc)
	}

	cfg.Browser.MinSpacing = "whenever"
	if _, err := mapBrowserConfig(cfg); err == nil {
		t.Fatal("bad duration accepted")
	}
}

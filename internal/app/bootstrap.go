package app

import (
	"time"

	"huginn/internal/agent"
	"huginn/internal/browserpool"
	"huginn/internal/config"
	"huginn/internal/notifier"
)

// mapBrowserConfig translates the config section into pool settings, applying
// the same defaults whether the section is partial or absent.
func mapBrowserConfig(cfg *config.Config) (browserpool.Config, error) {
	minSpacing, err := config.ParseDurationOrDefault("browser.min_spacing", cfg.Browser.MinSpacing, 30*time.Second)
	if err != nil {
		return browserpool.Config{}, err
	}
	return browserpool.Config{
		Instances:       cfg.Browser.Instances,
		DailyQuota:      cfg.Browser.DailyQuota,
		MinSpacing:      minSpacing,
		RefundFailedUse: cfg.Browser.RefundFailedUse,
	}, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	// Omitted section means enabled with stock settings.
	if cfg.Notifier == nil {
		return notifier.Config{Enabled: true}, nil
	}
	retryBase, err := config.ParseDurationOrDefault("notifier.retry_base", cfg.Notifier.RetryBase, 500*time.Millisecond)
	if err != nil {
		return notifier.Config{}, err
	}
	retryMaxDelay, err := config.ParseDurationOrDefault("notifier.retry_max_delay", cfg.Notifier.RetryMaxDelay, 10*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Enabled:       cfg.Notifier.Enabled,
		Workers:       cfg.Notifier.Workers,
		QueueSize:     cfg.Notifier.QueueSize,
		RatePerSec:    cfg.Notifier.RatePerSec,
		RetryMax:      cfg.Notifier.RetryMax,
		RetryBase:     retryBase,
		RetryMaxDelay: retryMaxDelay,
	}, nil
}

func mapAgentConfig(cfg *config.Config) (agent.Config, error) {
	immediateTimeout, err := config.ParseDurationOrDefault("agent.immediate_timeout", cfg.Agent.ImmediateTimeout, 2*time.Minute)
	if err != nil {
		return agent.Config{}, err
	}
	return agent.Config{
		RetryRearm:       cfg.Agent.RetryRearm,
		RetryMax:         cfg.Agent.RetryMax,
		ImmediateTimeout: immediateTimeout,
	}, nil
}

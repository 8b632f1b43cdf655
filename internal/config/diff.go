package config

import (
	"reflect"
	"strings"

	logx "huginn/pkg/logx"
)

// SummarizeChange returns a compact list of changed sections plus safe
// structured attrs for logging. Secrets (telegram token, intent api key) are
// never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) ||
		!reflect.DeepEqual(oldCfg.Telegram.OwnerUserIDs, newCfg.Telegram.OwnerUserIDs) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", strings.TrimSpace(newCfg.Telegram.PollTimeout)),
			logx.Int("telegram.owner_count", len(newCfg.Telegram.OwnerUserIDs)),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", newCfg.Scheduler.Timezone),
		)
	}

	if oldCfg.Browser != newCfg.Browser {
		changed = append(changed, "browser")
		attrs = append(attrs,
			logx.Int("browser.instances", newCfg.Browser.Instances),
			logx.Int("browser.daily_quota", newCfg.Browser.DailyQuota),
			logx.String("browser.min_spacing", newCfg.Browser.MinSpacing),
			logx.Bool("browser.refund_failed_use", newCfg.Browser.RefundFailedUse),
		)
	}

	if oldCfg.Store != newCfg.Store {
		changed = append(changed, "store")
		attrs = append(attrs,
			logx.String("store.path", newCfg.Store.Path),
			logx.String("store.retention", newCfg.Store.Retention),
		)
	}

	if oldCfg.Knowledge != newCfg.Knowledge {
		changed = append(changed, "knowledge")
		attrs = append(attrs, logx.Bool("knowledge.enabled", newCfg.Knowledge.Enabled))
	}

	// Intent (never log api key)
	if oldCfg.Intent.Enabled != newCfg.Intent.Enabled ||
		strings.TrimSpace(oldCfg.Intent.BaseURL) != strings.TrimSpace(newCfg.Intent.BaseURL) ||
		strings.TrimSpace(oldCfg.Intent.Model) != strings.TrimSpace(newCfg.Intent.Model) ||
		strings.TrimSpace(oldCfg.Intent.Timeout) != strings.TrimSpace(newCfg.Intent.Timeout) {
		changed = append(changed, "intent")
		attrs = append(attrs,
			logx.Bool("intent.enabled", newCfg.Intent.Enabled),
			logx.String("intent.model", strings.TrimSpace(newCfg.Intent.Model)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		changed = append(changed, "notifier")
	}

	if oldCfg.Agent != newCfg.Agent {
		changed = append(changed, "agent")
		attrs = append(attrs, logx.Int("agent.retry_max", newCfg.Agent.RetryMax))
	}

	return changed, attrs
}

package config

import (
	"reflect"
	"sort"
	"strings"

	logx "cronbot/pkg/logx"
)

// SummarizeChange returns a compact list of changed sections plus safe
// structured attrs for logging. Secrets (tokens) are never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	// Telegram (never log token)
	if strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) ||
		!reflect.DeepEqual(oldCfg.Telegram.OwnerUserIDs, newCfg.Telegram.OwnerUserIDs) ||
		!reflect.DeepEqual(oldCfg.Telegram.Chats, newCfg.Telegram.Chats) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", strings.TrimSpace(newCfg.Telegram.PollTimeout)),
			logx.Int("telegram.owner_count", len(newCfg.Telegram.OwnerUserIDs)),
			logx.Int("telegram.chat_count", len(newCfg.Telegram.Chats)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}

	if !reflect.DeepEqual(oldCfg.DefaultPhrase, newCfg.DefaultPhrase) {
		changed = append(changed, "default_phrase")
		attrs = append(attrs,
			logx.Bool("default_phrase.enabled", newCfg.DefaultPhrase.Enabled),
			logx.String("default_phrase.time", strings.TrimSpace(newCfg.DefaultPhrase.Time)),
			logx.String("default_phrase.preset", strings.TrimSpace(newCfg.DefaultPhrase.Preset)),
			logx.Int("default_phrase.seed_count", len(newCfg.DefaultPhrase.Phrases)),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(newCfg.Storage.BusyTimeout)),
		)
	}

	// Health (never log token)
	if oldCfg.Health.Enabled != newCfg.Health.Enabled ||
		strings.TrimSpace(oldCfg.Health.Addr) != strings.TrimSpace(newCfg.Health.Addr) ||
		oldCfg.Health.Pprof != newCfg.Health.Pprof ||
		(strings.TrimSpace(oldCfg.Health.Token) != "") != (strings.TrimSpace(newCfg.Health.Token) != "") {
		changed = append(changed, "health")
		attrs = append(attrs,
			logx.Bool("health.enabled", newCfg.Health.Enabled),
			logx.String("health.addr", strings.TrimSpace(newCfg.Health.Addr)),
			logx.Bool("health.pprof", newCfg.Health.Pprof),
			logx.Bool("health.token_set", strings.TrimSpace(newCfg.Health.Token) != ""),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

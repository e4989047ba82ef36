package config

import (
	"reflect"
	"strings"

	"camguard/pkg/logx"
)

// Section names reported by SummarizeConfigChange.
const (
	SectionLogging    = "logging"
	SectionHTTP       = "http"
	SectionScheduler  = "scheduler"
	SectionTaskEngine = "task_engine"
	SectionActivation = "activation"
	SectionPipeline   = "pipeline"
	SectionNotifier   = "notifier"
	SectionStorage    = "storage"
)

// RestartOnly lists sections whose changes are logged but only take effect
// after a process restart.
var RestartOnly = map[string]bool{
	SectionActivation: true,
	SectionStorage:    true,
}

// SummarizeConfigChange returns the changed sections and safe structured
// fields for logging. Tokens, passwords and DSNs are reported only as
// "*_set" booleans.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, SectionLogging)
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	oh, nh := oldCfg.HTTP, newCfg.HTTP
	if !reflect.DeepEqual(redactHTTP(oh), redactHTTP(nh)) {
		changed = append(changed, SectionHTTP)
		attrs = append(attrs,
			logx.String("http.addr", strings.TrimSpace(nh.Addr)),
			logx.Bool("http.token_set", strings.TrimSpace(nh.Token) != ""),
			logx.Bool("http.allow_insecure", nh.AllowInsecure),
			logx.Bool("http.pprof", nh.Pprof.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, SectionScheduler)
		attrs = append(attrs,
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.Bool("scheduler.rearm_daily", newCfg.Scheduler.RearmDaily),
			logx.String("scheduler.rearm_at", strings.TrimSpace(newCfg.Scheduler.RearmAt)),
		)
	}

	if !reflect.DeepEqual(oldCfg.TaskEngine, newCfg.TaskEngine) {
		changed = append(changed, SectionTaskEngine)
		if te := newCfg.TaskEngine; te != nil {
			attrs = append(attrs,
				logx.Int("task_engine.workers", te.Workers),
				logx.Int("task_engine.queue_size", te.QueueSize),
			)
		}
	}

	if !reflect.DeepEqual(oldCfg.Activation, newCfg.Activation) {
		changed = append(changed, SectionActivation)
		attrs = append(attrs, logx.String("activation.driver", newCfg.Activation.Driver))
	}

	if !reflect.DeepEqual(oldCfg.Pipeline, newCfg.Pipeline) {
		changed = append(changed, SectionPipeline)
		attrs = append(attrs,
			logx.String("pipeline.dwell_threshold", newCfg.Pipeline.DwellThreshold),
			logx.Bool("pipeline.auto_alert", newCfg.Pipeline.AutoAlert == nil || *newCfg.Pipeline.AutoAlert),
		)
	}

	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		changed = append(changed, SectionNotifier)
		if n := newCfg.Notifier; n != nil {
			attrs = append(attrs,
				logx.Bool("notifier.enabled", n.Enabled),
				logx.Int("notifier.rate_per_sec", n.RatePerSec),
				logx.Bool("notifier.telegram", n.Telegram.Enabled),
				logx.Bool("notifier.telegram_token_set", n.Telegram.Token != ""),
				logx.Bool("notifier.webhook", n.Webhook.Enabled),
				logx.Bool("notifier.email", n.Email.Enabled),
				logx.Bool("notifier.email_password_set", n.Email.Password != ""),
			)
		}
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, SectionStorage)
		if st := newCfg.Storage; st != nil {
			attrs = append(attrs,
				logx.String("storage.driver", st.Driver),
				logx.Bool("storage.dsn_set", st.DSN != ""),
			)
		}
	}

	return changed, attrs
}

// redactHTTP compares the token by presence so a rotated token still counts
// as a change without the value ever reaching a log line.
func redactHTTP(h HTTPConfig) HTTPConfig {
	h.Token = strings.TrimSpace(h.Token)
	if h.Token != "" {
		h.Token = hashString(h.Token)
	}
	return h
}

func hashString(s string) string {
	const hex = "0123456789abcdef"
	v := hashBytes([]byte(s))
	out := make([]byte, 16)
	for i := 15; i >= 0; i-- {
		out[i] = hex[v&0xf]
		v >>= 4
	}
	return string(out)
}

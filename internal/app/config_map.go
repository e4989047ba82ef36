package app

import (
	"fmt"
	"strings"
	"time"

	"camguard/internal/activation"
	"camguard/internal/api"
	"camguard/internal/config"
	"camguard/internal/notifier"
	"camguard/internal/pipeline"
	"camguard/internal/schedule"
	"camguard/internal/storage"
	"camguard/internal/task/engine"
	"camguard/internal/task/scheduler"
	"camguard/pkg/logx"
)

// The map* functions validate and convert the file config into service
// configs. They never start anything, so the reload validator can run them.

func mapLoggingConfig(cfg *config.Config) logx.Config {
	if cfg == nil {
		return logx.Config{Level: "info", Console: true}
	}
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapHTTPConfig(cfg *config.Config) (api.Config, error) {
	out := api.Config{Enabled: true, Addr: api.DefaultAddr}
	if cfg == nil {
		return out, nil
	}
	hc := cfg.HTTP
	if hc.Enabled != nil {
		out.Enabled = *hc.Enabled
	}
	if a := strings.TrimSpace(hc.Addr); a != "" {
		out.Addr = a
	}
	out.Token = strings.TrimSpace(hc.Token)
	out.AllowInsecure = hc.AllowInsecure

	var err error
	if out.ReadTimeout, err = config.ParseDurationOrDefault("http.read_timeout", hc.ReadTimeout, 15*time.Second); err != nil {
		return out, err
	}
	if out.WriteTimeout, err = config.ParseDurationField("http.write_timeout", hc.WriteTimeout); err != nil {
		return out, err
	}
	if out.IdleTimeout, err = config.ParseDurationOrDefault("http.idle_timeout", hc.IdleTimeout, 120*time.Second); err != nil {
		return out, err
	}

	pc := hc.Pprof
	if pc.MutexProfileFraction < 0 {
		return out, fmt.Errorf("http.pprof.mutex_profile_fraction must be >= 0")
	}
	if pc.BlockProfileRate < 0 {
		return out, fmt.Errorf("http.pprof.block_profile_rate must be >= 0")
	}
	if pc.MemProfileRate < 0 {
		return out, fmt.Errorf("http.pprof.mem_profile_rate must be >= 0")
	}
	out.Pprof = api.PprofConfig{
		Enabled:              pc.Enabled,
		Prefix:               strings.TrimSpace(pc.Prefix),
		MutexProfileFraction: pc.MutexProfileFraction,
		BlockProfileRate:     pc.BlockProfileRate,
		MemProfileRate:       pc.MemProfileRate,
	}
	return out, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, schedule.Config, error) {
	if cfg == nil {
		return scheduler.Config{}, schedule.Config{}, nil
	}
	sc := cfg.Scheduler
	tz := strings.TrimSpace(sc.Timezone)
	if tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return scheduler.Config{}, schedule.Config{}, fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	rearmAt, err := config.ParseClockField("scheduler.rearm_at", sc.RearmAt, "00:00")
	if err != nil {
		return scheduler.Config{}, schedule.Config{}, err
	}
	timeout, err := config.ParseDurationOrDefault("scheduler.activation_timeout", sc.ActivationTimeout, 60*time.Second)
	if err != nil {
		return scheduler.Config{}, schedule.Config{}, err
	}
	return scheduler.Config{Timezone: tz}, schedule.Config{
		ActivationTimeout: timeout,
		RearmDaily:        sc.RearmDaily,
		RearmAt:           rearmAt,
	}, nil
}

func mapTaskEngineConfig(cfg *config.Config) (engine.Config, error) {
	out := engine.Config{
		Enabled:     true,
		Workers:     2,
		QueueSize:   256,
		HistorySize: 200,
		RetryMax:    3,
	}
	if cfg == nil || cfg.TaskEngine == nil {
		return out, nil
	}
	te := cfg.TaskEngine
	if te.Enabled != nil {
		out.Enabled = *te.Enabled
	}
	// Fired camera timers run on the engine; it cannot be switched off.
	if !out.Enabled {
		return engine.Config{}, fmt.Errorf("task_engine.enabled cannot be false: camera schedules run on it")
	}
	if te.Workers < 0 || te.QueueSize < 0 || te.HistorySize < 0 || te.RetryMax < 0 {
		return engine.Config{}, fmt.Errorf("task_engine: workers, queue_size, history_size and retry_max must be >= 0")
	}
	if te.Workers != 0 {
		out.Workers = te.Workers
	}
	if te.QueueSize != 0 {
		out.QueueSize = te.QueueSize
	}
	if te.HistorySize != 0 {
		out.HistorySize = te.HistorySize
	}
	if te.RetryMax != 0 {
		out.RetryMax = te.RetryMax
	}

	var err error
	if out.DefaultTimeout, err = config.ParseDurationField("task_engine.default_timeout", te.DefaultTimeout); err != nil {
		return engine.Config{}, err
	}
	if out.MaxQueueDelay, err = config.ParseDurationField("task_engine.max_queue_delay", te.MaxQueueDelay); err != nil {
		return engine.Config{}, err
	}
	return out, nil
}

func mapActivationConfig(cfg *config.Config) (activation.Config, error) {
	if cfg == nil {
		return activation.Config{}, nil
	}
	ac := cfg.Activation
	timeout, err := config.ParseDurationField("activation.timeout", ac.Timeout)
	if err != nil {
		return activation.Config{}, err
	}
	driver := strings.ToLower(strings.TrimSpace(ac.Driver))
	switch driver {
	case "", activation.DriverHTTP, activation.DriverSystemd, activation.DriverNone:
	default:
		return activation.Config{}, fmt.Errorf("activation.driver: unknown %q", ac.Driver)
	}
	if driver == activation.DriverSystemd && ac.UnitTemplate != "" && !strings.Contains(ac.UnitTemplate, "%s") {
		return activation.Config{}, fmt.Errorf("activation.unit_template must contain %%s")
	}
	return activation.Config{
		Driver:       driver,
		BaseURL:      strings.TrimSpace(ac.BaseURL),
		Timeout:      timeout,
		UnitTemplate: strings.TrimSpace(ac.UnitTemplate),
	}, nil
}

func mapPipelineConfig(cfg *config.Config) (pipeline.Config, error) {
	out := pipeline.Config{AutoAlert: true}
	if cfg == nil {
		return out, nil
	}
	pc := cfg.Pipeline
	if pc.AutoAlert != nil {
		out.AutoAlert = *pc.AutoAlert
	}
	var err error
	if out.DwellThreshold, err = config.ParseDurationOrDefault("pipeline.dwell_threshold", pc.DwellThreshold, pipeline.DefaultDwellThreshold); err != nil {
		return pipeline.Config{}, err
	}
	if out.NotifyTimeout, err = config.ParseDurationField("pipeline.notify_timeout", pc.NotifyTimeout); err != nil {
		return pipeline.Config{}, err
	}
	if pc.Lanes < 0 || pc.LaneBuffer < 0 {
		return pipeline.Config{}, fmt.Errorf("pipeline.lanes and pipeline.lane_buffer must be >= 0")
	}
	out.AlertType = strings.TrimSpace(pc.AlertType)
	out.AlertSeverity = strings.TrimSpace(pc.AlertSeverity)
	out.Lanes = pc.Lanes
	out.LaneBuffer = pc.LaneBuffer
	return out, nil
}

// mapNotifierConfig returns the queue settings. An omitted section means
// enabled with defaults.
func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	out := notifier.Config{
		Enabled:         true,
		Workers:         2,
		QueueSize:       512,
		RatePerSec:      3,
		RetryMax:        3,
		RetryBase:       500 * time.Millisecond,
		RetryMaxDelay:   10 * time.Second,
		SendTimeout:     15 * time.Second,
		DedupWindow:     time.Minute,
		DedupMaxEntries: 2000,
	}
	if cfg == nil || cfg.Notifier == nil {
		return out, nil
	}
	n := cfg.Notifier
	if n.Workers < 0 || n.QueueSize < 0 || n.RatePerSec < 0 || n.RetryMax < 0 || n.DedupMaxEntries < 0 {
		return notifier.Config{}, fmt.Errorf("notifier: workers, queue_size, rate_per_sec, retry_max and dedup_max_entries must be >= 0")
	}
	out.Enabled = n.Enabled
	out.PersistDedup = n.PersistDedup
	if n.Workers != 0 {
		out.Workers = n.Workers
	}
	if n.QueueSize != 0 {
		out.QueueSize = n.QueueSize
	}
	if n.RatePerSec != 0 {
		out.RatePerSec = n.RatePerSec
	}
	if n.RetryMax != 0 {
		out.RetryMax = n.RetryMax
	}
	if n.DedupMaxEntries != 0 {
		out.DedupMaxEntries = n.DedupMaxEntries
	}

	var err error
	if out.RetryBase, err = config.ParseDurationOrDefault("notifier.retry_base", n.RetryBase, out.RetryBase); err != nil {
		return notifier.Config{}, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationOrDefault("notifier.retry_max_delay", n.RetryMaxDelay, out.RetryMaxDelay); err != nil {
		return notifier.Config{}, err
	}
	if out.SendTimeout, err = config.ParseDurationOrDefault("notifier.send_timeout", n.SendTimeout, out.SendTimeout); err != nil {
		return notifier.Config{}, err
	}
	if out.DedupWindow, err = config.ParseDurationOrDefault("notifier.dedup_window", n.DedupWindow, out.DedupWindow); err != nil {
		return notifier.Config{}, err
	}
	return out, nil
}

// buildChannels constructs the enabled delivery channels. Channel
// credentials are read once at startup.
func buildChannels(cfg *config.Config) ([]notifier.Channel, error) {
	if cfg == nil || cfg.Notifier == nil {
		return nil, nil
	}
	n := cfg.Notifier
	var out []notifier.Channel

	if n.Telegram.Enabled {
		ch, err := notifier.NewTelegram(notifier.TelegramConfig{
			Token:    strings.TrimSpace(n.Telegram.Token),
			ChatID:   n.Telegram.ChatID,
			ThreadID: n.Telegram.ThreadID,
			APIURL:   strings.TrimSpace(n.Telegram.APIURL),
		})
		if err != nil {
			return nil, fmt.Errorf("notifier.telegram: %w", err)
		}
		out = append(out, ch)
	}
	if n.Webhook.Enabled {
		timeout, err := config.ParseDurationField("notifier.webhook.timeout", n.Webhook.Timeout)
		if err != nil {
			return nil, err
		}
		ch, err := notifier.NewWebhook(notifier.WebhookConfig{
			URL:     strings.TrimSpace(n.Webhook.URL),
			Headers: n.Webhook.Headers,
			Timeout: timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("notifier.webhook: %w", err)
		}
		out = append(out, ch)
	}
	if n.Email.Enabled {
		ch, err := notifier.NewEmail(notifier.EmailConfig{
			Host:     strings.TrimSpace(n.Email.Host),
			Port:     n.Email.Port,
			Username: n.Email.Username,
			Password: n.Email.Password,
			From:     strings.TrimSpace(n.Email.From),
			To:       n.Email.To,
		})
		if err != nil {
			return nil, fmt.Errorf("notifier.email: %w", err)
		}
		out = append(out, ch)
	}
	return out, nil
}

// mapStorageConfig defaults to the in-memory store.
func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{Driver: "memory"}, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	switch driver {
	case "", "memory", "mem":
		return storage.Config{Driver: "memory"}, nil
	case "file":
		path := strings.TrimSpace(sc.Path)
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=file")
		}
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		path := strings.TrimSpace(sc.Path)
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	case "postgres", "postgresql", "pgx":
		dsn := strings.TrimSpace(sc.DSN)
		if dsn == "" {
			return storage.Config{}, fmt.Errorf("storage.dsn is required when storage.driver=postgres")
		}
		return storage.Config{Driver: "postgres", DSN: dsn}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

// validateConfig runs every mapper; the first error rejects a reload.
func validateConfig(cfg *config.Config) error {
	if _, err := mapHTTPConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapSchedulerConfig(cfg); err != nil {
		return err
	}
	if _, err := mapTaskEngineConfig(cfg); err != nil {
		return err
	}
	if _, err := mapActivationConfig(cfg); err != nil {
		return err
	}
	if _, err := mapPipelineConfig(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	return nil
}

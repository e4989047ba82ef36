package config

// Config is the on-disk shape of camguard.yaml (or .json).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// Omitted sections take the defaults documented on each type.
type Config struct {
	Logging    LoggingConfig     `json:"logging"`
	HTTP       HTTPConfig        `json:"http"`
	Scheduler  SchedulerConfig   `json:"scheduler"`
	TaskEngine *TaskEngineConfig `json:"task_engine,omitempty"`
	Activation ActivationConfig  `json:"activation"`
	Pipeline   PipelineConfig    `json:"pipeline"`
	Notifier   *NotifierConfig   `json:"notifier,omitempty"`
	Storage    *StorageConfig    `json:"storage,omitempty"`
}

type LoggingConfig struct {
	Level   string            `json:"level"`
	Console bool              `json:"console"`
	File    LoggingFileConfig `json:"file"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// HTTPConfig controls the admin and ingest listener.
//
// A non-loopback addr without token is refused unless allow_insecure is set.
type HTTPConfig struct {
	Enabled       *bool  `json:"enabled,omitempty"`
	Addr          string `json:"addr"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	Pprof PprofConfig `json:"pprof,omitempty"`
}

type PprofConfig struct {
	Enabled bool   `json:"enabled"`
	Prefix  string `json:"prefix,omitempty"`

	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
	MemProfileRate       int `json:"mem_profile_rate,omitempty"`
}

// SchedulerConfig controls camera activation timers.
//
// Defaults:
//   - timezone: Local
//   - rearm_daily: false (schedules are armed for the current day only)
//   - rearm_at: "00:00"
//   - activation_timeout: "60s"
type SchedulerConfig struct {
	Timezone          string `json:"timezone"`
	RearmDaily        bool   `json:"rearm_daily,omitempty"`
	RearmAt           string `json:"rearm_at,omitempty"`
	ActivationTimeout string `json:"activation_timeout,omitempty"`
}

// TaskEngineConfig controls the pool that runs fired timers.
//
// Enabled is a pointer so we can distinguish "omitted" (true) from an
// explicit false.
//
// Defaults:
//   - workers: 2
//   - queue_size: 256
//   - default_timeout: "0s" (disabled)
//   - max_queue_delay: "0s" (disabled)
//   - history_size: 200
//   - retry_max: 3
type TaskEngineConfig struct {
	Enabled *bool `json:"enabled,omitempty"`
	Workers int   `json:"workers,omitempty"`

	QueueSize int `json:"queue_size,omitempty"`

	DefaultTimeout string `json:"default_timeout,omitempty"`

	// MaxQueueDelay drops tasks that have been queued longer than this duration.
	MaxQueueDelay string `json:"max_queue_delay,omitempty"`

	HistorySize int `json:"history_size,omitempty"`
	RetryMax    int `json:"retry_max,omitempty"`
}

// ActivationConfig selects how detector instances are built, started and stopped.
// driver is one of "http" (default), "systemd" or "none".
type ActivationConfig struct {
	Driver       string `json:"driver"`
	BaseURL      string `json:"base_url,omitempty"`
	Timeout      string `json:"timeout,omitempty"`
	UnitTemplate string `json:"unit_template,omitempty"`
}

// PipelineConfig controls dwell tracking and automatic alerts.
//
// Defaults:
//   - dwell_threshold: "10m"
//   - auto_alert: true
//   - alert_type: "parking-violation"
//   - alert_severity: "high"
//   - lanes: 8, lane_buffer: 64
type PipelineConfig struct {
	DwellThreshold string `json:"dwell_threshold,omitempty"`
	AutoAlert      *bool  `json:"auto_alert,omitempty"`
	AlertType      string `json:"alert_type,omitempty"`
	AlertSeverity  string `json:"alert_severity,omitempty"`
	NotifyTimeout  string `json:"notify_timeout,omitempty"`
	Lanes          int    `json:"lanes,omitempty"`
	LaneBuffer     int    `json:"lane_buffer,omitempty"`
}

// NotifierConfig controls the async notification pipeline.
//
// If the whole section is omitted, the notifier is enabled with no channels,
// which makes every alert a logged no-op.
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	SendTimeout     string `json:"send_timeout,omitempty"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
	PersistDedup    bool   `json:"persist_dedup,omitempty"`

	Telegram TelegramChannelConfig `json:"telegram,omitempty"`
	Webhook  WebhookChannelConfig  `json:"webhook,omitempty"`
	Email    EmailChannelConfig    `json:"email,omitempty"`
}

type TelegramChannelConfig struct {
	Enabled  bool   `json:"enabled"`
	Token    string `json:"token,omitempty"`
	ChatID   int64  `json:"chat_id,omitempty"`
	ThreadID int    `json:"thread_id,omitempty"`
	APIURL   string `json:"api_url,omitempty"`
}

type WebhookChannelConfig struct {
	Enabled bool              `json:"enabled"`
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Timeout string            `json:"timeout,omitempty"`
}

// EmailChannelConfig sends alert mail over SMTP. Recipients come from the
// camera; to is used only when the camera lists none.
type EmailChannelConfig struct {
	Enabled  bool     `json:"enabled"`
	Host     string   `json:"host,omitempty"`
	Port     int      `json:"port,omitempty"`
	Username string   `json:"username,omitempty"`
	Password string   `json:"password,omitempty"`
	From     string   `json:"from,omitempty"`
	To       []string `json:"to,omitempty"`
}

// StorageConfig selects the persistence driver: "memory" (default),
// "sqlite" or "postgres".
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	metricPrefix = "camguard_"

	ResultSuccess = "success"
	ResultError   = "error"

	ArmArmed      = "armed"
	ArmInert      = "inert"
	ArmParseError = "parse_error"
)

var (
	registerOnce sync.Once

	scheduleArms    *prometheus.CounterVec
	schedulePending prometheus.Gauge

	activationCalls   *prometheus.CounterVec
	activationLatency *prometheus.HistogramVec

	pipelineEvents *prometheus.CounterVec
	vehicleDwell   prometheus.Histogram
	alertsTotal    *prometheus.CounterVec

	notifications *prometheus.CounterVec

	taskEvents   *prometheus.CounterVec
	taskDuration prometheus.Histogram

	logEvents *prometheus.CounterVec
)

// Init registers the collectors with the default registry. Helpers are no-ops
// until Init runs, so packages can record unconditionally.
func Init() {
	registerOnce.Do(func() {
		scheduleArms = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "schedule_arms_total",
				Help: "Schedule evaluations by result",
			},
			[]string{"result"},
		)
		schedulePending = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "schedule_pending_tasks",
				Help: "Armed camera start/stop tasks",
			},
		)
		activationCalls = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "activation_calls_total",
				Help: "Activation client calls by operation and result",
			},
			[]string{"op", "result"},
		)
		activationLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "activation_latency_seconds",
				Help:    "Activation client call latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		)
		pipelineEvents = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "pipeline_events_total",
				Help: "Bus events handled by the dwell pipeline by topic and result",
			},
			[]string{"topic", "result"},
		)
		vehicleDwell = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "vehicle_dwell_seconds",
				Help:    "Dwell time observed on vehicle updates",
				Buckets: []float64{30, 60, 120, 300, 600, 900, 1800, 3600, 7200},
			},
		)
		alertsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alerts_total",
				Help: "Alert creation attempts by result",
			},
			[]string{"result"},
		)
		notifications = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "notifications_total",
				Help: "Notification deliveries by channel and result",
			},
			[]string{"channel", "result"},
		)
		taskEvents = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "task_events_total",
				Help: "Task engine lifecycle events",
			},
			[]string{"event"},
		)
		taskDuration = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "task_duration_seconds",
				Help:    "Task run duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		)
		logEvents = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "log_events_total",
				Help: "Log lines written by level",
			},
			[]string{"level"},
		)

		prometheus.MustRegister(
			scheduleArms,
			schedulePending,
			activationCalls,
			activationLatency,
			pipelineEvents,
			vehicleDwell,
			alertsTotal,
			notifications,
			taskEvents,
			taskDuration,
			logEvents,
		)
	})
}

// Handler serves the default registry.
func Handler() http.Handler { return promhttp.Handler() }

func orUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

func IncScheduleArm(result string) {
	if scheduleArms != nil {
		scheduleArms.WithLabelValues(orUnknown(result)).Inc()
	}
}

func SetSchedulePending(n int) {
	if schedulePending != nil {
		schedulePending.Set(float64(n))
	}
}

// ObserveActivation records one activation client call.
func ObserveActivation(op string, err error, duration time.Duration) {
	result := ResultSuccess
	if err != nil {
		result = ResultError
	}
	if activationCalls != nil {
		activationCalls.WithLabelValues(orUnknown(op), result).Inc()
	}
	if activationLatency != nil {
		activationLatency.WithLabelValues(orUnknown(op)).Observe(duration.Seconds())
	}
}

func IncPipelineEvent(topic, result string) {
	if pipelineEvents != nil {
		pipelineEvents.WithLabelValues(orUnknown(topic), orUnknown(result)).Inc()
	}
}

func ObserveDwell(seconds int64) {
	if vehicleDwell != nil && seconds >= 0 {
		vehicleDwell.Observe(float64(seconds))
	}
}

func IncAlert(result string) {
	if alertsTotal != nil {
		alertsTotal.WithLabelValues(orUnknown(result)).Inc()
	}
}

func IncNotification(channel, result string) {
	if notifications != nil {
		notifications.WithLabelValues(orUnknown(channel), orUnknown(result)).Inc()
	}
}

// ObserveTask records a task lifecycle event; duration is only used for
// finished and failed runs.
func ObserveTask(event string, duration time.Duration) {
	if taskEvents != nil {
		taskEvents.WithLabelValues(orUnknown(event)).Inc()
	}
	if taskDuration != nil && duration > 0 {
		taskDuration.Observe(duration.Seconds())
	}
}

func IncLogEvent(level string) {
	if logEvents != nil {
		logEvents.WithLabelValues(orUnknown(level)).Inc()
	}
}

package scheduler

import (
	"context"
	"sync"
	"time"

	"camguard/internal/task/engine"
	logx "camguard/pkg/logx"

	"github.com/robfig/cron/v3"
)

type Config struct {
	Timezone string // IANA TZ, e.g. "Europe/Berlin"; empty means Local
}

// Executor accepts fired triggers. *engine.Service implements it.
type Executor interface {
	Enqueue(t engine.Task) error
}

type TaskOptions = engine.TaskOptions

type cronDef struct {
	name    string
	spec    string
	timeout time.Duration
	job     func(ctx context.Context) error
	opt     TaskOptions
	entryID cron.EntryID
}

type onceDef struct {
	at      time.Time
	timeout time.Duration
	job     func(ctx context.Context) error
	opt     TaskOptions
	ver     uint64
	timer   Timer // nil while the scheduler is stopped
}

type Service struct {
	mu  sync.Mutex
	log logx.Logger
	cfg Config
	loc *time.Location

	exec  Executor
	clock Clock

	parser  cron.Parser
	c       *cron.Cron
	defs    []cronDef
	running bool

	// One-shot definitions survive Stop and are re-armed by Start.
	tmu     sync.Mutex
	once    map[string]*onceDef
	onceSeq uint64

	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time
}

// OnceInfo describes a pending one-shot trigger.
type OnceInfo struct {
	Name    string        `json:"name"`
	At      time.Time     `json:"at"`
	Timeout time.Duration `json:"timeout"`
}

type CronInfo struct {
	Name string    `json:"name"`
	Spec string    `json:"spec"`
	Next time.Time `json:"next"`
	Prev time.Time `json:"prev"`
}

type Snapshot struct {
	Running  bool       `json:"running"`
	Timezone string     `json:"timezone"`
	Once     []OnceInfo `json:"once"`
	Cron     []CronInfo `json:"cron"`
}

package scheduler

import (
	"context"
	"strings"
	"time"

	logx "camguard/pkg/logx"

	"github.com/robfig/cron/v3"
)

type Option func(*Service)

// WithClock replaces the wall clock for one-shot triggers.
func WithClock(c Clock) Option { return func(s *Service) { s.clock = c } }

func New(cfg Config, exec Executor, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:         cfg,
		log:         log,
		exec:        exec,
		clock:       realClock{},
		parser:      cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		once:        map[string]*onceDef{},
		lastEnqWarn: map[string]time.Time{},
	}
	for _, o := range opts {
		o(s)
	}
	s.loc = s.loadLocationLocked()
	return s
}

func (s *Service) Now() time.Time { return s.clock.Now().In(s.Location()) }

func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loc
}

// Apply swaps the timezone. Cron entries are re-registered in the new zone;
// already armed one-shot instants are absolute and stay as they are.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := strings.TrimSpace(s.cfg.Timezone) != strings.TrimSpace(cfg.Timezone)
	s.cfg = cfg
	if !changed {
		return
	}
	s.loc = s.loadLocationLocked()
	if s.running {
		s.restartCronLocked()
	}
}

// Start starts cron triggering and arms the stored one-shot timers.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for i := range s.defs {
		s.addCronLocked(&s.defs[i])
	}
	s.c.Start()
	loc, n := s.loc, len(s.defs)
	s.mu.Unlock()

	s.tmu.Lock()
	for name, d := range s.once {
		s.armLocked(name, d)
	}
	pending := len(s.once)
	s.tmu.Unlock()

	s.log.Info("scheduler started", logx.String("tz", loc.String()), logx.Int("cron", n), logx.Int("once", pending))
}

// Stop stops cron and the runtime timers. One-shot definitions are kept so a
// later Start re-arms them; a job already handed to the executor keeps running.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.running = false
	for i := range s.defs {
		s.defs[i].entryID = 0
	}
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}

	s.tmu.Lock()
	for _, d := range s.once {
		if d.timer != nil {
			d.timer.Stop()
			d.timer = nil
		}
	}
	s.tmu.Unlock()
	s.log.Info("scheduler stopped")
}

func (s *Service) restartCronLocked() {
	if s.c != nil {
		<-s.c.Stop().Done()
	}
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for i := range s.defs {
		s.addCronLocked(&s.defs[i])
	}
	s.c.Start()
	s.log.Info("scheduler timezone changed", logx.String("tz", s.loc.String()), logx.Int("cron", len(s.defs)))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

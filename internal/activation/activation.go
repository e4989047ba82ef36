// Package activation issues build/start/stop commands to a camera's
// detection process. Calls are single-shot: no driver retries.
package activation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"camguard/pkg/logx"
)

const (
	DriverHTTP    = "http"
	DriverSystemd = "systemd"
	DriverNone    = "none"

	DefaultBaseURL      = "http://car-detection-service:5000"
	DefaultUnitTemplate = "camguard-detector@%s.service"
	DefaultTimeout      = 15 * time.Second
)

// Client drives one camera's detection process.
type Client interface {
	Build(ctx context.Context, cameraID string) error
	Start(ctx context.Context, cameraID string) error
	Stop(ctx context.Context, cameraID string) error
}

type Config struct {
	Driver       string
	BaseURL      string
	Timeout      time.Duration
	UnitTemplate string
}

func (c Config) normalize() Config {
	c.Driver = strings.ToLower(strings.TrimSpace(c.Driver))
	if c.Driver == "" {
		c.Driver = DriverHTTP
	}
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if strings.TrimSpace(c.UnitTemplate) == "" {
		c.UnitTemplate = DefaultUnitTemplate
	}
	return c
}

// New returns the client for cfg.Driver.
func New(cfg Config, log logx.Logger) (Client, error) {
	cfg = cfg.normalize()
	switch cfg.Driver {
	case DriverHTTP:
		return NewHTTP(cfg, log), nil
	case DriverSystemd:
		if !strings.Contains(cfg.UnitTemplate, "%s") {
			return nil, fmt.Errorf("activation: unit_template %q must contain %%s", cfg.UnitTemplate)
		}
		return newSystemd(cfg, log)
	case DriverNone:
		return Nop{}, nil
	default:
		return nil, fmt.Errorf("activation: unknown driver %q", cfg.Driver)
	}
}

// Nop accepts every command. Used when activation is disabled.
type Nop struct{}

func (Nop) Build(context.Context, string) error { return nil }
func (Nop) Start(context.Context, string) error { return nil }
func (Nop) Stop(context.Context, string) error  { return nil }

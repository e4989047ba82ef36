//go:build linux

package activation

import (
	"context"
	"fmt"

	"github.com/coreos/go-systemd/v22/dbus"

	"camguard/internal/domain"
	"camguard/pkg/logx"
)

// Systemd maps each camera to a templated unit on the system bus.
type Systemd struct {
	unitTemplate string
	log          logx.Logger
}

func newSystemd(cfg Config, log logx.Logger) (Client, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Systemd{
		unitTemplate: cfg.UnitTemplate,
		log:          log.With(logx.String("comp", "activation"), logx.String("driver", DriverSystemd)),
	}, nil
}

func (s *Systemd) unit(cameraID string) string { return fmt.Sprintf(s.unitTemplate, cameraID) }

// Build reloads unit files so a freshly written drop-in takes effect.
func (s *Systemd) Build(ctx context.Context, cameraID string) error {
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return &domain.DownstreamError{Component: "activation", Op: "build", Target: cameraID, Err: err}
	}
	defer conn.Close()
	if err := conn.ReloadContext(ctx); err != nil {
		return &domain.DownstreamError{Component: "activation", Op: "build", Target: cameraID, Err: err}
	}
	return nil
}

func (s *Systemd) Start(ctx context.Context, cameraID string) error {
	return s.job(ctx, "start", cameraID, func(conn *dbus.Conn, unit string, ch chan<- string) (int, error) {
		return conn.StartUnitContext(ctx, unit, "replace", ch)
	})
}

func (s *Systemd) Stop(ctx context.Context, cameraID string) error {
	return s.job(ctx, "stop", cameraID, func(conn *dbus.Conn, unit string, ch chan<- string) (int, error) {
		return conn.StopUnitContext(ctx, unit, "replace", ch)
	})
}

func (s *Systemd) job(ctx context.Context, op, cameraID string, run func(*dbus.Conn, string, chan<- string) (int, error)) error {
	unit := s.unit(cameraID)
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return &domain.DownstreamError{Component: "activation", Op: op, Target: cameraID, Err: err}
	}
	defer conn.Close()

	ch := make(chan string, 1)
	jobID, err := run(conn, unit, ch)
	if err != nil {
		return &domain.DownstreamError{Component: "activation", Op: op, Target: cameraID, Err: err}
	}
	select {
	case res := <-ch:
		s.log.Debug("unit job finished",
			logx.String("op", op),
			logx.String("unit", unit),
			logx.Int("job", jobID),
			logx.String("result", res),
		)
		if res != "done" {
			return &domain.DownstreamError{Component: "activation", Op: op, Target: cameraID, Err: fmt.Errorf("unit %s job %s", unit, res)}
		}
		return nil
	case <-ctx.Done():
		return &domain.DownstreamError{Component: "activation", Op: op, Target: cameraID, Err: ctx.Err()}
	}
}

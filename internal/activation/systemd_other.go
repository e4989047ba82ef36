//go:build !linux

package activation

import (
	"errors"

	"camguard/pkg/logx"
)

var ErrUnsupported = errors.New("activation: systemd driver is linux only")

func newSystemd(Config, logx.Logger) (Client, error) { return nil, ErrUnsupported }

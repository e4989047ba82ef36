package activation

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"camguard/internal/domain"
	"camguard/pkg/logx"
)

// HTTP talks to the detection service REST endpoints.
type HTTP struct {
	base   string
	client *http.Client
	log    logx.Logger
}

func NewHTTP(cfg Config, log logx.Logger) *HTTP {
	cfg = cfg.normalize()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &HTTP{
		base:   cfg.BaseURL,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log.With(logx.String("comp", "activation"), logx.String("driver", DriverHTTP)),
	}
}

func (h *HTTP) Build(ctx context.Context, cameraID string) error {
	return h.call(ctx, http.MethodGet, "build", cameraID)
}

func (h *HTTP) Start(ctx context.Context, cameraID string) error {
	return h.call(ctx, http.MethodPost, "start", cameraID)
}

func (h *HTTP) Stop(ctx context.Context, cameraID string) error {
	return h.call(ctx, http.MethodPost, "stop", cameraID)
}

func (h *HTTP) call(ctx context.Context, method, op, cameraID string) error {
	u := h.base + "/" + op + "?" + url.Values{"camera_id": {cameraID}}.Encode()
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return &domain.DownstreamError{Component: "activation", Op: op, Target: cameraID, Err: err}
	}
	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		return &domain.DownstreamError{Component: "activation", Op: op, Target: cameraID, Err: err}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))

	h.log.Debug("activation call",
		logx.String("op", op),
		logx.String("camera_id", cameraID),
		logx.Int("status", resp.StatusCode),
		logx.Duration("took", time.Since(start)),
	)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		de := &domain.DownstreamError{Component: "activation", Op: op, Target: cameraID, Status: resp.StatusCode}
		if msg := strings.TrimSpace(string(body)); msg != "" {
			de.Err = errors.New(msg)
		}
		return de
	}
	return nil
}

package pipeline

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"camguard/internal/domain"
	"camguard/internal/eventbus"
	"camguard/internal/notifier"
	"camguard/internal/observability/metrics"
	"camguard/pkg/logx"
)

type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// Service applies sightings, dwell updates and alert creation.
//
// Updates for one vehicle id are serialized in-process so dwell never moves
// backwards and the alert flag flips once, whichever path (bus or HTTP) the
// update came from.
type Service struct {
	mu  sync.RWMutex
	cfg Config

	store  Store
	notify Notifier
	bus    eventbus.Bus
	log    logx.Logger
	now    func() time.Time

	locks [64]sync.Mutex
}

func New(cfg Config, store Store, notify Notifier, bus eventbus.Bus, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:    cfg.normalize(),
		store:  store,
		notify: notify,
		bus:    bus,
		log:    log.With(logx.String("comp", "pipeline")),
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Apply swaps threshold and auto-alert settings. Lane sizing is read when a
// Consumer starts.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.normalize()
	s.mu.Unlock()
}

func (s *Service) config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

func (s *Service) lockFor(id string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &s.locks[h.Sum32()%uint32(len(s.locks))]
}

// OnVehicleObserved records a sighting. A known id keeps its first-seen
// instant and alert flag; a new one starts at zero dwell.
func (s *Service) OnVehicleObserved(ctx context.Context, v domain.VehicleObservation) (domain.VehicleObservation, error) {
	if err := v.ValidateSighting(); err != nil {
		return domain.VehicleObservation{}, err
	}
	if strings.TrimSpace(v.ID) == "" {
		v.ID = uuid.NewString()
	}

	mu := s.lockFor(v.ID)
	mu.Lock()
	defer mu.Unlock()

	now := s.now()
	prev, err := s.store.GetVehicle(ctx, v.ID)
	isNew := domain.IsNotFound(err)
	switch {
	case err == nil:
		v.FirstSeenAt = prev.FirstSeenAt
		v.AlertRaised = prev.AlertRaised
		v.DwellSeconds = prev.DwellSeconds
	case isNew:
		v.FirstSeenAt = now
		v.DwellSeconds = 0
		v.AlertRaised = false
	default:
		return domain.VehicleObservation{}, err
	}
	v.LastUpdateAt = now
	v.DwellFormatted = domain.FormatDwell(v.DwellSeconds)

	if err := s.store.SaveVehicle(ctx, v); err != nil {
		return domain.VehicleObservation{}, err
	}
	s.log.Debug("vehicle observed",
		logx.String("vehicle_id", v.ID),
		logx.String("camera_id", v.CameraID),
		logx.Bool("new", isNew),
	)
	return v, nil
}

// OnVehicleUpdated refreshes dwell for a known vehicle and raises the alert
// flag the first time dwell reaches the threshold. The refreshed state is
// always published.
func (s *Service) OnVehicleUpdated(ctx context.Context, upd domain.VehicleObservation) (domain.VehicleObservation, error) {
	id := strings.TrimSpace(upd.ID)
	if id == "" {
		return domain.VehicleObservation{}, &domain.ValidationError{Entity: "vehicle", Fields: []string{"id"}}
	}
	cfg := s.config()

	mu := s.lockFor(id)
	mu.Lock()
	cur, err := s.store.GetVehicle(ctx, id)
	if err != nil {
		mu.Unlock()
		return domain.VehicleObservation{}, err
	}
	if strings.TrimSpace(upd.ImageURL) != "" {
		cur.ImageURL = upd.ImageURL
	}
	if upd.Latitude != nil {
		cur.Latitude = upd.Latitude
	}
	if upd.Longitude != nil {
		cur.Longitude = upd.Longitude
	}
	if strings.TrimSpace(upd.CameraID) != "" {
		cur.CameraID = upd.CameraID
	}

	now := s.now()
	elapsed := int64(now.Sub(cur.FirstSeenAt) / time.Second)
	cur.DwellSeconds = max(cur.DwellSeconds, elapsed, 0)
	if now.After(cur.LastUpdateAt) {
		cur.LastUpdateAt = now
	}
	cur.DwellFormatted = domain.FormatDwell(cur.DwellSeconds)

	threshold := int64(cfg.DwellThreshold / time.Second)
	crossed := !cur.AlertRaised && cur.DwellSeconds >= threshold
	if crossed {
		cur.AlertRaised = true
	}

	if err := s.store.SaveVehicle(ctx, cur); err != nil {
		mu.Unlock()
		return domain.VehicleObservation{}, err
	}
	metrics.ObserveDwell(cur.DwellSeconds)
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Topic: TopicVehicleStateUpdated, Key: cur.ID, Time: now, Data: cur})
	}
	mu.Unlock()

	if crossed {
		s.log.Info("dwell threshold reached",
			logx.String("vehicle_id", cur.ID),
			logx.String("camera_id", cur.CameraID),
			logx.Int64("dwell_s", cur.DwellSeconds),
			logx.Int64("threshold_s", threshold),
		)
		if cfg.AutoAlert {
			s.autoAlert(ctx, cfg, cur)
		}
	}
	return cur, nil
}

func (s *Service) autoAlert(ctx context.Context, cfg Config, v domain.VehicleObservation) {
	snap := v
	c := domain.AlertCandidate{
		CameraID: v.CameraID,
		Type:     cfg.AlertType,
		Severity: cfg.AlertSeverity,
		Description: fmt.Sprintf("%s %s vehicle %s has been parked at camera %s for %s",
			strings.TrimSpace(v.Color), strings.TrimSpace(v.Type), v.ID, v.CameraID, v.DwellFormatted),
		VehicleID: v.ID,
		Vehicle:   &snap,
	}
	if _, err := s.CreateAlert(ctx, c); err != nil {
		s.log.Warn("auto alert failed", logx.String("vehicle_id", v.ID), logx.String("camera_id", v.CameraID), logx.Err(err))
	}
}

// CreateAlert validates the candidate, bumps the camera counter and stores
// the alert in one step, then notifies best-effort. Notification outcome
// never changes the result.
func (s *Service) CreateAlert(ctx context.Context, c domain.AlertCandidate) (domain.Alert, error) {
	if err := c.Validate(); err != nil {
		metrics.IncAlert("invalid")
		return domain.Alert{}, err
	}
	cameraID := strings.TrimSpace(c.CameraID)
	if cameraID == "" && c.Vehicle != nil {
		cameraID = c.Vehicle.CameraID
	}
	if cameraID == "" {
		metrics.IncAlert("invalid")
		return domain.Alert{}, &domain.ValidationError{Entity: "alert", Fields: []string{"cameraId"}}
	}

	cam, err := s.store.GetCamera(ctx, cameraID)
	if err != nil {
		metrics.IncAlert(metrics.ResultError)
		return domain.Alert{}, err
	}

	a := domain.Alert{
		ID:          uuid.NewString(),
		CameraID:    cameraID,
		Type:        strings.TrimSpace(c.Type),
		Severity:    strings.TrimSpace(c.Severity),
		Description: strings.TrimSpace(c.Description),
		VehicleID:   c.VehicleRef(),
		Vehicle:     c.Vehicle,
		Timestamp:   s.now(),
	}
	if a.Vehicle == nil {
		if v, err := s.store.GetVehicle(ctx, a.VehicleID); err == nil {
			a.Vehicle = &v
		}
	}

	count, err := s.store.InsertAlert(ctx, a)
	if err != nil {
		metrics.IncAlert(metrics.ResultError)
		return domain.Alert{}, err
	}
	metrics.IncAlert(metrics.ResultSuccess)
	s.log.Info("alert created",
		logx.String("alert_id", a.ID),
		logx.String("camera_id", a.CameraID),
		logx.String("vehicle_id", a.VehicleID),
		logx.String("severity", a.Severity),
		logx.Int64("alert_count", count),
	)
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Topic: TopicAlertRecorded, Key: a.CameraID, Time: a.Timestamp, Data: a})
	}

	cam.AlertCount = count
	s.notifyBestEffort(ctx, cam, a)
	return a, nil
}

func (s *Service) notifyBestEffort(ctx context.Context, cam domain.Camera, a domain.Alert) {
	if s.notify == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			metrics.IncNotification("intake", metrics.ResultError)
			s.log.Error("alert notification panicked", logx.String("alert_id", a.ID), logx.Any("panic", r))
		}
	}()
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config().NotifyTimeout)
	defer cancel()
	if err := s.notify.Notify(nctx, alertMessage(cam, a)); err != nil {
		metrics.IncNotification("intake", metrics.ResultError)
		s.log.Warn("alert notification failed",
			logx.String("alert_id", a.ID),
			logx.String("camera_id", a.CameraID),
			logx.String("op", "notify"),
			logx.Err(err),
		)
	}
}

func alertMessage(cam domain.Camera, a domain.Alert) notifier.Message {
	name := cam.Name
	if name == "" {
		name = cam.ID
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Camera: %s (%s)\n", name, cam.ID)
	if cam.Location != "" {
		fmt.Fprintf(&b, "Location: %s\n", cam.Location)
	}
	fmt.Fprintf(&b, "Type: %s\nSeverity: %s\n", a.Type, a.Severity)
	fmt.Fprintf(&b, "Time: %s\n", a.Timestamp.Format(time.RFC3339))
	if v := a.Vehicle; v != nil {
		fmt.Fprintf(&b, "Vehicle: %s %s %s (%s)\n", v.Color, v.Manufacturer, v.Type, v.ID)
		if v.DwellFormatted != "" {
			fmt.Fprintf(&b, "Dwell: %s\n", v.DwellFormatted)
		}
		if v.ImageURL != "" {
			fmt.Fprintf(&b, "Image: %s\n", v.ImageURL)
		}
	} else if a.VehicleID != "" {
		fmt.Fprintf(&b, "Vehicle: %s\n", a.VehicleID)
	}
	fmt.Fprintf(&b, "Alerts on this camera: %d\n\n%s", cam.AlertCount, a.Description)

	return notifier.Message{
		Key:        "alert:" + a.ID,
		Subject:    fmt.Sprintf("Camguard alert: %s at %s", a.Type, name),
		Text:       b.String(),
		Priority:   severityPriority(a.Severity),
		Recipients: cam.Emails,
	}
}

func severityPriority(sev string) int {
	switch strings.ToLower(strings.TrimSpace(sev)) {
	case "critical", "high":
		return 9
	case "medium", "warning":
		return 7
	default:
		return 5
	}
}

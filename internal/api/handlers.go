package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"camguard/internal/domain"
	"camguard/internal/eventbus"
	"camguard/internal/pipeline"
	"camguard/internal/schedule"
	"camguard/internal/storage"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const defaultAlertListLimit = 100

// Store is the persistence the HTTP surface reads and writes.
type Store interface {
	storage.CameraStore
	storage.ScheduleStore
	storage.VehicleStore
	storage.AlertStore
	storage.AuditStore
}

// Scheduler arms camera timers. *schedule.Engine implements it.
type Scheduler interface {
	ScheduleCamera(cameraID string, s domain.CameraSchedule)
	Cancel(cameraID string)
	Pending(cameraID string) []schedule.Task
}

// Pipeline applies sightings and alerts. *pipeline.Service implements it.
type Pipeline interface {
	OnVehicleObserved(ctx context.Context, v domain.VehicleObservation) (domain.VehicleObservation, error)
	OnVehicleUpdated(ctx context.Context, v domain.VehicleObservation) (domain.VehicleObservation, error)
	CreateAlert(ctx context.Context, c domain.AlertCandidate) (domain.Alert, error)
}

// Deps are the services behind the routes. Health is optional.
type Deps struct {
	Store    Store
	Schedule Scheduler
	Pipeline Pipeline
	Bus      eventbus.Bus
	Health   func() map[string]any
}

type cameraRequest struct {
	ID       string                 `json:"id"`
	Name     string                 `json:"name"`
	Emails   []string               `json:"emails"`
	Location string                 `json:"location"`
	Schedule *domain.CameraSchedule `json:"schedule"`
}

type pendingResponse struct {
	CameraID string          `json:"cameraId"`
	Pending  []schedule.Task `json:"pending"`
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{"status": "ok"}
	if s.deps.Health != nil {
		for k, v := range s.deps.Health() {
			body[k] = v
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Service) handleCreateCamera(w http.ResponseWriter, r *http.Request) {
	var req cameraRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = uuid.NewString()
	}
	cam := domain.NewCamera(id, strings.TrimSpace(req.Name))
	cam.Emails = req.Emails
	cam.Location = req.Location
	if req.Schedule != nil {
		cam.Schedule = *req.Schedule
	}
	unlock := s.lockCamera(cam.ID)
	err := s.deps.Store.CreateCamera(r.Context(), cam)
	if err == nil && cam.Schedule.Enabled {
		s.deps.Schedule.ScheduleCamera(cam.ID, cam.Schedule)
	}
	unlock()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, cam)
}

func (s *Service) handleListCameras(w http.ResponseWriter, r *http.Request) {
	cams, err := s.deps.Store.ListCameras(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cams)
}

func (s *Service) handleGetCamera(w http.ResponseWriter, r *http.Request) {
	cam, err := s.deps.Store.GetCamera(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cam)
}

func (s *Service) handleDeleteCamera(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	start := time.Now()
	unlock := s.lockCamera(id)
	err := s.deps.Store.DeleteCamera(r.Context(), id)
	if err == nil {
		s.deps.Schedule.Cancel(id)
	}
	unlock()
	s.audit(r, "camera.delete", id, start, err, nil)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	sched, err := s.deps.Store.FindSchedule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sched)
}

// handlePutSchedule persists the schedule first, then re-arms the camera.
// Both happen under the camera lock so concurrent updates cannot leave a
// stale window armed.
func (s *Service) handlePutSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var sched domain.CameraSchedule
	if err := decodeBody(r, &sched); err != nil {
		s.writeError(w, r, err)
		return
	}
	start := time.Now()
	unlock := s.lockCamera(id)
	err := s.deps.Store.SaveSchedule(r.Context(), id, sched)
	var pending []schedule.Task
	if err == nil {
		s.deps.Schedule.ScheduleCamera(id, sched)
		pending = s.deps.Schedule.Pending(id)
	}
	unlock()
	s.audit(r, "schedule.put", id, start, err, map[string]any{"schedule": sched})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pendingResponse{CameraID: id, Pending: nonNil(pending)})
}

func (s *Service) handlePending(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.deps.Store.GetCamera(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pendingResponse{CameraID: id, Pending: nonNil(s.deps.Schedule.Pending(id))})
}

func (s *Service) handleCameraAlerts(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit := defaultAlertListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, r, badRequest{fmt.Errorf("invalid limit %q", raw)})
			return
		}
		limit = n
	}
	if _, err := s.deps.Store.GetCamera(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	alerts, err := s.deps.Store.ListAlertsByCamera(r.Context(), id, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if alerts == nil {
		alerts = []domain.Alert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (s *Service) handleVehicleObserved(w http.ResponseWriter, r *http.Request) {
	var v domain.VehicleObservation
	if err := decodeBody(r, &v); err != nil {
		s.writeError(w, r, err)
		return
	}
	out, err := s.deps.Pipeline.OnVehicleObserved(r.Context(), v)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Service) handleVehicleUpdated(w http.ResponseWriter, r *http.Request) {
	var v domain.VehicleObservation
	if err := decodeBody(r, &v); err != nil {
		s.writeError(w, r, err)
		return
	}
	v.ID = chi.URLParam(r, "id")
	out, err := s.deps.Pipeline.OnVehicleUpdated(r.Context(), v)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Service) handleGetVehicle(w http.ResponseWriter, r *http.Request) {
	v, err := s.deps.Store.GetVehicle(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Service) handleCreateAlert(w http.ResponseWriter, r *http.Request) {
	var c domain.AlertCandidate
	if err := decodeBody(r, &c); err != nil {
		s.writeError(w, r, err)
		return
	}
	a, err := s.deps.Pipeline.CreateAlert(r.Context(), c)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// handleEvent hands a raw detector payload to the bus. It blocks until the
// pipeline consumer accepted it, so a slow pipeline slows the detector down.
func (s *Service) handleEvent(w http.ResponseWriter, r *http.Request) {
	topic := chi.URLParam(r, "topic")
	if !isIngestTopic(topic) {
		s.writeError(w, r, domain.NotFound("topic", topic))
		return
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, r, badRequest{fmt.Errorf("read body: %w", err)})
		return
	}
	if !json.Valid(raw) {
		s.writeError(w, r, badRequest{errors.New("invalid request body: not JSON")})
		return
	}
	key := strings.TrimSpace(r.URL.Query().Get("key"))
	if key == "" {
		key = eventKey(topic, raw)
	}
	e := eventbus.Event{Topic: topic, Key: key, Time: time.Now(), Data: json.RawMessage(raw)}
	if err := s.deps.Bus.Deliver(r.Context(), e); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"topic": topic, "key": key})
}

func isIngestTopic(topic string) bool {
	for _, t := range pipeline.IngestTopics {
		if t == topic {
			return true
		}
	}
	return false
}

// eventKey picks the ordering key from the payload: the vehicle id for
// sightings and updates, the camera id for alerts.
func eventKey(topic string, raw []byte) string {
	var ids struct {
		ID        string `json:"id"`
		VehicleID string `json:"vehicleId"`
		CameraID  string `json:"cameraId"`
	}
	_ = json.Unmarshal(raw, &ids)
	switch topic {
	case pipeline.TopicAlertCreated:
		if ids.VehicleID != "" {
			return ids.VehicleID
		}
		return ids.CameraID
	default:
		if ids.ID != "" {
			return ids.ID
		}
		return ids.CameraID
	}
}

func nonNil(tasks []schedule.Task) []schedule.Task {
	if tasks == nil {
		return []schedule.Task{}
	}
	return tasks
}

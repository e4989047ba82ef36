package api

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"net/http"
	"strconv"
	"strings"
	"time"

	"camguard/internal/storage"
	"camguard/pkg/logx"

	"github.com/go-chi/chi/v5/middleware"
)

const (
	auditActor          = "api"
	defaultAuditLimit   = 50
	cameraLockStripes   = 32
	auditAppendDeadline = time.Second
)

// lockCamera serializes writes that persist a camera's schedule and then arm
// or cancel its timers, so the armed window always matches the stored one.
func (s *Service) lockCamera(id string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	mu := &s.camLocks[h.Sum32()%cameraLockStripes]
	mu.Lock()
	return mu.Unlock
}

// audit records an admin mutation. Failures are logged and never change the
// response.
func (s *Service) audit(r *http.Request, action, target string, start time.Time, err error, meta map[string]any) {
	entry := storage.AuditEntry{
		At:     time.Now(),
		Actor:  auditActor,
		Action: action,
		Target: target,
		OK:     err == nil,
		TookMS: time.Since(start).Milliseconds(),
	}
	if err != nil {
		entry.Error = err.Error()
	}
	if meta == nil {
		meta = map[string]any{}
	}
	if id := middleware.GetReqID(r.Context()); id != "" {
		meta["request_id"] = id
	}
	if len(meta) > 0 {
		if b, merr := json.Marshal(meta); merr == nil {
			entry.MetaJSON = string(b)
		}
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), auditAppendDeadline)
	defer cancel()
	if aerr := s.deps.Store.AppendAudit(ctx, entry); aerr != nil {
		s.log.Warn("audit append failed", logx.String("action", action), logx.String("target", target), logx.Err(aerr))
	}
}

// handleListAudit serves GET /api/v1/audit?camera=<id>&limit=<n>, newest first.
func (s *Service) handleListAudit(w http.ResponseWriter, r *http.Request) {
	limit := defaultAuditLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, r, badRequest{fmt.Errorf("invalid limit %q", raw)})
			return
		}
		limit = n
	}
	target := strings.TrimSpace(r.URL.Query().Get("camera"))
	entries, err := s.deps.Store.ListAudit(r.Context(), target, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []storage.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

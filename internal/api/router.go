package api

import (
	"crypto/subtle"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"camguard/internal/observability/metrics"
	"camguard/pkg/logx"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Router builds the route tree for cfg. /healthz stays unauthenticated so
// supervisors and load balancers can poll it.
func (s *Service) Router(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.recoverer)
	r.Use(s.requestLog)

	r.Get("/healthz", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(bearerAuth(cfg.Token))

		r.Handle("/metrics", metrics.Handler())
		if cfg.Pprof.Enabled {
			mountPprof(r, cfg.Pprof.Prefix)
		}

		r.Route("/api/v1", func(r chi.Router) {
			r.Route("/cameras", func(r chi.Router) {
				r.Post("/", s.handleCreateCamera)
				r.Get("/", s.handleListCameras)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetCamera)
					r.Delete("/", s.handleDeleteCamera)
					r.Get("/schedule", s.handleGetSchedule)
					r.Put("/schedule", s.handlePutSchedule)
					r.Get("/schedule/pending", s.handlePending)
					r.Get("/alerts", s.handleCameraAlerts)
				})
			})
			r.Post("/vehicles", s.handleVehicleObserved)
			r.Get("/vehicles/{id}", s.handleGetVehicle)
			r.Put("/vehicles/{id}", s.handleVehicleUpdated)
			r.Post("/alerts", s.handleCreateAlert)
			r.Post("/events/{topic}", s.handleEvent)
			r.Get("/audit", s.handleListAudit)
		})
	})
	return r
}

// bearerAuth accepts "Authorization: Bearer <token>". An empty token
// disables the check.
func bearerAuth(token string) func(http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	return func(next http.Handler) http.Handler {
		if tok == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const p = "Bearer "
			ah := r.Header.Get("Authorization")
			if strings.HasPrefix(ah, p) && subtle.ConstantTimeCompare([]byte(strings.TrimSpace(ah[len(p):])), []byte(tok)) == 1 {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
		})
	}
}

func (s *Service) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.log.Error("http handler panicked",
					logx.String("path", r.URL.Path),
					logx.String("request_id", middleware.GetReqID(r.Context())),
					logx.Any("panic", rec),
					logx.Stack(string(debug.Stack())),
				)
				writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Service) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.Int("bytes", ww.BytesWritten()),
			logx.Duration("took", time.Since(start)),
			logx.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

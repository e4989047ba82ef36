package api

import (
	"net/http"
	hpprof "net/http/pprof"
	"runtime"
	"strings"

	"github.com/go-chi/chi/v5"
)

const defaultPprofPrefix = "/debug/pprof/"

// PprofConfig exposes net/http/pprof on the main listener. The rates are
// applied to the runtime even while the endpoints are disabled.
type PprofConfig struct {
	Enabled bool
	Prefix  string

	MutexProfileFraction int
	BlockProfileRate     int
	MemProfileRate       int
}

func applyRuntimeRates(cfg PprofConfig) {
	if cfg.MutexProfileFraction >= 0 {
		runtime.SetMutexProfileFraction(cfg.MutexProfileFraction)
	}
	if cfg.BlockProfileRate >= 0 {
		runtime.SetBlockProfileRate(cfg.BlockProfileRate)
	}
	if cfg.MemProfileRate > 0 {
		runtime.MemProfileRate = cfg.MemProfileRate
	}
}

func normalizePrefix(prefix string) string {
	p := strings.TrimSpace(prefix)
	if p == "" {
		p = defaultPprofPrefix
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

func mountPprof(r chi.Router, prefix string) {
	canon := normalizePrefix(prefix)
	base := strings.TrimSuffix(canon, "/")

	r.Get(base, func(w http.ResponseWriter, req *http.Request) {
		http.Redirect(w, req, canon, http.StatusPermanentRedirect)
	})
	r.HandleFunc(base+"/cmdline", hpprof.Cmdline)
	r.HandleFunc(base+"/profile", hpprof.Profile)
	r.HandleFunc(base+"/symbol", hpprof.Symbol)
	r.HandleFunc(base+"/trace", hpprof.Trace)
	r.HandleFunc(canon+"*", pprofIndexAt(canon))
}

// pprofIndexAt serves pprof.Index, which assumes the /debug/pprof/ root,
// under any prefix by rewriting the path.
func pprofIndexAt(canon string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r2 := r.Clone(r.Context())
		r2.URL.Path = defaultPprofPrefix + strings.TrimPrefix(r.URL.Path, canon)
		hpprof.Index(w, r2)
	}
}

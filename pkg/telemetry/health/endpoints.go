package health

import (
	"encoding/json"
	"net/http"
	"runtime"

	"golang.org/x/time/rate"
)

// VersionInfo contains build and version information.
type VersionInfo struct {
	// Version is the semantic version (e.g., "1.0.0")
	Version string `json:"version"`

	// Commit is the git commit hash
	Commit string `json:"commit"`

	// BuildTime is when the binary was built
	BuildTime string `json:"build_time"`

	// GoVersion is the Go version used to build
	GoVersion string `json:"go_version"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if r.Method != http.MethodHead {
		_ = json.NewEncoder(w).Encode(body)
	}
}

func allowRead(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// LivenessHandler returns an HTTP handler for the liveness probe endpoint.
//
// Example response:
//
//	{"status": "ok", "timestamp": "2026-03-14T10:30:00Z"}
func (c *Checker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowRead(w, r) {
			return
		}
		writeJSON(w, r, http.StatusOK, c.CheckLiveness(r.Context()))
	}
}

// ReadinessHandler returns an HTTP handler for the readiness probe endpoint.
//
// Returns:
//   - 200 OK: ready, or degraded (event storage down, counters reachable)
//   - 503 Service Unavailable: a critical component is unhealthy
//
// Example response (degraded):
//
//	{
//	    "status": "degraded",
//	    "checks": {
//	        "counter_store": {"status": "ok", "critical": true, "duration_ms": 0.4},
//	        "event_storage": {"status": "unhealthy", "critical": false, "message": "database is locked"}
//	    },
//	    "timestamp": "2026-03-14T10:30:00Z"
//	}
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowRead(w, r) {
			return
		}

		status := c.CheckReadiness(r.Context())
		code := http.StatusOK
		if !status.Ready() {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, r, code, status)
	}
}

// VersionHandler returns an HTTP handler for the version information endpoint.
func VersionHandler(version, commit, buildTime string) http.HandlerFunc {
	info := VersionInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
		GoVersion: runtime.Version(),
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if !allowRead(w, r) {
			return
		}
		writeJSON(w, r, http.StatusOK, info)
	}
}

// Paths are the endpoint paths served by Register.
type Paths struct {
	Liveness  string
	Readiness string
	Version   string
}

// Register adds the liveness, readiness and version endpoints to mux.
// Empty paths default to /health, /ready and /version.
func Register(mux *http.ServeMux, checker *Checker, paths Paths, version, commit, buildTime string) {
	if paths.Liveness == "" {
		paths.Liveness = "/health"
	}
	if paths.Readiness == "" {
		paths.Readiness = "/ready"
	}
	if paths.Version == "" {
		paths.Version = "/version"
	}

	mux.HandleFunc(paths.Liveness, checker.LivenessHandler())
	mux.Handle(paths.Readiness, RateLimitedHandler(checker.ReadinessHandler(), 10))
	mux.HandleFunc(paths.Version, VersionHandler(version, commit, buildTime))
}

// RateLimitedHandler bounds how often handler runs, since readiness checks
// touch the stores.
//
//	handler := RateLimitedHandler(checker.ReadinessHandler(), 10) // 10 req/s
func RateLimitedHandler(handler http.Handler, requestsPerSecond int) http.Handler {
	if requestsPerSecond <= 0 {
		return handler
	}

	limiter := rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		handler.ServeHTTP(w, r)
	})
}

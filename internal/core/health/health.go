package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

func Liveness() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	}
}

// Pinger reports whether the cache backend is reachable. The in-process
// store always is; the Redis store pings the server.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Readiness reports backend reachability. The service still serves tiles
// with a broken cache, so a failing backend is reported but not fatal to
// liveness.
func Readiness(p Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		type resp struct {
			Status string `json:"status"`
			Cache  string `json:"cache"`
		}
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		out := resp{Status: "ready", Cache: "ok"}
		if p != nil {
			if err := p.Ping(ctx); err != nil {
				out.Status = "degraded"
				out.Cache = err.Error()
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	}
}

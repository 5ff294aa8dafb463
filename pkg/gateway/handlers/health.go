package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/atelierhq/studio/pkg/gateway/lifecycle"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// Pinger is the store dependency of the readiness check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyHandler reports whether the gateway can serve traffic: not draining,
// and the database reachable.
type ReadyHandler struct {
	Store     Pinger
	Lifecycle *lifecycle.Lifecycle
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK       bool     `json:"ok"`
		Draining bool     `json:"draining"`
		Issues   []string `json:"issues,omitempty"`
	}

	resp := readyResp{OK: true}

	if h.Lifecycle.IsDraining() {
		resp.Draining = true
		resp.OK = false
		resp.Issues = append(resp.Issues, "gateway is draining")
	}
	if h.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.Store.Ping(ctx); err != nil {
			resp.OK = false
			resp.Issues = append(resp.Issues, "database unreachable")
		}
	}

	status := http.StatusOK
	if !resp.OK {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

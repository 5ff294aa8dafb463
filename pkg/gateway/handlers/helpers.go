// Package handlers holds the gateway's HTTP handlers. Each handler is a
// struct with explicit dependencies, expressed as small interfaces so tests
// can run against fakes.
package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/atelierhq/studio/internal/store"
	"github.com/atelierhq/studio/pkg/gateway/apierror"
	"github.com/atelierhq/studio/pkg/gateway/mw"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders any error as the canonical envelope. Store sentinels
// map to their client-facing taxonomy here so the store itself stays free of
// HTTP concerns.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	reqID, _ := mw.RequestIDFrom(r.Context())

	switch {
	case errors.Is(err, store.ErrNotFound):
		err = apierror.NotFound("not found")
	case errors.Is(err, store.ErrInvalidTransition):
		err = apierror.Conflict("invalid state transition")
	}

	apiErr, status := apierror.FromError(err, reqID)
	writeJSON(w, status, apierror.Envelope{Error: apiErr})
}

// decodeBody reads a JSON request body with the configured size cap.
func decodeBody(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apierror.InvalidRequest("invalid JSON body", "")
	}
	return nil
}

// pathID parses the {id} segment of a route.
func pathID(r *http.Request) (int64, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apierror.InvalidRequest("invalid id", "id")
	}
	return id, nil
}

func randHex(nbytes int) string {
	b := make([]byte, nbytes)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/atelierhq/studio/pkg/gateway/apierror"
	"github.com/atelierhq/studio/pkg/gateway/lifecycle"
)

type fakePinger struct {
	err error
}

func (f fakePinger) Ping(context.Context) error { return f.err }

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthHandler{}.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok\n" {
		t.Fatalf("status = %d, body = %q", rec.Code, rec.Body.String())
	}
}

func TestReady(t *testing.T) {
	h := ReadyHandler{Store: fakePinger{}, Lifecycle: &lifecycle.Lifecycle{}}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (body %q)", rec.Code, rec.Body.String())
	}
	var body struct {
		OK       bool `json:"ok"`
		Draining bool `json:"draining"`
	}
	decodeJSON(t, rec, &body)
	if !body.OK || body.Draining {
		t.Fatalf("body = %+v", body)
	}
}

func TestReadyDraining(t *testing.T) {
	lc := &lifecycle.Lifecycle{}
	lc.SetDraining(true)
	h := ReadyHandler{Store: fakePinger{}, Lifecycle: lc}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestReadyStoreDown(t *testing.T) {
	h := ReadyHandler{Store: fakePinger{err: errors.New("connection refused")}, Lifecycle: &lifecycle.Lifecycle{}}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestNotFound(t *testing.T) {
	rec := httptest.NewRecorder()
	NotFoundHandler{}.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/nope", nil))
	wantAPIError(t, rec, http.StatusNotFound, apierror.TypeNotFound)
}

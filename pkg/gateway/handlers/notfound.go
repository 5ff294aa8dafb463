package handlers

import (
	"net/http"

	"github.com/atelierhq/studio/pkg/gateway/apierror"
	"github.com/atelierhq/studio/pkg/gateway/mw"
)

type NotFoundHandler struct{}

func (h NotFoundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	writeJSON(w, http.StatusNotFound, apierror.Envelope{Error: &apierror.Error{
		Type:      apierror.TypeNotFound,
		Message:   "not found",
		RequestID: reqID,
	}})
}

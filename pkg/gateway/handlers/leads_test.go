package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"

	"github.com/atelierhq/studio/internal/store"
	"github.com/atelierhq/studio/pkg/gateway/apierror"
)

type fakeLeadStore struct {
	leads  map[int64]store.Lead
	nextID int64
}

func newFakeLeadStore() *fakeLeadStore {
	return &fakeLeadStore{leads: make(map[int64]store.Lead)}
}

func (f *fakeLeadStore) List(context.Context) ([]store.Lead, error) {
	out := make([]store.Lead, 0, len(f.leads))
	for _, l := range f.leads {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeLeadStore) Get(_ context.Context, id int64) (store.Lead, error) {
	l, ok := f.leads[id]
	if !ok {
		return store.Lead{}, store.ErrNotFound
	}
	return l, nil
}

func (f *fakeLeadStore) Create(_ context.Context, l store.Lead) (store.Lead, error) {
	f.nextID++
	l.ID = f.nextID
	if l.Stage == "" {
		l.Stage = store.StageNew
	}
	f.leads[l.ID] = l
	return l, nil
}

func (f *fakeLeadStore) Update(_ context.Context, id int64, name, email, company, notes string) (store.Lead, error) {
	l, ok := f.leads[id]
	if !ok {
		return store.Lead{}, store.ErrNotFound
	}
	l.Name, l.Email, l.Company, l.Notes = name, email, company, notes
	f.leads[id] = l
	return l, nil
}

func (f *fakeLeadStore) Delete(_ context.Context, id int64) error {
	if _, ok := f.leads[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.leads, id)
	return nil
}

func (f *fakeLeadStore) Move(_ context.Context, id int64, toStage string, toPos int) (store.Lead, error) {
	l, ok := f.leads[id]
	if !ok {
		return store.Lead{}, store.ErrNotFound
	}
	l.Stage = toStage
	l.Position = toPos
	f.leads[id] = l
	return l, nil
}

func TestLeadsCreate(t *testing.T) {
	fs := newFakeLeadStore()
	h := LeadsHandler{Store: fs}

	rec := httptest.NewRecorder()
	h.Create(rec, jsonRequest(t, http.MethodPost, "/v1/admin/leads", map[string]any{
		"name":    "  Ada Lovelace ",
		"email":   "ada@example.com",
		"company": "Analytical Engines",
	}))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d (body %q)", rec.Code, rec.Body.String())
	}
	var lead store.Lead
	decodeJSON(t, rec, &lead)
	if lead.ID == 0 || lead.Name != "Ada Lovelace" || lead.Stage != store.StageNew {
		t.Fatalf("lead = %+v", lead)
	}
}

func TestLeadsCreateValidation(t *testing.T) {
	h := LeadsHandler{Store: newFakeLeadStore()}

	cases := []struct {
		name string
		body map[string]any
	}{
		{"missing name", map[string]any{"email": "x@example.com"}},
		{"unknown stage", map[string]any{"name": "X", "stage": "backlog"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.Create(rec, jsonRequest(t, http.MethodPost, "/v1/admin/leads", tc.body))
			wantAPIError(t, rec, http.StatusBadRequest, apierror.TypeInvalidRequest)
		})
	}
}

func TestLeadsListIncludesStages(t *testing.T) {
	fs := newFakeLeadStore()
	_, _ = fs.Create(context.Background(), store.Lead{Name: "A"})
	_, _ = fs.Create(context.Background(), store.Lead{Name: "B", Stage: store.StageWon})
	h := LeadsHandler{Store: fs}

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/v1/admin/leads", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var body struct {
		Stages []string     `json:"stages"`
		Leads  []store.Lead `json:"leads"`
	}
	decodeJSON(t, rec, &body)
	if len(body.Stages) != 5 || body.Stages[0] != store.StageNew {
		t.Fatalf("stages = %v", body.Stages)
	}
	if len(body.Leads) != 2 {
		t.Fatalf("leads = %+v", body.Leads)
	}
}

func TestLeadsMove(t *testing.T) {
	fs := newFakeLeadStore()
	lead, _ := fs.Create(context.Background(), store.Lead{Name: "A"})
	h := LeadsHandler{Store: fs}

	req := jsonRequest(t, http.MethodPost, "/v1/admin/leads/1/move", map[string]any{
		"stage":    store.StageProposal,
		"position": 2,
	})
	req.SetPathValue("id", "1")
	rec := httptest.NewRecorder()
	h.Move(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (body %q)", rec.Code, rec.Body.String())
	}
	var moved store.Lead
	decodeJSON(t, rec, &moved)
	if moved.ID != lead.ID || moved.Stage != store.StageProposal || moved.Position != 2 {
		t.Fatalf("moved = %+v", moved)
	}
}

func TestLeadsMoveUnknownStage(t *testing.T) {
	h := LeadsHandler{Store: newFakeLeadStore()}
	req := jsonRequest(t, http.MethodPost, "/v1/admin/leads/1/move", map[string]any{
		"stage": "nope", "position": 0,
	})
	req.SetPathValue("id", "1")
	rec := httptest.NewRecorder()
	h.Move(rec, req)
	wantAPIError(t, rec, http.StatusBadRequest, apierror.TypeInvalidRequest)
}

func TestLeadsMoveMissing(t *testing.T) {
	h := LeadsHandler{Store: newFakeLeadStore()}
	req := jsonRequest(t, http.MethodPost, "/v1/admin/leads/99/move", map[string]any{
		"stage": store.StageWon, "position": 0,
	})
	req.SetPathValue("id", "99")
	rec := httptest.NewRecorder()
	h.Move(rec, req)
	wantAPIError(t, rec, http.StatusNotFound, apierror.TypeNotFound)
}

func TestLeadsDelete(t *testing.T) {
	fs := newFakeLeadStore()
	_, _ = fs.Create(context.Background(), store.Lead{Name: "A"})
	h := LeadsHandler{Store: fs}

	req := httptest.NewRequest(http.MethodDelete, "/v1/admin/leads/1", nil)
	req.SetPathValue("id", "1")
	rec := httptest.NewRecorder()
	h.Delete(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodDelete, "/v1/admin/leads/1", nil)
	req.SetPathValue("id", "1")
	rec = httptest.NewRecorder()
	h.Delete(rec, req)
	wantAPIError(t, rec, http.StatusNotFound, apierror.TypeNotFound)
}

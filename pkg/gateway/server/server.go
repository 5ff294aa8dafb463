// Package server assembles the gateway's HTTP surface: public routes, the
// admin API behind auth, and the middleware chain around everything.
package server

import (
	"log/slog"
	"net/http"

	"github.com/atelierhq/studio/internal/billing"
	"github.com/atelierhq/studio/internal/metrics"
	"github.com/atelierhq/studio/internal/siteconfig"
	"github.com/atelierhq/studio/pkg/gateway/config"
	"github.com/atelierhq/studio/pkg/gateway/handlers"
	"github.com/atelierhq/studio/pkg/gateway/lifecycle"
	"github.com/atelierhq/studio/pkg/gateway/live/sessions"
	"github.com/atelierhq/studio/pkg/gateway/mw"
	"github.com/atelierhq/studio/pkg/gateway/upstream"
)

// Dependencies carries everything the route table needs. The stores are the
// handler-level interfaces so tests can swap in fakes.
type Dependencies struct {
	Config config.Config
	Logger *slog.Logger

	Leads       handlers.LeadStore
	Invoices    handlers.InvoiceStore
	CaseStudies handlers.CaseStudyStore
	Inquiries   handlers.InquiryStore
	Pinger      handlers.Pinger

	SiteConfig          *siteconfig.Store
	SiteConfigPersister handlers.SiteConfigPersister
	SiteConfigPublisher handlers.SiteConfigPublisher

	Streamer upstream.TextStreamer
	Dialer   upstream.LiveDialer
	Issuer   billing.Issuer

	Tokens    *mw.TokenStore
	Lifecycle *lifecycle.Lifecycle
	Sessions  *sessions.Tracker
	Metrics   *metrics.Metrics
}

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux
}

func New(deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	s := &Server{
		cfg:    deps.Config,
		logger: deps.Logger,
		mux:    http.NewServeMux(),
	}
	s.routes(deps)
	return s
}

func (s *Server) routes(deps Dependencies) {
	s.mux.Handle("GET /healthz", handlers.HealthHandler{})
	s.mux.Handle("GET /readyz", handlers.ReadyHandler{Store: deps.Pinger, Lifecycle: deps.Lifecycle})
	if deps.Metrics != nil {
		s.mux.Handle("GET /metrics", deps.Metrics.Handler())
	}

	s.mux.Handle("POST /v1/chat", handlers.ChatHandler{
		Config:   deps.Config,
		Streamer: deps.Streamer,
		Logger:   deps.Logger,
		Metrics:  deps.Metrics,
	})
	s.mux.Handle("GET /v1/live", handlers.LiveHandler{
		Config:    deps.Config,
		Dialer:    deps.Dialer,
		Logger:    deps.Logger,
		Lifecycle: deps.Lifecycle,
		Sessions:  deps.Sessions,
		Metrics:   deps.Metrics,
	})

	caseStudies := handlers.CaseStudiesHandler{Store: deps.CaseStudies, Logger: deps.Logger}
	inquiries := handlers.InquiriesHandler{Store: deps.Inquiries, Logger: deps.Logger, Metrics: deps.Metrics}
	siteCfg := handlers.SiteConfigHandler{
		Store:     deps.SiteConfig,
		Persister: deps.SiteConfigPersister,
		Publisher: deps.SiteConfigPublisher,
		Logger:    deps.Logger,
	}

	s.mux.HandleFunc("GET /v1/site-config", siteCfg.Get)
	s.mux.HandleFunc("GET /v1/case-studies", caseStudies.PublicList)
	s.mux.HandleFunc("GET /v1/case-studies/{slug}", caseStudies.PublicGet)
	s.mux.HandleFunc("POST /v1/inquiries", inquiries.Create)

	login := handlers.AdminLoginHandler{Config: deps.Config, Tokens: deps.Tokens, Logger: deps.Logger}
	s.mux.HandleFunc("POST /v1/admin/login", login.Login)
	s.mux.Handle("/v1/admin/", mw.AdminAuth(deps.Config, deps.Tokens, s.adminMux(deps, caseStudies, inquiries, siteCfg, login)))

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

// adminMux is its own ServeMux so the whole subtree sits behind one
// AdminAuth wrapper.
func (s *Server) adminMux(deps Dependencies, caseStudies handlers.CaseStudiesHandler,
	inquiries handlers.InquiriesHandler, siteCfg handlers.SiteConfigHandler, login handlers.AdminLoginHandler) *http.ServeMux {

	leads := handlers.LeadsHandler{Store: deps.Leads, Logger: deps.Logger}
	invoices := handlers.InvoicesHandler{Store: deps.Invoices, Issuer: deps.Issuer, Logger: deps.Logger, Metrics: deps.Metrics}

	admin := http.NewServeMux()
	admin.HandleFunc("POST /v1/admin/logout", login.Logout)

	admin.HandleFunc("GET /v1/admin/leads", leads.List)
	admin.HandleFunc("POST /v1/admin/leads", leads.Create)
	admin.HandleFunc("GET /v1/admin/leads/{id}", leads.Get)
	admin.HandleFunc("PUT /v1/admin/leads/{id}", leads.Update)
	admin.HandleFunc("DELETE /v1/admin/leads/{id}", leads.Delete)
	admin.HandleFunc("POST /v1/admin/leads/{id}/move", leads.Move)

	admin.HandleFunc("GET /v1/admin/invoices", invoices.List)
	admin.HandleFunc("POST /v1/admin/invoices", invoices.Create)
	admin.HandleFunc("GET /v1/admin/invoices/{id}", invoices.Get)
	admin.HandleFunc("POST /v1/admin/invoices/{id}/send", invoices.Send)
	admin.HandleFunc("POST /v1/admin/invoices/{id}/pay", invoices.MarkPaid)
	admin.HandleFunc("POST /v1/admin/invoices/{id}/void", invoices.Void)

	admin.HandleFunc("GET /v1/admin/case-studies", caseStudies.AdminList)
	admin.HandleFunc("POST /v1/admin/case-studies", caseStudies.Create)
	admin.HandleFunc("PUT /v1/admin/case-studies/{id}", caseStudies.Update)
	admin.HandleFunc("POST /v1/admin/case-studies/{id}/publish", caseStudies.SetPublished)
	admin.HandleFunc("DELETE /v1/admin/case-studies/{id}", caseStudies.Delete)

	admin.HandleFunc("GET /v1/admin/inquiries", inquiries.List)
	admin.HandleFunc("POST /v1/admin/inquiries/{id}/promote", inquiries.Promote)
	admin.HandleFunc("POST /v1/admin/inquiries/{id}/archive", inquiries.Archive)

	admin.HandleFunc("PATCH /v1/admin/site-config", siteCfg.Patch)

	admin.Handle("/", handlers.NotFoundHandler{})
	return admin
}

// Handler returns the mux wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

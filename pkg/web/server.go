package web

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/realleaders/portal/pkg/async"
	"github.com/realleaders/portal/pkg/audit"
	"github.com/realleaders/portal/pkg/clock"
	"github.com/realleaders/portal/pkg/contextkeys"
	"github.com/realleaders/portal/pkg/httputil"
	"github.com/realleaders/portal/pkg/kvstore"
	"github.com/realleaders/portal/pkg/middleware"
	"github.com/realleaders/portal/pkg/observability"
	"github.com/realleaders/portal/pkg/session"
	"github.com/realleaders/portal/pkg/sso"
	"github.com/realleaders/portal/pkg/wizard"
)

// Config holds the web shell settings
type Config struct {
	AppBaseURL      string
	LoginPath       string
	DefaultRoute    string
	RefreshInterval time.Duration
	ReloadDelay     time.Duration
	LogoutTimeout   time.Duration
	WizardSteps     int
	MaxTabs         int
	TabTTL          time.Duration
	SecureCookies   bool
}

// Deps are the shared collaborators of every tab
type Deps struct {
	// Client stores browser-wide keys, namespaced per rl_client
	Client   kvstore.Backend
	// Session stores tab keys, namespaced per rl_session
	Session  kvstore.Backend
	Identity session.IdentityClient
	Routes   *sso.Routes
	Clock    clock.Clock
	Logger   *observability.Logger
	Metrics  *observability.Metrics

	// LoginLimiter throttles sign-in attempts per client address; nil disables it
	LoginLimiter middleware.Limiter
	// Audit receives sign-in, sign-out and onboarding events; nil discards them
	Audit audit.Logger
}

// Server is the portal HTTP server
type Server struct {
	cfg      Config
	deps     Deps
	router   *mux.Router
	handler  http.Handler
	registry *Registry
	runner   *async.Runner
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewServer creates the server and its routes
func NewServer(deps Deps, cfg Config) *Server {
	if deps.Logger == nil {
		deps.Logger = observability.NewNopLogger()
	}
	if deps.Metrics == nil {
		deps.Metrics = observability.NewNopMetrics()
	}
	if deps.Audit == nil {
		deps.Audit = audit.NewNopLogger()
	}
	if cfg.LoginPath == "" {
		cfg.LoginPath = "/login"
	}
	if cfg.DefaultRoute == "" {
		cfg.DefaultRoute = "/dashboard"
	}
	if cfg.MaxTabs <= 0 {
		cfg.MaxTabs = 5000
	}
	if cfg.TabTTL <= 0 {
		cfg.TabTTL = 24 * time.Hour
	}

	s := &Server{
		cfg:     cfg,
		deps:    deps,
		router:  mux.NewRouter(),
		runner:  async.NewRunner(deps.Logger),
		logger:  deps.Logger.WithField("component", "web"),
		metrics: deps.Metrics,
	}
	s.registry = NewRegistry(cfg.MaxTabs, cfg.TabTTL, s.newManager, deps.Metrics)
	s.setupRoutes()
	s.handler = httputil.Chain(
		httputil.RecoveryMiddleware,
		httputil.RequestContextMiddleware(deps.Logger),
		httputil.LoggingMiddleware,
	)(s.router)
	return s
}

func (s *Server) newManager(clientID, tabID string) *session.Manager {
	return session.NewManager(session.Deps{
		TabID:    tabID,
		Client:   s.clientStore(clientID, tabID),
		Session:  s.tabStore(tabID),
		Identity: s.deps.Identity,
		Routes:   s.deps.Routes,
		Clock:    s.deps.Clock,
		Runner:   s.runner,
		Logger:   s.deps.Logger.WithField("client_id", clientID),
		Metrics:  s.deps.Metrics,
	}, session.Config{
		AppBaseURL:      s.cfg.AppBaseURL,
		LoginPath:       s.cfg.LoginPath,
		DefaultRoute:    s.cfg.DefaultRoute,
		RefreshInterval: s.cfg.RefreshInterval,
		ReloadDelay:     s.cfg.ReloadDelay,
		LogoutTimeout:   s.cfg.LogoutTimeout,
	})
}

func (s *Server) clientStore(clientID, tabID string) *kvstore.Store {
	return kvstore.NewStore(s.deps.Client, "client:"+clientID+":", tabID)
}

func (s *Server) tabStore(tabID string) *kvstore.Store {
	return kvstore.NewStore(s.deps.Session, "tab:"+tabID+":", tabID)
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Use(observability.HTTPMetricsMiddleware(s.metrics), s.identify)

	// Auth routes
	s.router.HandleFunc("/login", s.loginPage).Methods("GET")
	login := http.Handler(http.HandlerFunc(s.login))
	if s.deps.LoginLimiter != nil {
		login = middleware.NewRateLimitMiddleware(s.deps.LoginLimiter, middleware.KeyByClientIP("login"), s.deps.Logger).Handler(login)
	}
	s.router.Handle("/login", login).Methods("POST")
	s.router.HandleFunc("/logout", s.logout).Methods("GET", "POST")
	s.router.HandleFunc("/reset-password", s.resetPassword).Methods("GET")

	// Session and wizard API
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/session", s.getSession).Methods("GET")
	api.HandleFunc("/wizard/step", s.getWizardStep).Methods("GET")
	api.HandleFunc("/wizard/step", s.setWizardStep).Methods("PUT")
	api.HandleFunc("/wizard/next", s.wizardNext).Methods("POST")
	api.HandleFunc("/wizard/back", s.wizardBack).Methods("POST")
	api.HandleFunc("/wizard/reset", s.wizardReset).Methods("POST")
	api.HandleFunc("/wizard/complete", s.wizardComplete).Methods("POST")
	api.HandleFunc("/tours/{name}", s.getTour).Methods("GET")
	api.HandleFunc("/tours/{name}/complete", s.completeTour).Methods("POST")
	api.PathPrefix("/").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorMessage(w, http.StatusNotFound, "not found")
	})

	// Every other path is an app page
	s.router.PathPrefix("/").HandlerFunc(s.page).Methods("GET")
}

// Handler returns the router wrapped in the request middleware
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Registry returns the tab registry
func (s *Server) Registry() *Registry {
	return s.registry
}

// Close closes every tab and waits for background work
func (s *Server) Close() {
	s.registry.Close()
	if err := s.runner.Wait(context.Background()); err != nil {
		s.logger.WithError(err).Warn("Background tasks did not finish")
	}
}

// tab is the per-request view of the caller's tab
type tab struct {
	clientID string
	tabID    string
	manager  *session.Manager
	wizard   *wizard.Wizard
	flash    flash
}

func (s *Server) tab(r *http.Request) *tab {
	clientID := contextkeys.ClientID(r.Context())
	tabID := contextkeys.TabID(r.Context())
	kv := s.tabStore(tabID)
	return &tab{
		clientID: clientID,
		tabID:    tabID,
		manager:  s.registry.Get(clientID, tabID),
		wizard:   wizard.New(kv, s.cfg.WizardSteps, observability.FromContext(r.Context())),
		flash:    flash{kv: kv},
	}
}

package web

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/realleaders/portal/pkg/audit"
	"github.com/realleaders/portal/pkg/httputil"
	"github.com/realleaders/portal/pkg/identity"
	"github.com/realleaders/portal/pkg/observability"
	"github.com/realleaders/portal/pkg/session"
	"github.com/realleaders/portal/pkg/sso"
	"github.com/realleaders/portal/pkg/wizard"
)

// ReloadAfterHeader carries the reload delay of a Reload outcome in milliseconds
const ReloadAfterHeader = "X-Reload-After"

// pageView is the JSON view model of a rendered page
type pageView struct {
	Path              string         `json:"path"`
	Verdict           string         `json:"verdict"`
	User              *identity.User `json:"user,omitempty"`
	ProfileCompletion *int           `json:"profile_completion,omitempty"`
	Stale             bool           `json:"stale,omitempty"`
	Next              string         `json:"next,omitempty"`
	Reset             *resetView     `json:"reset,omitempty"`
	Notices           []Notice       `json:"notices,omitempty"`
}

type resetView struct {
	Key   string `json:"key"`
	Login string `json:"login"`
}

type sessionResponse struct {
	Authenticated bool           `json:"authenticated"`
	User          *identity.User `json:"user,omitempty"`
	Stale         bool           `json:"stale,omitempty"`
}

type stepResponse struct {
	Step  int `json:"step"`
	Steps int `json:"steps"`
}

type tourResponse struct {
	Tour      string `json:"tour"`
	Completed bool   `json:"completed"`
	Synced    bool   `json:"synced"`
}

// page handles a load of any app route
func (s *Server) page(w http.ResponseWriter, r *http.Request) {
	t := s.tab(r)
	res, err := s.load(r, t)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if !res.Outcome.IsNoOp() {
		s.execute(w, r, t, res.Outcome)
		return
	}
	s.render(w, r, t, pageView{
		Path:              r.URL.Path,
		Verdict:           res.View.Verdict.String(),
		User:              res.View.User,
		ProfileCompletion: res.View.ProfileCompletion,
		Stale:             res.View.Stale,
	})
}

func (s *Server) loginPage(w http.ResponseWriter, r *http.Request) {
	t := s.tab(r)
	res, err := s.load(r, t)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if !res.Outcome.IsNoOp() {
		s.execute(w, r, t, res.Outcome)
		return
	}

	next := safeNext(r.URL.Query().Get("next"), s.cfg.DefaultRoute)
	if res.View.Verdict == session.VerdictAuthenticated {
		http.Redirect(w, r, next, http.StatusFound)
		return
	}
	s.render(w, r, t, pageView{
		Path:    r.URL.Path,
		Verdict: res.View.Verdict.String(),
		Next:    next,
	})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	t := s.tab(r)
	form, err := httputil.ParseForm(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	username := strings.TrimSpace(form["username"])
	password := form["password"]
	next := safeNext(form["next"], s.cfg.DefaultRoute)
	back := s.cfg.LoginPath + "?" + url.Values{"next": {next}}.Encode()

	if username == "" || password == "" {
		s.execute(w, r, t, sso.Error("username and password are required", back))
		return
	}

	out, err := s.signIn(r, t, username, password, next)

	ev := audit.NewEvent(r, audit.EventTypeLogin, audit.EventStatusSuccess)
	ev.Username = username
	if err != nil {
		ev.EventType = audit.EventTypeLoginFailed
		ev.Status = audit.EventStatusFailure
		ev.WithError(err)
	}
	s.recordAudit(r, ev)

	switch {
	case err == nil:
		s.execute(w, r, t, out)
	case errors.Is(err, identity.ErrInvalidCredentials):
		s.execute(w, r, t, sso.Error("invalid username or password", back))
	default:
		observability.FromContext(r.Context()).WithError(err).Error("Login failed")
		s.execute(w, r, t, sso.Error("sign in is temporarily unavailable, please try again", back))
	}
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	t := s.tab(r)
	ev := audit.NewEvent(r, audit.EventTypeLogout, audit.EventStatusSuccess)
	if user, _ := t.manager.User(); user != nil {
		ev.UserID = &user.ID
		ev.Username = user.Username
	}
	out := t.manager.Logout(r.Context())
	s.recordAudit(r, ev)
	s.execute(w, r, t, out)
}

func (s *Server) resetPassword(w http.ResponseWriter, r *http.Request) {
	t := s.tab(r)
	link, out := t.manager.Bridge().ResetPasswordLink(r.URL.Query())
	if !out.IsNoOp() {
		s.execute(w, r, t, out)
		return
	}
	s.render(w, r, t, pageView{
		Path:    r.URL.Path,
		Verdict: session.VerdictPublic.String(),
		Reset:   &resetView{Key: link.Key, Login: link.Login},
	})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	m := s.tab(r).manager
	if !m.Authenticated(r.Context()) {
		httputil.WriteSuccess(w, sessionResponse{})
		return
	}
	user, stale := m.User()
	httputil.WriteSuccess(w, sessionResponse{Authenticated: true, User: user, Stale: stale})
}

func (s *Server) getWizardStep(w http.ResponseWriter, r *http.Request) {
	t := s.tab(r)
	step, err := t.wizard.Step(r.Context())
	s.writeStep(w, t.wizard, step, err)
}

func (s *Server) setWizardStep(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Step int `json:"step"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	t := s.tab(r)
	step, err := t.wizard.SetStep(r.Context(), req.Step)
	s.writeStep(w, t.wizard, step, err)
}

func (s *Server) wizardNext(w http.ResponseWriter, r *http.Request) {
	t := s.tab(r)
	step, err := t.wizard.Next(r.Context())
	s.writeStep(w, t.wizard, step, err)
}

func (s *Server) wizardBack(w http.ResponseWriter, r *http.Request) {
	t := s.tab(r)
	step, err := t.wizard.Back(r.Context())
	s.writeStep(w, t.wizard, step, err)
}

func (s *Server) wizardReset(w http.ResponseWriter, r *http.Request) {
	t := s.tab(r)
	err := t.wizard.Reset(r.Context())
	s.writeStep(w, t.wizard, 1, err)
}

// wizardComplete marks onboarding done on the backend and rewinds the wizard
func (s *Server) wizardComplete(w http.ResponseWriter, r *http.Request) {
	t := s.tab(r)
	done := true
	if err := t.manager.UpdateOnboarding(r.Context(), identity.OnboardingUpdate{OnboardingCompleted: &done}); err != nil {
		s.writeRemoteError(w, r, err)
		return
	}
	if err := t.wizard.Reset(r.Context()); err != nil {
		observability.FromContext(r.Context()).WithError(err).Warn("Failed to reset wizard after completion")
	}
	ev := audit.NewEvent(r, audit.EventTypeOnboarding, audit.EventStatusSuccess)
	if user, _ := t.manager.User(); user != nil {
		ev.UserID = &user.ID
		ev.Username = user.Username
	}
	s.recordAudit(r, ev)
	httputil.WriteSuccess(w, map[string]bool{"onboarding_completed": true})
}

func (s *Server) getTour(w http.ResponseWriter, r *http.Request) {
	t := s.tab(r)
	name := mux.Vars(r)["name"]
	done, err := t.wizard.TourCompleted(r.Context(), name)
	if err != nil {
		s.writeWizardError(w, err)
		return
	}
	httputil.WriteSuccess(w, tourResponse{Tour: name, Completed: done})
}

// completeTour records the tour locally and, for a signed-in user, on the backend
func (s *Server) completeTour(w http.ResponseWriter, r *http.Request) {
	t := s.tab(r)
	name := mux.Vars(r)["name"]
	if err := t.wizard.CompleteTour(r.Context(), name); err != nil {
		s.writeWizardError(w, err)
		return
	}

	synced := false
	err := t.manager.UpdateOnboarding(r.Context(), identity.OnboardingUpdate{
		ToursCompleted: map[string]bool{name: true},
	})
	switch {
	case err == nil:
		synced = true
	case errors.Is(err, session.ErrNotAuthenticated):
	default:
		observability.FromContext(r.Context()).WithError(err).WithField("tour", name).Warn("Failed to sync tour completion")
	}
	httputil.WriteSuccess(w, tourResponse{Tour: name, Completed: true, Synced: synced})
}

// load runs a page load, replacing a manager that was evicted mid-request
func (s *Server) load(r *http.Request, t *tab) (session.Result, error) {
	res, err := t.manager.Load(r.Context(), r.URL)
	if errors.Is(err, session.ErrClosed) {
		t.manager = s.registry.Get(t.clientID, t.tabID)
		res, err = t.manager.Load(r.Context(), r.URL)
	}
	if err == nil && res.State == sso.StateTokenReceived {
		ev := audit.NewEvent(r, audit.EventTypeSSOTokenReceived, audit.EventStatusSuccess)
		ev.Message = "sso token received from the marketing site"
		s.recordAudit(r, ev)
	}
	return res, err
}

// signIn logs in on the tab's manager, with the same eviction retry as load
func (s *Server) signIn(r *http.Request, t *tab, username, password, next string) (sso.Outcome, error) {
	out, err := t.manager.Login(r.Context(), username, password, next)
	if errors.Is(err, session.ErrClosed) {
		t.manager = s.registry.Get(t.clientID, t.tabID)
		out, err = t.manager.Login(r.Context(), username, password, next)
	}
	return out, err
}

func (s *Server) recordAudit(r *http.Request, ev *audit.Event) {
	if err := s.deps.Audit.Log(r.Context(), ev); err != nil {
		observability.FromContext(r.Context()).WithError(err).Warn("Failed to write audit event")
	}
}

// execute carries out a non-empty outcome as an HTTP redirect
func (s *Server) execute(w http.ResponseWriter, r *http.Request, t *tab, out sso.Outcome) {
	switch out.Kind {
	case sso.OutcomeReload:
		w.Header().Set(ReloadAfterHeader, strconv.FormatInt(out.Delay.Milliseconds(), 10))
		http.Redirect(w, r, out.URL, http.StatusSeeOther)
	case sso.OutcomeReplaceURL:
		http.Redirect(w, r, out.URL, http.StatusSeeOther)
	case sso.OutcomeRedirect:
		http.Redirect(w, r, out.URL, http.StatusFound)
	case sso.OutcomeError:
		if err := t.flash.add(r.Context(), Notice{Level: NoticeError, Message: out.Reason}); err != nil {
			observability.FromContext(r.Context()).WithError(err).Warn("Failed to queue notice")
		}
		http.Redirect(w, r, out.URL, http.StatusFound)
	default:
		httputil.WriteNoContent(w)
	}
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, t *tab, view pageView) {
	notices, err := t.flash.take(r.Context())
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Warn("Failed to read notices")
	}
	view.Notices = notices
	httputil.WriteSuccess(w, view)
}

func (s *Server) writeStep(w http.ResponseWriter, wz *wizard.Wizard, step int, err error) {
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, stepResponse{Step: step, Steps: wz.Steps()})
}

func (s *Server) writeWizardError(w http.ResponseWriter, err error) {
	if errors.Is(err, wizard.ErrInvalidTour) {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	httputil.WriteInternalError(w, err)
}

func (s *Server) writeRemoteError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, session.ErrNotAuthenticated), errors.Is(err, identity.ErrUnauthorized):
		httputil.WriteUnauthorized(w, "not authenticated")
	default:
		observability.FromContext(r.Context()).WithError(err).Error("Backend call failed")
		httputil.WriteBadGateway(w, "backend unavailable")
	}
}

// safeNext returns next when it is a local path, otherwise fallback
func safeNext(next, fallback string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.Contains(next, "\\") {
		return fallback
	}
	return next
}

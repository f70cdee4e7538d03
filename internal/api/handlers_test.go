package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talonhq/linkpilot/internal/browser/browsertest"
	"github.com/talonhq/linkpilot/internal/ratelimit"
	"github.com/talonhq/linkpilot/internal/session"
	"github.com/talonhq/linkpilot/internal/storage"
	"github.com/talonhq/linkpilot/internal/transport"
	"github.com/talonhq/linkpilot/pkg/models"
)

type apiRig struct {
	launcher *browsertest.FakeLauncher
	registry *session.Registry
	srv      *httptest.Server
}

func newAPIRig(t *testing.T, launcher *browsertest.FakeLauncher) *apiRig {
	t.Helper()
	registry := session.NewRegistry(session.Config{
		LoginURL:            "https://www.linkedin.com/login",
		NavigationTimeout:   5 * time.Second,
		IdleTimeout:         time.Hour,
		ActionTimeout:       30 * time.Second,
		ManualActionTimeout: 5 * time.Minute,
		MaxSessions:         25,
	}, launcher, &storage.LogStore{}, slog.Default())

	handler := NewHandler(registry, slog.Default())
	hub := transport.NewHub(registry, slog.Default())
	router := handler.SetupRoutes(hub, ratelimit.NewLimiter(600, 100))
	srv := httptest.NewServer(router)

	t.Cleanup(func() {
		srv.Close()
		registry.CloseAll()
	})
	return &apiRig{launcher: launcher, registry: registry, srv: srv}
}

func (r *apiRig) do(t *testing.T, method, path string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, r.srv.URL+path, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestStartSession(t *testing.T) {
	rig := newAPIRig(t, &browsertest.FakeLauncher{})

	resp := rig.do(t, "POST", "/v1/sessions", models.StartSessionRequest{UserID: "u1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var info models.SessionInfo
	decode(t, resp, &info)
	assert.Equal(t, "u1", info.UserID)
	assert.NotEmpty(t, info.SessionID)
	assert.False(t, info.LoggedIn)

	// Resuming returns the same session without another launch.
	resp = rig.do(t, "POST", "/v1/sessions", models.StartSessionRequest{UserID: "u1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var again models.SessionInfo
	decode(t, resp, &again)
	assert.Equal(t, info.SessionID, again.SessionID)
	assert.EqualValues(t, 1, rig.launcher.Launches())
}

func TestStartSessionOutlivesItsRequest(t *testing.T) {
	rig := newAPIRig(t, &browsertest.FakeLauncher{})

	resp := rig.do(t, "POST", "/v1/sessions", models.StartSessionRequest{UserID: "u1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// The request context is cancelled once the 201 is written; the
	// session must still be there afterwards.
	sess, err := rig.registry.Get("u1")
	require.NoError(t, err)
	assert.Never(t, sess.Closed, 300*time.Millisecond, 20*time.Millisecond)

	resp = rig.do(t, "GET", "/v1/sessions/u1", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStartSessionRequiresUserID(t *testing.T) {
	rig := newAPIRig(t, &browsertest.FakeLauncher{})
	resp := rig.do(t, "POST", "/v1/sessions", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetSessionNotFound(t *testing.T) {
	rig := newAPIRig(t, &browsertest.FakeLauncher{})
	resp := rig.do(t, "GET", "/v1/sessions/nobody", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListSessions(t *testing.T) {
	rig := newAPIRig(t, &browsertest.FakeLauncher{})

	resp := rig.do(t, "GET", "/v1/sessions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var empty []models.SessionInfo
	decode(t, resp, &empty)
	assert.Empty(t, empty)

	rig.do(t, "POST", "/v1/sessions", models.StartSessionRequest{UserID: "u1"})
	rig.do(t, "POST", "/v1/sessions", models.StartSessionRequest{UserID: "u2"})

	resp = rig.do(t, "GET", "/v1/sessions", nil)
	var infos []models.SessionInfo
	decode(t, resp, &infos)
	assert.Len(t, infos, 2)
}

func TestListSessionsLeavesIdleClockAlone(t *testing.T) {
	rig := newAPIRig(t, &browsertest.FakeLauncher{})
	rig.do(t, "POST", "/v1/sessions", models.StartSessionRequest{UserID: "u1"})

	sess, err := rig.registry.Get("u1")
	require.NoError(t, err)
	before := sess.LastActivity()

	time.Sleep(20 * time.Millisecond)
	resp := rig.do(t, "GET", "/v1/sessions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, before, sess.LastActivity(),
		"a polling dashboard must not postpone the idle sweep")
}

func TestDeleteSession(t *testing.T) {
	rig := newAPIRig(t, &browsertest.FakeLauncher{})
	rig.do(t, "POST", "/v1/sessions", models.StartSessionRequest{UserID: "u1"})

	resp := rig.do(t, "DELETE", "/v1/sessions/u1", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = rig.do(t, "GET", "/v1/sessions/u1", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Deleting again is still a success.
	resp = rig.do(t, "DELETE", "/v1/sessions/u1", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestRelayAction(t *testing.T) {
	rig := newAPIRig(t, &browsertest.FakeLauncher{})
	rig.do(t, "POST", "/v1/sessions", models.StartSessionRequest{UserID: "u1"})

	resp := rig.do(t, "POST", "/v1/sessions/u1/actions", map[string]string{
		"type": "input", "selector": "#username", "value": "me",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result models.ActionResult
	decode(t, resp, &result)
	assert.True(t, result.OK)
	assert.False(t, result.CaptchaDetected)

	assert.Contains(t, rig.launcher.Browsers()[0].Page().Ops(), "input:#username=me")
}

func TestRelayActionWithoutSession(t *testing.T) {
	rig := newAPIRig(t, &browsertest.FakeLauncher{})
	resp := rig.do(t, "POST", "/v1/sessions/u1/actions", map[string]string{"type": "refresh"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRelayActionUnknownType(t *testing.T) {
	rig := newAPIRig(t, &browsertest.FakeLauncher{})
	rig.do(t, "POST", "/v1/sessions", models.StartSessionRequest{UserID: "u1"})

	resp := rig.do(t, "POST", "/v1/sessions/u1/actions", map[string]string{"type": "teleport"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var result models.ActionResult
	decode(t, resp, &result)
	assert.False(t, result.OK)
	assert.Contains(t, result.Error, "teleport")
}

func TestRelayActionReportsCaptcha(t *testing.T) {
	rig := newAPIRig(t, &browsertest.FakeLauncher{
		NewPage: func() *browsertest.FakePage {
			p := browsertest.NewFakePage()
			p.TextContent = "Security verification required"
			p.HTMLContent = "<html><body>Security verification required</body></html>"
			return p
		},
	})
	rig.do(t, "POST", "/v1/sessions", models.StartSessionRequest{UserID: "u1"})

	resp := rig.do(t, "POST", "/v1/sessions/u1/actions", map[string]string{"type": "refresh"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result models.ActionResult
	decode(t, resp, &result)
	assert.True(t, result.OK)
	assert.True(t, result.CaptchaDetected)
	assert.Contains(t, result.CaptchaHTML, "verification")
}

func TestGetPageHTML(t *testing.T) {
	rig := newAPIRig(t, &browsertest.FakeLauncher{})
	rig.do(t, "POST", "/v1/sessions", models.StartSessionRequest{UserID: "u1"})

	resp := rig.do(t, "GET", "/v1/sessions/u1/html", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body models.PageHTMLResponse
	decode(t, resp, &body)
	assert.Equal(t, "u1", body.UserID)
	assert.Contains(t, body.HTML, "<html>")
}

func TestEnableManualModeEndpoint(t *testing.T) {
	rig := newAPIRig(t, &browsertest.FakeLauncher{})
	rig.do(t, "POST", "/v1/sessions", models.StartSessionRequest{UserID: "u1"})

	resp := rig.do(t, "POST", "/v1/sessions/u1/manual-mode", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var info models.SessionInfo
	decode(t, resp, &info)
	assert.True(t, info.ManualMode)
}

func TestPollEventsSeesLogin(t *testing.T) {
	rig := newAPIRig(t, &browsertest.FakeLauncher{
		NewPage: func() *browsertest.FakePage {
			p := browsertest.NewFakePage()
			p.CookieJar["li_at"] = "tok"
			return p
		},
	})
	rig.do(t, "POST", "/v1/sessions", models.StartSessionRequest{UserID: "u1"})

	rig.launcher.Browsers()[0].Page().FireNavigation("https://www.linkedin.com/feed/")

	resp := rig.do(t, "GET", "/v1/events?timeout=2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var events []models.SessionEvent
	decode(t, resp, &events)
	require.NotEmpty(t, events)
	assert.Equal(t, "login-succeeded", events[0].Kind)
	assert.Equal(t, "u1", events[0].UserID)
}

func TestPollEventsTimesOutEmpty(t *testing.T) {
	rig := newAPIRig(t, &browsertest.FakeLauncher{})

	start := time.Now()
	resp := rig.do(t, "GET", "/v1/events?timeout=1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.GreaterOrEqual(t, time.Since(start), time.Second)

	var events []models.SessionEvent
	decode(t, resp, &events)
	assert.Empty(t, events)
}

func TestSessionLimitMapsTo429(t *testing.T) {
	launcher := &browsertest.FakeLauncher{}
	registry := session.NewRegistry(session.Config{
		LoginURL:          "https://www.linkedin.com/login",
		NavigationTimeout: 5 * time.Second,
		IdleTimeout:       time.Hour,
		ActionTimeout:     30 * time.Second,
		MaxSessions:       1,
	}, launcher, &storage.LogStore{}, slog.Default())
	handler := NewHandler(registry, slog.Default())
	hub := transport.NewHub(registry, slog.Default())
	srv := httptest.NewServer(handler.SetupRoutes(hub, ratelimit.NewLimiter(600, 100)))
	t.Cleanup(func() {
		srv.Close()
		registry.CloseAll()
	})
	rig := &apiRig{launcher: launcher, registry: registry, srv: srv}

	resp := rig.do(t, "POST", "/v1/sessions", models.StartSessionRequest{UserID: "u1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = rig.do(t, "POST", "/v1/sessions", models.StartSessionRequest{UserID: "u2"})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestRateLimitMiddleware(t *testing.T) {
	launcher := &browsertest.FakeLauncher{}
	registry := session.NewRegistry(session.Config{
		LoginURL:          "https://www.linkedin.com/login",
		NavigationTimeout: 5 * time.Second,
		IdleTimeout:       time.Hour,
		ActionTimeout:     30 * time.Second,
		MaxSessions:       25,
	}, launcher, &storage.LogStore{}, slog.Default())
	handler := NewHandler(registry, slog.Default())
	hub := transport.NewHub(registry, slog.Default())
	srv := httptest.NewServer(handler.SetupRoutes(hub, ratelimit.NewLimiter(1, 1)))
	t.Cleanup(func() {
		srv.Close()
		registry.CloseAll()
	})
	rig := &apiRig{launcher: launcher, registry: registry, srv: srv}

	// DELETE resolves the user from the path, so the limiter can see it.
	resp := rig.do(t, "DELETE", "/v1/sessions/u1", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = rig.do(t, "DELETE", "/v1/sessions/u1", nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "0", resp.Header.Get("X-RateLimit-Remaining"))
}

func TestRateLimitCoversSessionCreate(t *testing.T) {
	launcher := &browsertest.FakeLauncher{}
	registry := session.NewRegistry(session.Config{
		LoginURL:          "https://www.linkedin.com/login",
		NavigationTimeout: 5 * time.Second,
		IdleTimeout:       time.Hour,
		ActionTimeout:     30 * time.Second,
		MaxSessions:       25,
	}, launcher, &storage.LogStore{}, slog.Default())
	handler := NewHandler(registry, slog.Default())
	hub := transport.NewHub(registry, slog.Default())
	srv := httptest.NewServer(handler.SetupRoutes(hub, ratelimit.NewLimiter(1, 1)))
	t.Cleanup(func() {
		srv.Close()
		registry.CloseAll()
	})
	rig := &apiRig{launcher: launcher, registry: registry, srv: srv}

	// The user arrives only in the JSON body here; the limiter must still
	// resolve it, and the handler must still be able to decode the body.
	resp := rig.do(t, "POST", "/v1/sessions", models.StartSessionRequest{UserID: "u1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = rig.do(t, "POST", "/v1/sessions", models.StartSessionRequest{UserID: "u1"})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	// Another user has their own bucket.
	resp = rig.do(t, "POST", "/v1/sessions", models.StartSessionRequest{UserID: "u2"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	rig := newAPIRig(t, &browsertest.FakeLauncher{})
	resp := rig.do(t, "GET", "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

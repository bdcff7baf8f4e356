package modules_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guillaume29200/esport-cms/internal/app"
	"github.com/Guillaume29200/esport-cms/internal/config"
	"github.com/Guillaume29200/esport-cms/internal/events"
	"github.com/Guillaume29200/esport-cms/internal/logging"
	"github.com/Guillaume29200/esport-cms/internal/modules"
)

const webhookSecret = "webhook-secret"

type site struct {
	t       *testing.T
	app     *app.Application
	handler http.Handler
}

func newSite(t *testing.T) *site {
	t.Helper()
	catalog, err := modules.Catalog()
	require.NoError(t, err)

	cfg := config.Default()
	cfg.RateLimit.RequestsPerSecond = 0
	cfg.Modules.Settings = map[string]map[string]interface{}{
		"auth":    {"bcrypt_cost": 4},
		"premium": {"webhook_secret": webhookSecret},
	}

	a, err := app.New(cfg, catalog, logging.NewDiscard())
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, a.Kernel().Boot(ctx))
	t.Cleanup(func() { _ = a.Kernel().Shutdown(ctx) })
	return &site{t: t, app: a, handler: a.Handler()}
}

func (s *site) do(method, path, token string, body interface{}, header ...string) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *site) json(rec *httptest.ResponseRecorder) map[string]interface{} {
	s.t.Helper()
	var out map[string]interface{}
	require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// signUp registers and logs in username, returning the bearer token.
func (s *site) signUp(username string) string {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/auth/register", "", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": "correct horse battery",
	})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPost, "/auth/login", "", map[string]string{
		"login":    username,
		"password": "correct horse battery",
	})
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())
	return s.json(rec)["token"].(string)
}

func (s *site) moduleStatus(token, id string) string {
	s.t.Helper()
	rec := s.do(http.MethodGet, "/admin/modules", token, nil)
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())
	for _, m := range s.json(rec)["modules"].([]interface{}) {
		info := m.(map[string]interface{})
		if info["descriptor"].(map[string]interface{})["id"] == id {
			return info["status"].(string)
		}
	}
	s.t.Fatalf("module %s not listed", id)
	return ""
}

func TestBootLoadsCoreModulesOnly(t *testing.T) {
	s := newSite(t)
	root := s.signUp("root")

	assert.Equal(t, "running", s.moduleStatus(root, "auth"))
	assert.Equal(t, "running", s.moduleStatus(root, "admin"))
	assert.Equal(t, "available", s.moduleStatus(root, "premium"))
	assert.Equal(t, "available", s.moduleStatus(root, "news"))

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/news", "", nil).Code)

	rec := s.do(http.MethodPost, "/admin/modules/auth/uninstall", root, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPremiumNewsJourney(t *testing.T) {
	s := newSite(t)
	root := s.signUp("root")
	alice := s.signUp("alice")

	assert.Equal(t, http.StatusForbidden, s.do(http.MethodPost, "/admin/modules/news/install", alice, nil).Code)

	for _, id := range []string{"news", "premium"} {
		rec := s.do(http.MethodPost, "/admin/modules/"+id+"/install", root, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, "running", s.moduleStatus(root, id))
	}

	rec := s.do(http.MethodPost, "/admin/news", root, map[string]interface{}{
		"title":   "Pro strategies",
		"body":    "Secret sauce.",
		"premium": true,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, "/news/pro-strategies", alice, nil).Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/news/pro-strategies", root, nil).Code)

	rec = s.do(http.MethodPost, "/premium/subscribe", alice, map[string]string{"plan_id": "monthly"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	reference := s.json(rec)["checkout"].(map[string]interface{})["reference"].(string)

	rec = s.do(http.MethodPost, "/premium/webhook", "", map[string]string{"reference": reference, "status": "paid"},
		"X-Webhook-Secret", webhookSecret)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/news/pro-strategies", alice, nil).Code)

	rec = s.do(http.MethodGet, "/auth/me", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"premium":true`)

	rec = s.do(http.MethodGet, "/admin/menu", root, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var ids []string
	for _, item := range s.json(rec)["items"].([]interface{}) {
		ids = append(ids, item.(map[string]interface{})["id"].(string))
	}
	assert.Equal(t, []string{"users", "news", "premium", "modules", "events", "system"}, ids)

	// Without premium nothing grants access to premium articles any more.
	rec = s.do(http.MethodPost, "/admin/modules/premium/uninstall", root, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/premium/plans", "", nil).Code)
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, "/news/pro-strategies", alice, nil).Code)

	rec = s.do(http.MethodGet, "/admin/events?module=premium", root, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), string(events.ModuleUninstalled))
}

func TestDisableHidesRoutes(t *testing.T) {
	s := newSite(t)
	root := s.signUp("root")

	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/admin/modules/news/install", root, nil).Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/news", "", nil).Code)

	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/admin/modules/news/disable", root, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/news", "", nil).Code)
	assert.Equal(t, "disabled", s.moduleStatus(root, "news"))

	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/admin/modules/news/enable", root, nil).Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/news", "", nil).Code)
}

func TestEventStreamOverHTTP(t *testing.T) {
	s := newSite(t)
	root := s.signUp("root")

	srv := httptest.NewServer(s.handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/admin/events/stream?access_token=" + root
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/admin/modules/news/install", root, nil).Code)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	seen := map[events.Type]bool{}
	for !seen[events.ModuleInstalled] {
		var ev events.Event
		require.NoError(t, conn.ReadJSON(&ev))
		seen[ev.Type] = true
	}
}

package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"dashsync/internal/repository/memory"
)

func guardedRouter(token string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequireBearer(token))
	(&HealthHandler{DryRun: true}).Register(r)
	(&SyncHandler{Runner: &fakeRunner{}, Store: memory.New()}).Register(r)
	(&OAuthHandler{Flow: &fakeFlow{}}).Register(r)
	return r
}

func doAuth(r http.Handler, method, target, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestBearerGuardsAPIRoutes(t *testing.T) {
	r := guardedRouter("s3cret")
	cases := []struct {
		method, target, auth string
		want                 int
	}{
		{http.MethodPost, "/api/sync/run", "", http.StatusUnauthorized},
		{http.MethodPost, "/api/sync/run", "Bearer wrong", http.StatusUnauthorized},
		{http.MethodPost, "/api/sync/run", "Basic s3cret", http.StatusUnauthorized},
		{http.MethodPost, "/api/sync/run", "Bearer s3cret", http.StatusOK},
		{http.MethodGet, "/api/sync/state", "bearer s3cret", http.StatusOK},
		{http.MethodGet, "/api/oauth/teamleader/authorize?tenant_id=t1", "", http.StatusUnauthorized},
		{http.MethodGet, "/api/oauth/teamleader/authorize?tenant_id=t1", "Bearer s3cret", http.StatusFound},
	}
	for _, tc := range cases {
		w := doAuth(r, tc.method, tc.target, tc.auth)
		if w.Code != tc.want {
			t.Fatalf("%s %s auth=%q status=%d want=%d body=%s", tc.method, tc.target, tc.auth, w.Code, tc.want, w.Body.String())
		}
	}
	if resp := decode(t, doAuth(r, http.MethodPost, "/api/sync/run", "")); resp.Code != http.StatusUnauthorized {
		t.Fatalf("resp=%+v", resp)
	}
}

func TestBearerLeavesPublicRoutesOpen(t *testing.T) {
	r := guardedRouter("s3cret")
	if w := doAuth(r, http.MethodGet, "/healthz", ""); w.Code != http.StatusOK {
		t.Fatalf("healthz status=%d", w.Code)
	}
	w := doAuth(r, http.MethodGet, "/api/oauth/teamleader/callback?code=abc&state=t1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("callback status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestBearerAcceptsQueryTokenOnUpgrade(t *testing.T) {
	r := guardedRouter("s3cret")
	if w := doAuth(r, http.MethodGet, "/api/sync/state?access_token=s3cret", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("query token accepted without upgrade: status=%d", w.Code)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/sync/state?access_token=s3cret", nil)
	req.Header.Set("Upgrade", "websocket")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestEmptyTokenDisablesBearer(t *testing.T) {
	r := guardedRouter("")
	if w := doAuth(r, http.MethodPost, "/api/sync/run", ""); w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
}

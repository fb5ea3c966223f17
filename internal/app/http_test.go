package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"arbor/api/internal/store"
	"arbor/api/internal/voting"
)

func newTestHandler() (http.Handler, *Service, *memStore) {
	svc, mem, _ := newTestService()
	return NewHTTPServer(svc, "*").Handler(), svc, mem
}

func doRequest(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func sessionFor(t *testing.T, svc *Service, mem *memStore, userID, role string) Session {
	t.Helper()
	if _, ok := mem.users[userID]; !ok {
		mem.users[userID] = store.User{ID: userID, DisplayName: userID, Email: userID + "@example.com", Role: role}
	}
	session, err := svc.CreateSession(context.Background(), userID)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return session
}

func TestHealthAndReady(t *testing.T) {
	handler, _, _ := newTestHandler()

	rec := doRequest(t, handler, http.MethodGet, "/api/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health: expected 200, got %d", rec.Code)
	}

	rec = doRequest(t, handler, http.MethodGet, "/api/ready", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("ready: expected 200, got %d", rec.Code)
	}
	if body := decodeResponse(t, rec); body["status"] != "ready" {
		t.Fatalf("ready: expected status ready, got %v", body)
	}
}

func TestAuthenticatedRoutesRequireBearer(t *testing.T) {
	handler, _, _ := newTestHandler()

	rec := doRequest(t, handler, http.MethodGet, "/api/domains", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	if body := decodeResponse(t, rec); body["code"] != "UNAUTHORIZED" {
		t.Fatalf("expected UNAUTHORIZED code, got %v", body)
	}

	rec = doRequest(t, handler, http.MethodGet, "/api/domains", "not-a-token", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with garbage token, got %d", rec.Code)
	}
}

func TestSessionEndpointNeverRejects(t *testing.T) {
	handler, svc, mem := newTestHandler()

	rec := doRequest(t, handler, http.MethodGet, "/api/session", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := decodeResponse(t, rec); body["authenticated"] != false {
		t.Fatalf("expected authenticated:false, got %v", body)
	}

	session := sessionFor(t, svc, mem, "alice", "member")
	rec = doRequest(t, handler, http.MethodGet, "/api/session", session.Token, nil)
	body := decodeResponse(t, rec)
	if body["authenticated"] != true || body["userId"] != "alice" {
		t.Fatalf("expected authenticated session for alice, got %v", body)
	}
}

func TestRefreshRotatesTokens(t *testing.T) {
	handler, svc, mem := newTestHandler()
	session := sessionFor(t, svc, mem, "alice", "member")

	rec := doRequest(t, handler, http.MethodPost, "/api/session/refresh", "", map[string]any{
		"refreshToken": session.RefreshToken,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeResponse(t, rec)
	if body["refreshToken"] == session.RefreshToken {
		t.Fatal("expected a rotated refresh token")
	}

	// The old token was revoked by the rotation.
	rec = doRequest(t, handler, http.MethodPost, "/api/session/refresh", "", map[string]any{
		"refreshToken": session.RefreshToken,
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for replayed refresh token, got %d", rec.Code)
	}
}

func TestDomainRoutes(t *testing.T) {
	handler, svc, mem := newTestHandler()
	admin := sessionFor(t, svc, mem, "root", "admin")
	member := sessionFor(t, svc, mem, "bob", "member")

	rec := doRequest(t, handler, http.MethodPost, "/api/domains", admin.Token, map[string]any{
		"name": "Physics",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	created := decodeResponse(t, rec)
	domainID, _ := created["id"].(string)
	if domainID == "" || created["slug"] != "physics" {
		t.Fatalf("unexpected created domain: %v", created)
	}

	// Members cannot create domains.
	rec = doRequest(t, handler, http.MethodPost, "/api/domains", member.Token, map[string]any{
		"name": "Chemistry",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for member, got %d", rec.Code)
	}

	rec = doRequest(t, handler, http.MethodGet, "/api/domains/"+domainID, member.Token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = doRequest(t, handler, http.MethodGet, "/api/domains/missing", member.Token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if body := decodeResponse(t, rec); body["code"] != "NOT_FOUND" {
		t.Fatalf("expected NOT_FOUND code, got %v", body)
	}

	rec = doRequest(t, handler, http.MethodGet, "/api/domains/"+domainID+"/shares?wing=LEFT", member.Token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := decodeResponse(t, rec); body["available"] != float64(100) {
		t.Fatalf("expected full availability on a fresh wing, got %v", body)
	}
}

func TestInvalidJSONBody(t *testing.T) {
	handler, svc, mem := newTestHandler()
	admin := sessionFor(t, svc, mem, "root", "admin")

	req := httptest.NewRequest(http.MethodPost, "/api/domains", bytes.NewBufferString("{not json"))
	req.Header.Set("Authorization", "Bearer "+admin.Token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if body := decodeResponse(t, rec); body["code"] != "BAD_REQUEST" {
		t.Fatalf("expected BAD_REQUEST code, got %v", body)
	}
}

func TestPostVoteFlowOverHTTP(t *testing.T) {
	handler, svc, mem := newTestHandler()
	seedDomain(t, mem, "dA")
	seedExpert(t, mem, "head", "dA", voting.RoleHead, "LEFT")
	head := sessionFor(t, svc, mem, "head", "member")

	rec := doRequest(t, handler, http.MethodPost, "/api/posts", head.Token, map[string]any{
		"domainId": "dA",
		"title":    "Entropy",
		"content":  "body",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	postID, _ := decodeResponse(t, rec)["id"].(string)

	rec = doRequest(t, handler, http.MethodPost, "/api/posts/"+postID+"/submit", head.Token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("submit: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, handler, http.MethodPost, "/api/posts/"+postID+"/votes", head.Token, map[string]any{
		"score": 2,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("vote: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if body := decodeResponse(t, rec); body["outcome"] != "APPROVED" {
		t.Fatalf("expected APPROVED outcome, got %v", body)
	}

	// Out-of-range scores are rejected before anything is stored.
	rec = doRequest(t, handler, http.MethodPost, "/api/posts/"+postID+"/votes", head.Token, map[string]any{
		"score": 5,
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
}

func TestSearchParamValidation(t *testing.T) {
	handler, svc, mem := newTestHandler()
	member := sessionFor(t, svc, mem, "bob", "member")

	rec := doRequest(t, handler, http.MethodGet, "/api/search?q=entropy&limit=abc", member.Token, nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for bad limit, got %d", rec.Code)
	}

	rec = doRequest(t, handler, http.MethodGet, "/api/search?q=entropy", member.Token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 without a backend, got %d", rec.Code)
	}
}

func TestUnknownRoute(t *testing.T) {
	handler, svc, mem := newTestHandler()
	member := sessionFor(t, svc, mem, "bob", "member")

	rec := doRequest(t, handler, http.MethodGet, "/api/widgets", member.Token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestAdminSweepEndpoint(t *testing.T) {
	handler, svc, mem := newTestHandler()
	admin := sessionFor(t, svc, mem, "root", "admin")
	member := sessionFor(t, svc, mem, "bob", "member")

	rec := doRequest(t, handler, http.MethodPost, "/api/admin/sweep", member.Token, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for member, got %d", rec.Code)
	}

	rec = doRequest(t, handler, http.MethodPost, "/api/admin/sweep", admin.Token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestLogoutRevokesAccessToken(t *testing.T) {
	handler, svc, mem := newTestHandler()
	session := sessionFor(t, svc, mem, "alice", "member")

	rec := doRequest(t, handler, http.MethodPost, "/api/session/logout", session.Token, map[string]any{
		"refreshToken": session.RefreshToken,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("logout: expected 200, got %d", rec.Code)
	}

	rec = doRequest(t, handler, http.MethodGet, "/api/domains", session.Token, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", rec.Code)
	}
}

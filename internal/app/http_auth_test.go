package app

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/Sonu-0009/Dahboard-Backend2/internal/auth"
	"github.com/Sonu-0009/Dahboard-Backend2/internal/rbac"
	"github.com/Sonu-0009/Dahboard-Backend2/internal/session"
	"github.com/Sonu-0009/Dahboard-Backend2/internal/store"
)

func newTestServer(fs *fakeStore) (*HTTPServer, *Service) {
	svc := newTestService(fs)
	return NewHTTPServer(svc, "*", time.Hour), svc
}

// seedSession plants a live session and returns the client-side token.
func seedSession(t *testing.T, svc *Service, userID string, role rbac.Role) string {
	t.Helper()
	token := auth.NewSessionToken()
	err := svc.sessions.Save(context.Background(), auth.HashToken(token), session.Data{
		UserID: userID,
		Role:   string(role),
		Email:  userID + "@example.com",
	}, time.Hour)
	if err != nil {
		t.Fatalf("seed session: %v", err)
	}
	return token
}

func doJSON(t *testing.T, server *HTTPServer, method, path, token string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Buffer
	if body == "" {
		reader = bytes.NewBufferString("{}")
	} else {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	return rr
}

func parseBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v body=%s", err, rr.Body.String())
	}
	return payload
}

func TestSignUpReturnsUserWithoutPassword(t *testing.T) {
	server, _ := newTestServer(&fakeStore{})

	rr := doJSON(t, server, http.MethodPost, "/auth/signup", "",
		`{"email":"a@example.com","password":"password123","mobile":"123","gender":"other"}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := parseBody(t, rr)
	if payload["role"] != "user" {
		t.Fatalf("expected role user, got %v", payload["role"])
	}
	if payload["email"] != "a@example.com" {
		t.Fatalf("expected email echoed, got %v", payload["email"])
	}
	if _, leaked := payload["password"]; leaked {
		t.Fatalf("password leaked in response")
	}
	if _, leaked := payload["password_hash"]; leaked {
		t.Fatalf("password hash leaked in response")
	}
}

func TestSignUpDuplicateEmail(t *testing.T) {
	fs := &fakeStore{
		createUserFn: func(context.Context, store.User) error {
			return store.ErrEmailTaken
		},
	}
	server, _ := newTestServer(fs)

	rr := doJSON(t, server, http.MethodPost, "/auth/signup", "",
		`{"email":"a@example.com","password":"password123"}`)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if parseBody(t, rr)["code"] != "EMAIL_EXISTS" {
		t.Fatalf("expected EMAIL_EXISTS, got %s", rr.Body.String())
	}
}

func TestSignUpRejectsShortPassword(t *testing.T) {
	server, _ := newTestServer(&fakeStore{})

	rr := doJSON(t, server, http.MethodPost, "/auth/signup", "",
		`{"email":"a@example.com","password":"short"}`)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestLoginSetsCookieAndRedirect(t *testing.T) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	fs := &fakeStore{
		getUserByEmailFn: func(_ context.Context, email string) (store.User, error) {
			return store.User{ID: "usr_1", Email: email, PasswordHash: string(hash), Role: "super_admin"}, nil
		},
	}
	server, _ := newTestServer(fs)

	rr := doJSON(t, server, http.MethodPost, "/auth/login", "",
		`{"email":"root@example.com","password":"password123"}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := parseBody(t, rr)
	if payload["redirect_url"] != "/dashboard/super-admin" {
		t.Fatalf("expected super admin redirect, got %v", payload["redirect_url"])
	}

	var cookie *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == sessionCookieName {
			cookie = c
		}
	}
	if cookie == nil || cookie.Value == "" {
		t.Fatalf("expected session cookie to be set")
	}
	if !cookie.HttpOnly {
		t.Fatalf("expected HttpOnly session cookie")
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	fs := &fakeStore{
		getUserByEmailFn: func(context.Context, string) (store.User, error) {
			return store.User{}, sql.ErrNoRows
		},
	}
	server, _ := newTestServer(fs)

	rr := doJSON(t, server, http.MethodPost, "/auth/login", "",
		`{"email":"a@example.com","password":"wrongwrong"}`)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if parseBody(t, rr)["code"] != "INVALID_CREDENTIALS" {
		t.Fatalf("expected INVALID_CREDENTIALS, got %s", rr.Body.String())
	}
}

func TestLogoutClearsCookieAndRevokesSession(t *testing.T) {
	server, svc := newTestServer(&fakeStore{})
	token := seedSession(t, svc, "usr_1", rbac.RoleUser)

	rr := doJSON(t, server, http.MethodPost, "/auth/logout", token, "")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var cleared bool
	for _, c := range rr.Result().Cookies() {
		if c.Name == sessionCookieName && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Fatalf("expected session cookie cleared")
	}
	if _, err := svc.SessionFromToken(context.Background(), token); err == nil {
		t.Fatalf("expected session revoked")
	}
}

func TestSessionCookieAuthenticatesRequest(t *testing.T) {
	server, svc := newTestServer(&fakeStore{})
	token := seedSession(t, svc, "usr_1", rbac.RoleUser)

	req := httptest.NewRequest(http.MethodGet, "/protected/user-profile", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: token})
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := parseBody(t, rr)
	if payload["id"] != "usr_1" || payload["role"] != "user" {
		t.Fatalf("unexpected profile %v", payload)
	}
}

func TestProtectedRoutesWithoutSessionReturnUnauthorized(t *testing.T) {
	server, _ := newTestServer(&fakeStore{})

	for _, path := range []string{"/protected/user-profile", "/forms", "/chat/history"} {
		rr := doJSON(t, server, http.MethodGet, path, "", "")
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", path, rr.Code)
		}
		if parseBody(t, rr)["code"] != "UNAUTHORIZED" {
			t.Fatalf("%s: expected UNAUTHORIZED, got %s", path, rr.Body.String())
		}
	}
}

func TestProtectedRoutesEnforceRole(t *testing.T) {
	server, svc := newTestServer(&fakeStore{})
	userToken := seedSession(t, svc, "usr_1", rbac.RoleUser)
	adminToken := seedSession(t, svc, "usr_2", rbac.RoleAdmin)

	cases := []struct {
		path  string
		token string
	}{
		{"/protected/super-admin-data", adminToken},
		{"/protected/admin-stats", userToken},
		{"/protected/user-profile", adminToken},
		{"/protected/all-users", adminToken},
	}
	for _, tc := range cases {
		rr := doJSON(t, server, http.MethodGet, tc.path, tc.token, "")
		if rr.Code != http.StatusForbidden {
			t.Fatalf("%s: expected 403, got %d", tc.path, rr.Code)
		}
	}
}

func TestCreateAdminEndpointRequiresSuperAdmin(t *testing.T) {
	server, svc := newTestServer(&fakeStore{})
	adminToken := seedSession(t, svc, "usr_2", rbac.RoleAdmin)

	rr := doJSON(t, server, http.MethodPost, "/auth/create-admin", adminToken,
		`{"email":"new@example.com","password":"password123"}`)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestAllUsersListsForSuperAdmin(t *testing.T) {
	fs := &fakeStore{
		listUsersFn: func(context.Context) ([]store.User, error) {
			return []store.User{{ID: "usr_1", Email: "a@example.com", Role: "user"}}, nil
		},
	}
	server, svc := newTestServer(fs)
	token := seedSession(t, svc, "usr_root", rbac.RoleSuperAdmin)

	rr := doJSON(t, server, http.MethodGet, "/protected/all-users", token, "")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	users, ok := parseBody(t, rr)["users"].([]any)
	if !ok || len(users) != 1 {
		t.Fatalf("expected one user, got %s", rr.Body.String())
	}
	if _, leaked := users[0].(map[string]any)["password_hash"]; leaked {
		t.Fatalf("password hash leaked in user list")
	}
}

package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Sonu-0009/Dahboard-Backend2/internal/auth"
	"github.com/Sonu-0009/Dahboard-Backend2/internal/rbac"
	"github.com/Sonu-0009/Dahboard-Backend2/internal/store"
)

const sessionCookieName = "session_token"

type HTTPServer struct {
	service    *Service
	corsOrigin string
	cookieTTL  time.Duration
}

func NewHTTPServer(service *Service, corsOrigin string, cookieTTL time.Duration) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, cookieTTL: cookieTTL}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if err := s.service.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"ok":    false,
				"error": err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	// No session required
	if r.Method == http.MethodPost && r.URL.Path == "/auth/signup" {
		s.handleSignUp(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/auth/login" {
		s.handleLogin(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/auth/logout" {
		s.handleLogout(w, r)
		return
	}

	segments := splitPath(r.URL.Path)

	if len(segments) == 3 && segments[0] == "guest_chat" {
		if r.Method == http.MethodPost && segments[1] == "message" {
			s.handleGuestChatSend(w, r, segments[2])
			return
		}
		if r.Method == http.MethodGet && segments[1] == "history" {
			s.handleGuestChatHistory(w, r, segments[2])
			return
		}
	}

	// Everything below needs a session
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/auth/create-admin" {
		s.handleCreateAdmin(w, r, session)
		return
	}

	if r.Method == http.MethodGet && len(segments) == 2 && segments[0] == "protected" {
		s.handleProtected(w, r, session, segments[1])
		return
	}

	if len(segments) >= 1 && segments[0] == "forms" {
		switch {
		case r.Method == http.MethodPost && len(segments) == 1:
			s.handleCreateForm(w, r, session)
			return
		case r.Method == http.MethodGet && len(segments) == 1:
			s.handleListForms(w, r, session)
			return
		case r.Method == http.MethodGet && len(segments) == 2:
			s.handleGetForm(w, r, session, segments[1])
			return
		case r.Method == http.MethodDelete && len(segments) == 2:
			s.handleDeleteForm(w, r, session, segments[1])
			return
		case r.Method == http.MethodGet && len(segments) == 3 && segments[2] == "summary":
			s.handleFormSummary(w, r, session, segments[1])
			return
		}
	}

	if len(segments) >= 2 && segments[0] == "form_responses" {
		if r.Method == http.MethodPost && len(segments) == 2 && segments[1] == "submit" {
			s.handleSubmitResponse(w, r, session)
			return
		}
		if r.Method == http.MethodGet && len(segments) == 3 && segments[2] == "my" {
			s.handleMyResponses(w, r, session, segments[1])
			return
		}
	}

	if len(segments) == 2 && segments[0] == "chat" {
		if r.Method == http.MethodPost && segments[1] == "message" {
			s.handleChatAppend(w, r, session)
			return
		}
		if r.Method == http.MethodGet && segments[1] == "history" {
			s.handleChatHistory(w, r, session)
			return
		}
	}

	if len(segments) == 2 && segments[0] == "users_chat" {
		if r.Method == http.MethodPost && segments[1] == "message" {
			s.handleUsersChatSend(w, r, session)
			return
		}
		if r.Method == http.MethodGet && segments[1] == "history" {
			s.handleUsersChatHistory(w, r, session)
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// -- auth handlers --

func (s *HTTPServer) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var body SignUpInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	user, err := s.service.SignUp(r.Context(), body)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, userPayload(user))
}

func (s *HTTPServer) handleCreateAdmin(w http.ResponseWriter, r *http.Request, session Session) {
	var body SignUpInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	user, err := s.service.CreateAdmin(r.Context(), session, body)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, userPayload(user))
}

func userPayload(user store.User) map[string]any {
	return map[string]any{
		"id":     user.ID,
		"email":  user.Email,
		"mobile": user.Mobile,
		"gender": user.Gender,
		"role":   user.Role,
	}
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	session, err := s.service.Login(r.Context(), body.Email, body.Password)
	if err != nil {
		writeMappedError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    session.Token,
		Path:     "/",
		MaxAge:   int(s.cookieTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"id":           session.UserID,
		"email":        session.Email,
		"role":         session.Role,
		"redirect_url": RedirectURL(session.Role),
	})
}

func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.service.Logout(r.Context(), s.requestToken(r))
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]any{"message": "Logged out successfully"})
}

func (s *HTTPServer) handleProtected(w http.ResponseWriter, r *http.Request, session Session, page string) {
	switch page {
	case "super-admin-data":
		if err := s.service.authorize(session, rbac.RoleSuperAdmin); err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"message": "Confidential data for Super Admin"})
	case "admin-stats":
		if err := s.service.authorize(session, rbac.RoleAdmin); err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"message": "Admin stats data"})
	case "user-profile":
		if err := s.service.authorize(session, rbac.RoleUser); err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"id":    session.UserID,
			"email": session.Email,
			"role":  session.Role,
		})
	case "all-users":
		users, err := s.service.Users(r.Context(), session)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"users": users})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

// -- form handlers --

func (s *HTTPServer) handleCreateForm(w http.ResponseWriter, r *http.Request, session Session) {
	var body FormInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	form, err := s.service.CreateForm(r.Context(), session, body)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, form)
}

func (s *HTTPServer) handleListForms(w http.ResponseWriter, r *http.Request, session Session) {
	page, ok := queryInt(w, r, "page", 1)
	if !ok {
		return
	}
	pageSize, ok := queryInt(w, r, "page_size", 10)
	if !ok {
		return
	}

	forms, pagination, err := s.service.ListForms(r.Context(), session, page, pageSize, r.URL.Query().Get("search"))
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":      forms,
		"pagination": pagination,
	})
}

func (s *HTTPServer) handleGetForm(w http.ResponseWriter, r *http.Request, session Session, formID string) {
	form, err := s.service.GetForm(r.Context(), session, formID)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, form)
}

func (s *HTTPServer) handleDeleteForm(w http.ResponseWriter, r *http.Request, session Session, formID string) {
	result, err := s.service.DeleteForm(r.Context(), session, formID)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleFormSummary(w http.ResponseWriter, r *http.Request, session Session, formID string) {
	page, ok := queryInt(w, r, "page", 1)
	if !ok {
		return
	}
	pageSize, ok := queryInt(w, r, "page_size", 20)
	if !ok {
		return
	}

	form, responses, pagination, err := s.service.FormSummary(r.Context(), session, formID, page, pageSize)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"form":       form,
		"responses":  responses,
		"pagination": pagination,
	})
}

// -- response handlers --

func (s *HTTPServer) handleSubmitResponse(w http.ResponseWriter, r *http.Request, session Session) {
	var body struct {
		FormID  string                  `json:"form_id"`
		Answers map[string]store.Answer `json:"answers"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	response, err := s.service.SubmitResponse(r.Context(), session, body.FormID, body.Answers)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) handleMyResponses(w http.ResponseWriter, r *http.Request, session Session, formID string) {
	responses, err := s.service.MyResponses(r.Context(), session, formID)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": responses})
}

// -- chat handlers --

func (s *HTTPServer) handleChatAppend(w http.ResponseWriter, r *http.Request, session Session) {
	var body struct {
		Role string `json:"role"`
		Text string `json:"text"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	message, err := s.service.AppendChat(r.Context(), session, body.Role, body.Text)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "saved",
		"message": message,
	})
}

func (s *HTTPServer) handleChatHistory(w http.ResponseWriter, r *http.Request, session Session) {
	messages, err := s.service.ChatHistory(r.Context(), session)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

func (s *HTTPServer) handleUsersChatSend(w http.ResponseWriter, r *http.Request, session Session) {
	var body struct {
		Text string `json:"text"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	reply, err := s.service.UsersChatSend(r.Context(), session, body.Text)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "saved",
		"bot_response": reply,
	})
}

func (s *HTTPServer) handleUsersChatHistory(w http.ResponseWriter, r *http.Request, session Session) {
	messages, err := s.service.UsersChatHistory(r.Context(), session)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

func (s *HTTPServer) handleGuestChatSend(w http.ResponseWriter, r *http.Request, guestID string) {
	var body struct {
		Text string `json:"text"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	reply, err := s.service.GuestChatSend(r.Context(), guestID, body.Text)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "saved",
		"bot_response": reply,
	})
}

func (s *HTTPServer) handleGuestChatHistory(w http.ResponseWriter, r *http.Request, guestID string) {
	messages, err := s.service.GuestChatHistory(r.Context(), guestID)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

// -- plumbing --

// requestToken pulls the session token from the cookie, falling back to a
// bearer header for non-browser clients.
func (s *HTTPServer) requestToken(r *http.Request) string {
	if cookie, err := r.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return bearerToken(r)
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := s.requestToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Login required", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Login required", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeMappedError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	writeError(w, status, code, message, details)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

// queryInt parses an optional integer query parameter. A malformed value is
// rejected with 422 and the handler stops.
func queryInt(w http.ResponseWriter, r *http.Request, name string, fallback int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, true
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR",
			fmt.Sprintf("%s must be an integer", name), nil)
		return 0, false
	}
	return value, true
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidSession) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Login required", nil
	}
	if errors.Is(err, store.ErrDuplicateResponse) {
		return http.StatusBadRequest, "DUPLICATE_SUBMISSION", "You have already submitted a response to this form", nil
	}
	if errors.Is(err, store.ErrEmailTaken) {
		return http.StatusBadRequest, "EMAIL_EXISTS", "Email already registered", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

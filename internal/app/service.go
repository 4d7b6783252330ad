package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/Sonu-0009/Dahboard-Backend2/internal/auth"
	"github.com/Sonu-0009/Dahboard-Backend2/internal/authpw"
	"github.com/Sonu-0009/Dahboard-Backend2/internal/config"
	"github.com/Sonu-0009/Dahboard-Backend2/internal/rbac"
	"github.com/Sonu-0009/Dahboard-Backend2/internal/search"
	"github.com/Sonu-0009/Dahboard-Backend2/internal/session"
	"github.com/Sonu-0009/Dahboard-Backend2/internal/store"
	"github.com/Sonu-0009/Dahboard-Backend2/internal/util"
)

// dataStore is the storage interface the service depends on. Implemented by
// store.PostgresStore in production and by fakes in tests.
type dataStore interface {
	CreateUser(ctx context.Context, user store.User) error
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	ListUsers(ctx context.Context) ([]store.User, error)
	CountUsersByRole(ctx context.Context, role string) (int, error)

	InsertForm(ctx context.Context, form store.Form) error
	GetForm(ctx context.Context, formID string) (store.Form, error)
	ListForms(ctx context.Context, filter store.FormFilter, limit, offset int) ([]store.Form, int, error)
	DeleteFormCascade(ctx context.Context, formID string) (int, int, error)

	HasUserResponse(ctx context.Context, formID, userID string) (bool, error)
	InsertResponse(ctx context.Context, response store.FormResponse) error
	ListFormResponses(ctx context.Context, formID string, limit, offset int) ([]store.FormResponse, int, error)
	ListUserResponses(ctx context.Context, formID, userID string) ([]store.FormResponse, error)

	AppendChatMessage(ctx context.Context, namespace store.Namespace, identityID string, message store.ChatMessage) error
	ChatHistory(ctx context.Context, namespace store.Namespace, identityID string) ([]store.ChatMessage, error)

	Ping(ctx context.Context) error
}

type sessionStore interface {
	Save(ctx context.Context, tokenHash string, data session.Data, ttl time.Duration) error
	Lookup(ctx context.Context, tokenHash string) (session.Data, error)
	Revoke(ctx context.Context, tokenHash string) error
	Ping(ctx context.Context) error
}

// Session is the authenticated identity attached to a request. A zero UserID
// means the request is anonymous.
type Session struct {
	Token  string
	UserID string
	Email  string
	Role   rbac.Role
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	creds    *authpw.Service
	search   *search.Service
}

func New(cfg config.Config, st *store.PostgresStore, sessions *session.RedisStore, searchSvc *search.Service) *Service {
	return &Service{
		cfg:      cfg,
		store:    st,
		sessions: sessions,
		creds:    authpw.NewService(st),
		search:   searchSvc,
	}
}

// Bootstrap seeds the super admin account from config when no super admin
// exists yet. A no-op when the config is unset or a seed already happened.
func (s *Service) Bootstrap(ctx context.Context) error {
	if s.cfg.SuperAdminEmail == "" || s.cfg.SuperAdminPassword == "" {
		return nil
	}

	count, err := s.store.CountUsersByRole(ctx, string(rbac.RoleSuperAdmin))
	if err != nil {
		return fmt.Errorf("count super admins: %w", err)
	}
	if count > 0 {
		return nil
	}

	_, err = s.creds.SignUp(ctx, authpw.SignUpRequest{
		Email:    s.cfg.SuperAdminEmail,
		Password: s.cfg.SuperAdminPassword,
		Role:     rbac.RoleSuperAdmin,
	})
	if errors.Is(err, authpw.ErrEmailTaken) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("seed super admin: %w", err)
	}
	log.Printf("bootstrap: created super admin %s", s.cfg.SuperAdminEmail)
	return nil
}

func (s *Service) Ping(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := s.sessions.Ping(ctx); err != nil {
		return fmt.Errorf("session store: %w", err)
	}
	return nil
}

// authorize gates an operation on the caller being logged in with one of the
// allowed roles. Anonymous callers get 401, wrong-role callers get 403.
func (s *Service) authorize(sess Session, allowed ...rbac.Role) error {
	if sess.UserID == "" {
		return domainError(401, "UNAUTHORIZED", "Login required", nil)
	}
	if !rbac.AnyOf(sess.Role, allowed...) {
		return domainError(403, "FORBIDDEN", "Insufficient role", nil)
	}
	return nil
}

func (s *Service) requireIdentity(sess Session) error {
	if sess.UserID == "" {
		return domainError(401, "UNAUTHORIZED", "Login required", nil)
	}
	return nil
}

// -- auth --

type SignUpInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Mobile   string `json:"mobile"`
	Gender   string `json:"gender"`
}

func (s *Service) SignUp(ctx context.Context, input SignUpInput) (store.User, error) {
	return s.signUpWithRole(ctx, input, rbac.RoleUser)
}

// CreateAdmin registers an admin account. Only a super admin may call it.
func (s *Service) CreateAdmin(ctx context.Context, sess Session, input SignUpInput) (store.User, error) {
	if err := s.authorize(sess, rbac.RoleSuperAdmin); err != nil {
		return store.User{}, err
	}
	return s.signUpWithRole(ctx, input, rbac.RoleAdmin)
}

func (s *Service) signUpWithRole(ctx context.Context, input SignUpInput, role rbac.Role) (store.User, error) {
	user, err := s.creds.SignUp(ctx, authpw.SignUpRequest{
		Email:    strings.TrimSpace(input.Email),
		Password: input.Password,
		Mobile:   input.Mobile,
		Gender:   input.Gender,
		Role:     role,
	})
	if errors.Is(err, authpw.ErrEmailTaken) {
		return store.User{}, domainError(400, "EMAIL_EXISTS", "Email already registered", nil)
	}
	if err != nil {
		return store.User{}, domainError(422, "VALIDATION_ERROR", err.Error(), nil)
	}
	return user, nil
}

// Login verifies credentials and opens a session. The returned token is the
// opaque client-side value, never stored server-side.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	user, err := s.creds.SignIn(ctx, email, password)
	if err != nil {
		return Session{}, domainError(400, "INVALID_CREDENTIALS", "Invalid email or password", nil)
	}

	token := auth.NewSessionToken()
	data := session.Data{
		UserID: user.ID,
		Role:   user.Role,
		Email:  user.Email,
	}
	if err := s.sessions.Save(ctx, auth.HashToken(token), data, s.cfg.SessionTTL); err != nil {
		return Session{}, fmt.Errorf("save session: %w", err)
	}

	return Session{
		Token:  token,
		UserID: user.ID,
		Email:  user.Email,
		Role:   rbac.Normalize(user.Role),
	}, nil
}

// Logout revokes the session. Unknown or already-expired tokens are fine.
func (s *Service) Logout(ctx context.Context, token string) {
	if token == "" {
		return
	}
	if err := s.sessions.Revoke(ctx, auth.HashToken(token)); err != nil {
		log.Printf("logout: revoke session: %v", err)
	}
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	if token == "" {
		return Session{}, auth.ErrInvalidSession
	}
	data, err := s.sessions.Lookup(ctx, auth.HashToken(token))
	if err != nil {
		return Session{}, auth.ErrInvalidSession
	}
	return Session{
		Token:  token,
		UserID: data.UserID,
		Email:  data.Email,
		Role:   rbac.Normalize(data.Role),
	}, nil
}

// RedirectURL maps a role to its dashboard landing page.
func RedirectURL(role rbac.Role) string {
	switch role {
	case rbac.RoleSuperAdmin:
		return "/dashboard/super-admin"
	case rbac.RoleAdmin:
		return "/dashboard/admin"
	default:
		return "/dashboard/user"
	}
}

func (s *Service) Users(ctx context.Context, sess Session) ([]store.User, error) {
	if err := s.authorize(sess, rbac.RoleSuperAdmin); err != nil {
		return nil, err
	}
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// -- forms --

type FormInput struct {
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Questions   []store.Question `json:"questions"`
}

func (s *Service) CreateForm(ctx context.Context, sess Session, input FormInput) (store.Form, error) {
	if err := s.authorize(sess, rbac.RoleAdmin, rbac.RoleSuperAdmin); err != nil {
		return store.Form{}, err
	}

	title := strings.TrimSpace(input.Title)
	if title == "" {
		return store.Form{}, domainError(422, "VALIDATION_ERROR", "title is required", nil)
	}
	if err := validateQuestions(input.Questions); err != nil {
		return store.Form{}, err
	}

	now := time.Now().UTC()
	form := store.Form{
		ID:          util.NewID("frm"),
		Title:       title,
		Description: input.Description,
		Questions:   normalizeQuestionIDs(input.Questions),
		CreatedBy:   sess.UserID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if form.Questions == nil {
		form.Questions = []store.Question{}
	}

	if err := s.store.InsertForm(ctx, form); err != nil {
		return store.Form{}, fmt.Errorf("insert form: %w", err)
	}

	s.search.IndexForm(search.FormRecord{
		ID:          form.ID,
		Title:       form.Title,
		Description: form.Description,
		CreatedBy:   form.CreatedBy,
		CreatedAt:   form.CreatedAt.Unix(),
	})
	return form, nil
}

func validateQuestions(questions []store.Question) error {
	seen := make(map[string]struct{}, len(questions))
	for _, q := range questions {
		switch q.Type {
		case store.QuestionText:
		case store.QuestionRadio, store.QuestionCheckbox:
			if len(q.Options) == 0 {
				return domainError(422, "VALIDATION_ERROR",
					fmt.Sprintf("question type %q requires options", q.Type), nil)
			}
		default:
			return domainError(422, "VALIDATION_ERROR",
				fmt.Sprintf("unknown question type %q", q.Type), nil)
		}
		if q.ID != "" {
			if _, dup := seen[q.ID]; dup {
				return domainError(422, "VALIDATION_ERROR",
					fmt.Sprintf("duplicate question id %q", q.ID), nil)
			}
			seen[q.ID] = struct{}{}
		}
	}
	return nil
}

// normalizeQuestionIDs fills blank question ids with q1, q2, ... counting
// only unnumbered questions, and never reuses an id the caller supplied.
// Question order is preserved.
func normalizeQuestionIDs(questions []store.Question) []store.Question {
	used := make(map[string]struct{}, len(questions))
	for _, q := range questions {
		if q.ID != "" {
			used[q.ID] = struct{}{}
		}
	}

	normalized := make([]store.Question, 0, len(questions))
	next := 1
	for _, q := range questions {
		if q.ID == "" {
			for {
				candidate := fmt.Sprintf("q%d", next)
				next++
				if _, taken := used[candidate]; !taken {
					q.ID = candidate
					used[candidate] = struct{}{}
					break
				}
			}
		}
		normalized = append(normalized, q)
	}
	return normalized
}

func validateFormRef(formID string) error {
	if !util.ValidID("frm", formID) {
		return domainError(400, "INVALID_REFERENCE", "Malformed form id", nil)
	}
	return nil
}

func (s *Service) GetForm(ctx context.Context, sess Session, formID string) (store.Form, error) {
	if err := s.authorize(sess, rbac.RoleAdmin, rbac.RoleSuperAdmin); err != nil {
		return store.Form{}, err
	}
	if err := validateFormRef(formID); err != nil {
		return store.Form{}, err
	}

	form, err := s.store.GetForm(ctx, formID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Form{}, domainError(404, "NOT_FOUND", "Form not found", nil)
	}
	if err != nil {
		return store.Form{}, fmt.Errorf("get form: %w", err)
	}

	if !rbac.CanAccessOwned(sess.Role, sess.UserID, form.CreatedBy) {
		return store.Form{}, domainError(403, "FORBIDDEN", "Not authorized for this form", nil)
	}
	return form, nil
}

// ListForms returns the caller's forms one page at a time, newest first.
// Super admins see every form. A non-empty search text filters by title,
// served by the search index when it is healthy and by SQL otherwise.
func (s *Service) ListForms(ctx context.Context, sess Session, page, pageSize int, searchText string) ([]store.Form, Pagination, error) {
	if err := s.authorize(sess, rbac.RoleAdmin, rbac.RoleSuperAdmin); err != nil {
		return nil, Pagination{}, err
	}

	page = clampPage(page)
	pageSize = clampPageSize(pageSize, 10, 100)

	ownerID := sess.UserID
	if sess.Role == rbac.RoleSuperAdmin {
		ownerID = ""
	}

	if searchText != "" && s.search.Enabled() {
		forms, total, err := s.searchForms(ctx, searchText, ownerID, page, pageSize)
		if err == nil {
			return forms, paginate(total, page, pageSize), nil
		}
		log.Printf("forms: indexed search failed, using sql fallback: %v", err)
	}

	forms, total, err := s.store.ListForms(ctx, store.FormFilter{
		OwnerID:       ownerID,
		TitleContains: searchText,
	}, pageSize, pageOffset(page, pageSize))
	if err != nil {
		return nil, Pagination{}, fmt.Errorf("list forms: %w", err)
	}
	return forms, paginate(total, page, pageSize), nil
}

func (s *Service) searchForms(ctx context.Context, text, ownerID string, page, pageSize int) ([]store.Form, int, error) {
	ids, total, err := s.search.Search(search.Query{
		Text:    text,
		OwnerID: ownerID,
		Limit:   pageSize,
		Offset:  pageOffset(page, pageSize),
	})
	if err != nil {
		return nil, 0, err
	}

	forms := make([]store.Form, 0, len(ids))
	for _, id := range ids {
		form, err := s.store.GetForm(ctx, id)
		if errors.Is(err, sql.ErrNoRows) {
			// index can lag a delete
			continue
		}
		if err != nil {
			return nil, 0, fmt.Errorf("get form %s: %w", id, err)
		}
		forms = append(forms, form)
	}
	return forms, total, nil
}

// DeleteResult reports what a cascade delete removed.
type DeleteResult struct {
	DeletedFormCount     int `json:"deleted_form_count"`
	DeletedResponseCount int `json:"deleted_response_count"`
}

// DeleteForm removes a form and all of its responses in one transaction.
func (s *Service) DeleteForm(ctx context.Context, sess Session, formID string) (DeleteResult, error) {
	if _, err := s.GetForm(ctx, sess, formID); err != nil {
		return DeleteResult{}, err
	}

	formCount, responseCount, err := s.store.DeleteFormCascade(ctx, formID)
	if err != nil {
		return DeleteResult{}, fmt.Errorf("delete form: %w", err)
	}
	s.search.DeleteForm(formID)

	return DeleteResult{
		DeletedFormCount:     formCount,
		DeletedResponseCount: responseCount,
	}, nil
}

// FormSummary returns a form with one page of its responses, newest first.
func (s *Service) FormSummary(ctx context.Context, sess Session, formID string, page, pageSize int) (store.Form, []store.FormResponse, Pagination, error) {
	form, err := s.GetForm(ctx, sess, formID)
	if err != nil {
		return store.Form{}, nil, Pagination{}, err
	}

	page = clampPage(page)
	pageSize = clampPageSize(pageSize, 20, 200)

	responses, total, err := s.store.ListFormResponses(ctx, formID, pageSize, pageOffset(page, pageSize))
	if err != nil {
		return store.Form{}, nil, Pagination{}, fmt.Errorf("list responses: %w", err)
	}
	return form, responses, paginate(total, page, pageSize), nil
}

// -- responses --

// SubmitResponse records a user's answers to a form. A user may submit to a
// given form at most once; the unique index is the authority and the
// pre-check only gives the friendlier early error.
func (s *Service) SubmitResponse(ctx context.Context, sess Session, formID string, answers map[string]store.Answer) (store.FormResponse, error) {
	if err := s.authorize(sess, rbac.RoleUser); err != nil {
		return store.FormResponse{}, err
	}
	if err := validateFormRef(formID); err != nil {
		return store.FormResponse{}, err
	}

	form, err := s.store.GetForm(ctx, formID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.FormResponse{}, domainError(404, "NOT_FOUND", "Form not found", nil)
	}
	if err != nil {
		return store.FormResponse{}, fmt.Errorf("get form: %w", err)
	}

	exists, err := s.store.HasUserResponse(ctx, formID, sess.UserID)
	if err != nil {
		return store.FormResponse{}, fmt.Errorf("check existing response: %w", err)
	}
	if exists {
		return store.FormResponse{}, errDuplicateSubmission()
	}

	if err := validateAnswers(form, answers); err != nil {
		return store.FormResponse{}, err
	}
	if answers == nil {
		answers = map[string]store.Answer{}
	}

	response := store.FormResponse{
		ID:          util.NewID("rsp"),
		FormID:      formID,
		UserID:      sess.UserID,
		Answers:     answers,
		SubmittedAt: time.Now().UTC(),
	}
	if err := s.store.InsertResponse(ctx, response); err != nil {
		if errors.Is(err, store.ErrDuplicateResponse) {
			return store.FormResponse{}, errDuplicateSubmission()
		}
		return store.FormResponse{}, fmt.Errorf("insert response: %w", err)
	}
	return response, nil
}

func errDuplicateSubmission() *DomainError {
	return domainError(400, "DUPLICATE_SUBMISSION", "You have already submitted a response to this form", nil)
}

// validateAnswers checks every answer against its question's schema. Keys
// are checked in sorted order so the reported failure is deterministic.
func validateAnswers(form store.Form, answers map[string]store.Answer) error {
	byID := make(map[string]store.Question, len(form.Questions))
	for _, q := range form.Questions {
		byID[q.ID] = q
	}

	ids := make([]string, 0, len(answers))
	for id := range answers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		question, ok := byID[id]
		if !ok {
			return invalidAnswer(id, fmt.Sprintf("Unknown question id: %s", id))
		}
		answer := answers[id]
		switch question.Type {
		case store.QuestionRadio:
			if answer.IsList || !containsOption(question.Options, answer.Text) {
				return invalidAnswer(id, fmt.Sprintf("Invalid option for %s", id))
			}
		case store.QuestionCheckbox:
			if !answer.IsList {
				return invalidAnswer(id, fmt.Sprintf("Invalid checkbox list for %s", id))
			}
			for _, choice := range answer.Choices {
				if !containsOption(question.Options, choice) {
					return invalidAnswer(id, fmt.Sprintf("Invalid checkbox list for %s", id))
				}
			}
		}
	}
	return nil
}

func invalidAnswer(questionID, message string) *DomainError {
	return domainError(400, "INVALID_ANSWER", message, map[string]string{"question_id": questionID})
}

func containsOption(options []string, value string) bool {
	for _, option := range options {
		if option == value {
			return true
		}
	}
	return false
}

// MyResponses returns the caller's own submissions to a form.
func (s *Service) MyResponses(ctx context.Context, sess Session, formID string) ([]store.FormResponse, error) {
	if err := s.authorize(sess, rbac.RoleUser); err != nil {
		return nil, err
	}
	if err := validateFormRef(formID); err != nil {
		return nil, err
	}

	if _, err := s.store.GetForm(ctx, formID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainError(404, "NOT_FOUND", "Form not found", nil)
		}
		return nil, fmt.Errorf("get form: %w", err)
	}

	responses, err := s.store.ListUserResponses(ctx, formID, sess.UserID)
	if err != nil {
		return nil, fmt.Errorf("list my responses: %w", err)
	}
	return responses, nil
}

// -- chat --

// botReply is the canned responder used by the users_chat and guest_chat
// namespaces.
func botReply(text string) string {
	return "Bot reply to: " + text
}

// AppendChat appends one message to the caller's personal chat log.
func (s *Service) AppendChat(ctx context.Context, sess Session, role, text string) (store.ChatMessage, error) {
	if err := s.requireIdentity(sess); err != nil {
		return store.ChatMessage{}, err
	}
	if role != store.ChatRoleUser && role != store.ChatRoleBot {
		return store.ChatMessage{}, domainError(422, "VALIDATION_ERROR",
			fmt.Sprintf("unknown chat role %q", role), nil)
	}

	message := store.ChatMessage{Role: role, Text: text, Time: time.Now().UTC()}
	if err := s.store.AppendChatMessage(ctx, store.NamespaceChat, sess.UserID, message); err != nil {
		return store.ChatMessage{}, fmt.Errorf("append chat message: %w", err)
	}
	return message, nil
}

func (s *Service) ChatHistory(ctx context.Context, sess Session) ([]store.ChatMessage, error) {
	if err := s.requireIdentity(sess); err != nil {
		return nil, err
	}
	return s.history(ctx, store.NamespaceChat, sess.UserID)
}

// UsersChatSend appends the user's message and the bot's reply to the
// users_chat log and returns the reply.
func (s *Service) UsersChatSend(ctx context.Context, sess Session, text string) (string, error) {
	if err := s.requireIdentity(sess); err != nil {
		return "", err
	}
	return s.sendAndReply(ctx, store.NamespaceUsersChat, sess.UserID, text)
}

func (s *Service) UsersChatHistory(ctx context.Context, sess Session) ([]store.ChatMessage, error) {
	if err := s.requireIdentity(sess); err != nil {
		return nil, err
	}
	return s.history(ctx, store.NamespaceUsersChat, sess.UserID)
}

// GuestChatSend is the unauthenticated variant keyed by a caller-chosen
// guest id.
func (s *Service) GuestChatSend(ctx context.Context, guestID, text string) (string, error) {
	if guestID == "" {
		return "", domainError(422, "VALIDATION_ERROR", "guest id is required", nil)
	}
	return s.sendAndReply(ctx, store.NamespaceGuestChat, guestID, text)
}

func (s *Service) GuestChatHistory(ctx context.Context, guestID string) ([]store.ChatMessage, error) {
	if guestID == "" {
		return nil, domainError(422, "VALIDATION_ERROR", "guest id is required", nil)
	}
	return s.history(ctx, store.NamespaceGuestChat, guestID)
}

func (s *Service) sendAndReply(ctx context.Context, namespace store.Namespace, identityID, text string) (string, error) {
	now := time.Now().UTC()
	userMessage := store.ChatMessage{Role: store.ChatRoleUser, Text: text, Time: now}
	if err := s.store.AppendChatMessage(ctx, namespace, identityID, userMessage); err != nil {
		return "", fmt.Errorf("append user message: %w", err)
	}

	reply := botReply(text)
	botMessage := store.ChatMessage{Role: store.ChatRoleBot, Text: reply, Time: now}
	if err := s.store.AppendChatMessage(ctx, namespace, identityID, botMessage); err != nil {
		return "", fmt.Errorf("append bot message: %w", err)
	}
	return reply, nil
}

func (s *Service) history(ctx context.Context, namespace store.Namespace, identityID string) ([]store.ChatMessage, error) {
	messages, err := s.store.ChatHistory(ctx, namespace, identityID)
	if err != nil {
		return nil, fmt.Errorf("chat history: %w", err)
	}
	return messages, nil
}

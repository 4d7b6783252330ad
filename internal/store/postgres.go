package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrEmailTaken is returned when the users email unique index rejects an insert.
	ErrEmailTaken = errors.New("email already registered")
	// ErrDuplicateResponse is the authoritative one-response-per-(form, user)
	// signal, raised by the compound unique index on form_responses.
	ErrDuplicateResponse = errors.New("response already submitted")
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" && pgErr.ConstraintName == constraint
}

// ---- users

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, mobile, gender, role)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, user.ID, user.Email, user.PasswordHash, user.Mobile, user.Gender, user.Role)
	if isUniqueViolation(err, "uq_users_email") {
		return ErrEmailTaken
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, mobile, gender, role, created_at
		FROM users
		WHERE email=$1
	`, email).Scan(&user.ID, &user.Email, &user.PasswordHash, &user.Mobile, &user.Gender, &user.Role, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, mobile, gender, role, created_at
		FROM users
		WHERE id=$1
	`, userID).Scan(&user.ID, &user.Email, &user.PasswordHash, &user.Mobile, &user.Gender, &user.Role, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, email, mobile, gender, role, created_at
		FROM users
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		var item User
		if err := rows.Scan(&item.ID, &item.Email, &item.Mobile, &item.Gender, &item.Role, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) CountUsersByRole(ctx context.Context, role string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE role=$1`, role).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count users by role: %w", err)
	}
	return count, nil
}

// ---- forms

// FormFilter narrows ListForms. An empty OwnerID means all owners; a
// non-empty TitleContains is matched as a case-insensitive substring.
type FormFilter struct {
	OwnerID       string
	TitleContains string
}

func (s *PostgresStore) InsertForm(ctx context.Context, form Form) error {
	questions, err := json.Marshal(form.Questions)
	if err != nil {
		return fmt.Errorf("marshal questions: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO forms (id, title, description, questions, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, form.ID, form.Title, form.Description, questions, form.CreatedBy, form.CreatedAt, form.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert form: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetForm(ctx context.Context, formID string) (Form, error) {
	var form Form
	var questions []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, description, questions, created_by, created_at, updated_at
		FROM forms
		WHERE id=$1
	`, formID).Scan(&form.ID, &form.Title, &form.Description, &questions, &form.CreatedBy, &form.CreatedAt, &form.UpdatedAt)
	if err != nil {
		return Form{}, err
	}
	if err := json.Unmarshal(questions, &form.Questions); err != nil {
		return Form{}, fmt.Errorf("unmarshal questions: %w", err)
	}
	return form, nil
}

func (s *PostgresStore) ListForms(ctx context.Context, filter FormFilter, limit, offset int) ([]Form, int, error) {
	where := make([]string, 0, 2)
	args := make([]any, 0, 2)
	if filter.OwnerID != "" {
		args = append(args, filter.OwnerID)
		where = append(where, fmt.Sprintf("created_by=$%d", len(args)))
	}
	if filter.TitleContains != "" {
		args = append(args, "%"+escapeLike(filter.TitleContains)+"%")
		where = append(where, fmt.Sprintf("title ILIKE $%d ESCAPE '\\'", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = "WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM forms `+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count forms: %w", err)
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(`
		SELECT id, title, description, questions, created_by, created_at, updated_at
		FROM forms %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, clause, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list forms: %w", err)
	}
	defer rows.Close()

	items := make([]Form, 0)
	for rows.Next() {
		var form Form
		var questions []byte
		if err := rows.Scan(&form.ID, &form.Title, &form.Description, &questions, &form.CreatedBy, &form.CreatedAt, &form.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan form: %w", err)
		}
		if err := json.Unmarshal(questions, &form.Questions); err != nil {
			return nil, 0, fmt.Errorf("unmarshal questions: %w", err)
		}
		items = append(items, form)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate forms: %w", err)
	}
	return items, total, nil
}

// DeleteFormCascade removes the form and every response referencing it in a
// single transaction and reports both counts.
func (s *PostgresStore) DeleteFormCascade(ctx context.Context, formID string) (int, int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("begin cascade delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM form_responses WHERE form_id=$1`, formID)
	if err != nil {
		return 0, 0, fmt.Errorf("delete responses: %w", err)
	}
	responseCount, err := res.RowsAffected()
	if err != nil {
		return 0, 0, fmt.Errorf("count deleted responses: %w", err)
	}

	res, err = tx.ExecContext(ctx, `DELETE FROM forms WHERE id=$1`, formID)
	if err != nil {
		return 0, 0, fmt.Errorf("delete form: %w", err)
	}
	formCount, err := res.RowsAffected()
	if err != nil {
		return 0, 0, fmt.Errorf("count deleted forms: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("commit cascade delete: %w", err)
	}
	return int(formCount), int(responseCount), nil
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}

// ---- form responses

func (s *PostgresStore) HasUserResponse(ctx context.Context, formID, userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM form_responses WHERE form_id=$1 AND user_id=$2)
	`, formID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check prior response: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) InsertResponse(ctx context.Context, response FormResponse) error {
	answers, err := json.Marshal(response.Answers)
	if err != nil {
		return fmt.Errorf("marshal answers: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO form_responses (id, form_id, user_id, answers, submitted_at)
		VALUES ($1, $2, $3, $4, $5)
	`, response.ID, response.FormID, response.UserID, answers, response.SubmittedAt)
	if isUniqueViolation(err, "uq_form_responses_form_user") {
		return ErrDuplicateResponse
	}
	if err != nil {
		return fmt.Errorf("insert response: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListFormResponses(ctx context.Context, formID string, limit, offset int) ([]FormResponse, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM form_responses WHERE form_id=$1`, formID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count responses: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, form_id, user_id, answers, submitted_at
		FROM form_responses
		WHERE form_id=$1
		ORDER BY submitted_at DESC
		LIMIT $2 OFFSET $3
	`, formID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list responses: %w", err)
	}
	defer rows.Close()

	items, err := scanResponses(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (s *PostgresStore) ListUserResponses(ctx context.Context, formID, userID string) ([]FormResponse, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, form_id, user_id, answers, submitted_at
		FROM form_responses
		WHERE form_id=$1 AND user_id=$2
		ORDER BY submitted_at DESC
	`, formID, userID)
	if err != nil {
		return nil, fmt.Errorf("list user responses: %w", err)
	}
	defer rows.Close()

	return scanResponses(rows)
}

func scanResponses(rows *sql.Rows) ([]FormResponse, error) {
	items := make([]FormResponse, 0)
	for rows.Next() {
		var item FormResponse
		var answers []byte
		if err := rows.Scan(&item.ID, &item.FormID, &item.UserID, &answers, &item.SubmittedAt); err != nil {
			return nil, fmt.Errorf("scan response: %w", err)
		}
		if err := json.Unmarshal(answers, &item.Answers); err != nil {
			return nil, fmt.Errorf("unmarshal answers: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate responses: %w", err)
	}
	return items, nil
}

// ---- chat logs

// AppendChatMessage appends one message to the identity's log and refreshes
// last_updated, creating the log row on first write. Both writes share one
// transaction so concurrent appends are preserved in insertion order.
func (s *PostgresStore) AppendChatMessage(ctx context.Context, namespace Namespace, identityID string, message ChatMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin chat append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO chat_logs (namespace, identity_id, last_updated)
		VALUES ($1, $2, $3)
		ON CONFLICT (namespace, identity_id) DO UPDATE SET last_updated=EXCLUDED.last_updated
	`, namespace, identityID, message.Time); err != nil {
		return fmt.Errorf("upsert chat log: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO chat_messages (namespace, identity_id, role, body, sent_at)
		VALUES ($1, $2, $3, $4, $5)
	`, namespace, identityID, message.Role, message.Text, message.Time); err != nil {
		return fmt.Errorf("insert chat message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit chat append: %w", err)
	}
	return nil
}

// ChatHistory returns the identity's messages in append order. An identity
// with no log yields an empty slice, not an error.
func (s *PostgresStore) ChatHistory(ctx context.Context, namespace Namespace, identityID string) ([]ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, body, sent_at
		FROM chat_messages
		WHERE namespace=$1 AND identity_id=$2
		ORDER BY id ASC
	`, namespace, identityID)
	if err != nil {
		return nil, fmt.Errorf("chat history: %w", err)
	}
	defer rows.Close()

	messages := make([]ChatMessage, 0)
	for rows.Next() {
		var message ChatMessage
		if err := rows.Scan(&message.Role, &message.Text, &message.Time); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		messages = append(messages, message)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat messages: %w", err)
	}
	return messages, nil
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/chaturyaganne/ai-agent/internal/domain"
	"github.com/chaturyaganne/ai-agent/internal/shared"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const (
	writeRetries   = 3
	writeBaseDelay = 50 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL for concurrent readers; foreign keys for cascading deletes.
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, now: time.Now}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		onboarding_step INTEGER NOT NULL DEFAULT 1,
		onboarding_complete INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS onboarding_responses (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
		day INTEGER NOT NULL CHECK (day BETWEEN 1 AND 7),
		question_key TEXT NOT NULL,
		question_text TEXT NOT NULL,
		answer_text TEXT NOT NULL,
		reply_text TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		UNIQUE (user_id, day)
	);

	CREATE TABLE IF NOT EXISTS conversation_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
		role TEXT NOT NULL CHECK (role IN ('user', 'assistant', 'system')),
		content TEXT NOT NULL,
		day INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_user_created ON conversation_messages(user_id, created_at, id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) write(ctx context.Context, name string, op func() error) error {
	return shared.RetryOnConflict(ctx, name, writeRetries, writeBaseDelay, op)
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

const userColumns = `user_id, username, onboarding_step, onboarding_complete, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	var user domain.User
	var createdAt, updatedAt int64
	if err := row.Scan(
		&user.UserID, &user.Username, &user.OnboardingStep,
		&user.OnboardingComplete, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	user.CreatedAt = time.Unix(0, createdAt)
	user.UpdatedAt = time.Unix(0, updatedAt)
	return &user, nil
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}
	return user, nil
}

// GetOrCreateUser returns the named user, creating it if needed.
func (s *SQLiteStore) GetOrCreateUser(ctx context.Context, username string) (*domain.User, error) {
	now := s.now().UnixNano()
	err := s.write(ctx, "create user", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO users (user_id, username, onboarding_step, onboarding_complete, created_at, updated_at)
			VALUES (?, ?, ?, 0, ?, ?)
			ON CONFLICT(username) DO NOTHING`,
			uuid.NewString(), username, domain.FirstDay, now, now,
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	user, err := s.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("user %q missing after insert", username)
	}
	return user, nil
}

// AdvanceOnboarding performs a conditional step increment.
func (s *SQLiteStore) AdvanceOnboarding(ctx context.Context, userID string, fromStep int) (*domain.User, error) {
	next := fromStep + 1
	var rows int64
	err := s.write(ctx, "advance onboarding", func() error {
		result, err := s.db.ExecContext(ctx, `
			UPDATE users SET onboarding_step = ?, onboarding_complete = ?, updated_at = ?
			WHERE user_id = ? AND onboarding_step = ? AND onboarding_step <= ?`,
			next, next > domain.FinalDay, s.now().UnixNano(), userID, fromStep, domain.FinalDay,
		)
		if err != nil {
			return err
		}
		rows, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("advance onboarding: %w", err)
	}
	if rows == 0 {
		slog.Warn("AdvanceOnboarding affected 0 rows", "user_id", userID, "from_step", fromStep)
		return nil, ErrStaleStep
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE user_id = ?`, userID)
	user, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("reload user: %w", err)
	}
	return user, nil
}

// DeleteUser removes a user; responses and messages cascade.
func (s *SQLiteStore) DeleteUser(ctx context.Context, userID string) error {
	var rows int64
	err := s.write(ctx, "delete user", func() error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE user_id = ?`, userID)
		if err != nil {
			return err
		}
		rows, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveOnboardingResponse stores the day's answer according to overwrite.
func (s *SQLiteStore) SaveOnboardingResponse(ctx context.Context, resp *domain.OnboardingResponse, overwrite bool) (bool, error) {
	query := `
		INSERT INTO onboarding_responses (
			user_id, day, question_key, question_text, answer_text, reply_text, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	if overwrite {
		query += `
		ON CONFLICT(user_id, day) DO UPDATE SET
			question_key = excluded.question_key,
			question_text = excluded.question_text,
			answer_text = excluded.answer_text,
			reply_text = excluded.reply_text,
			updated_at = excluded.updated_at`
	} else {
		query += ` ON CONFLICT(user_id, day) DO NOTHING`
	}

	now := s.now().UnixNano()
	var rows int64
	err := s.write(ctx, "save onboarding response", func() error {
		result, err := s.db.ExecContext(ctx, query,
			resp.UserID, resp.Day, resp.QuestionKey, resp.QuestionText,
			resp.AnswerText, resp.ReplyText, now, now,
		)
		if err != nil {
			return err
		}
		rows, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("save onboarding response: %w", err)
	}

	stored, err := s.GetOnboardingResponse(ctx, resp.UserID, resp.Day)
	if err != nil {
		return false, err
	}
	if stored != nil {
		*resp = *stored
	}
	return rows > 0, nil
}

// AttachOnboardingReply sets the reply text for a day's response.
func (s *SQLiteStore) AttachOnboardingReply(ctx context.Context, userID string, day int, reply string) error {
	var rows int64
	err := s.write(ctx, "attach onboarding reply", func() error {
		result, err := s.db.ExecContext(ctx, `
			UPDATE onboarding_responses SET reply_text = ?, updated_at = ?
			WHERE user_id = ? AND day = ?`,
			reply, s.now().UnixNano(), userID, day,
		)
		if err != nil {
			return err
		}
		rows, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("attach onboarding reply: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

const responseColumns = `id, user_id, day, question_key, question_text, answer_text, reply_text, created_at, updated_at`

func scanResponse(row rowScanner) (*domain.OnboardingResponse, error) {
	var r domain.OnboardingResponse
	var createdAt, updatedAt int64
	if err := row.Scan(
		&r.ID, &r.UserID, &r.Day, &r.QuestionKey, &r.QuestionText,
		&r.AnswerText, &r.ReplyText, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	r.CreatedAt = time.Unix(0, createdAt)
	r.UpdatedAt = time.Unix(0, updatedAt)
	return &r, nil
}

// GetOnboardingResponse retrieves the response for a single day.
func (s *SQLiteStore) GetOnboardingResponse(ctx context.Context, userID string, day int) (*domain.OnboardingResponse, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+responseColumns+` FROM onboarding_responses WHERE user_id = ? AND day = ?`,
		userID, day,
	)
	r, err := scanResponse(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan onboarding response: %w", err)
	}
	return r, nil
}

// ListOnboardingResponses returns every response for a user ordered by day.
func (s *SQLiteStore) ListOnboardingResponses(ctx context.Context, userID string) ([]*domain.OnboardingResponse, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+responseColumns+` FROM onboarding_responses WHERE user_id = ? ORDER BY day`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query onboarding responses: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close onboarding response rows", "error", closeErr)
		}
	}()

	var out []*domain.OnboardingResponse
	for rows.Next() {
		r, err := scanResponse(rows)
		if err != nil {
			return nil, fmt.Errorf("scan onboarding response: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate onboarding responses: %w", err)
	}
	return out, nil
}

// AppendMessage appends a message and fills in its ID and timestamp.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *domain.ConversationMessage) error {
	if !msg.Role.Valid() {
		return fmt.Errorf("invalid message role %q", msg.Role)
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}

	err := s.write(ctx, "append message", func() error {
		result, err := s.db.ExecContext(ctx, `
			INSERT INTO conversation_messages (user_id, role, content, day, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			msg.UserID, string(msg.Role), msg.Content, msg.Day, msg.CreatedAt.UnixNano(),
		)
		if err != nil {
			return err
		}
		msg.ID, err = result.LastInsertId()
		return err
	})
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

const messageColumns = `id, user_id, role, content, day, created_at`

func (s *SQLiteStore) queryMessages(ctx context.Context, query string, args ...any) ([]*domain.ConversationMessage, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	var out []*domain.ConversationMessage
	for rows.Next() {
		var m domain.ConversationMessage
		var role string
		var createdAt int64
		if err := rows.Scan(&m.ID, &m.UserID, &role, &m.Content, &m.Day, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		m.Role = domain.Role(role)
		m.CreatedAt = time.Unix(0, createdAt)
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

// ListMessages returns the full log ordered by creation time, ties broken by insertion order.
func (s *SQLiteStore) ListMessages(ctx context.Context, userID string) ([]*domain.ConversationMessage, error) {
	return s.queryMessages(ctx,
		`SELECT `+messageColumns+` FROM conversation_messages WHERE user_id = ? ORDER BY created_at, id`,
		userID,
	)
}

// RecentMessages returns the newest limit user and assistant messages, oldest
// first. System notes are excluded.
func (s *SQLiteStore) RecentMessages(ctx context.Context, userID string, limit int) ([]*domain.ConversationMessage, error) {
	if limit <= 0 {
		return nil, nil
	}
	return s.queryMessages(ctx, `
		SELECT `+messageColumns+` FROM (
			SELECT `+messageColumns+` FROM conversation_messages
			WHERE user_id = ? AND role != ?
			ORDER BY created_at DESC, id DESC LIMIT ?
		) ORDER BY created_at, id`,
		userID, string(domain.RoleSystem), limit,
	)
}

// LastMessageAt returns the newest message timestamp for a user.
func (s *SQLiteStore) LastMessageAt(ctx context.Context, userID string) (*time.Time, error) {
	var ts sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(created_at) FROM conversation_messages WHERE user_id = ?`, userID,
	).Scan(&ts)
	if err != nil {
		return nil, fmt.Errorf("query last message: %w", err)
	}
	if !ts.Valid {
		return nil, nil
	}
	t := time.Unix(0, ts.Int64)
	return &t, nil
}

// Ensure SQLiteStore implements Repository.
var _ Repository = (*SQLiteStore)(nil)

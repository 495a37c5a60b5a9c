package persistence

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// SQLiteStore is the durable gateway for users, completed transcriptions and
// the fingerprint-keyed transcription cache.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	// Bootstrap schema_migrations table so we can track applied versions.
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if exists > 0 {
			continue
		}
		content, err := migrationFiles.ReadFile(filepath.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the leading integer from a migration filename (e.g. "001_init.sql" → 1).
func migrationVersion(name string) int {
	for i, c := range name {
		if c < '0' || c > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

// SaveTranscription inserts a completed transcription and returns the stored
// record. A missing id or timestamp is generated here.
func (s *SQLiteStore) SaveTranscription(ctx context.Context, tr *Transcription) (*Transcription, error) {
	if tr == nil {
		return nil, fmt.Errorf("transcription is nil")
	}
	stored := *tr
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO transcriptions (
			id, job_id, user_id, file_name, raw_text, corrected_text, identified_text, fingerprint, language, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		stored.ID,
		stored.JobID,
		stored.UserID,
		stored.FileName,
		stored.RawText,
		stored.CorrectedText,
		stored.IdentifiedText,
		stored.Fingerprint,
		stored.Language,
		stored.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

const transcriptionColumns = `id, job_id, user_id, file_name, raw_text, corrected_text, identified_text, fingerprint, language, created_at`

func scanTranscription(row interface{ Scan(...any) error }) (*Transcription, error) {
	var tr Transcription
	err := row.Scan(
		&tr.ID,
		&tr.JobID,
		&tr.UserID,
		&tr.FileName,
		&tr.RawText,
		&tr.CorrectedText,
		&tr.IdentifiedText,
		&tr.Fingerprint,
		&tr.Language,
		&tr.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &tr, nil
}

// FindByJobAndUser returns the transcription stored for a job, scoped to the
// owning user. ErrNotFound when no record matches.
func (s *SQLiteStore) FindByJobAndUser(ctx context.Context, jobID, userID string) (*Transcription, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+transcriptionColumns+` FROM transcriptions WHERE job_id = ? AND user_id = ?`,
		jobID,
		userID,
	)
	tr, err := scanTranscription(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: transcription for job %s", ErrNotFound, jobID)
		}
		return nil, err
	}
	return tr, nil
}

// UpdateTranscription applies the non-nil patch fields and returns the
// updated record. Absent fields are preserved.
func (s *SQLiteStore) UpdateTranscription(ctx context.Context, id string, patch TranscriptionPatch) (*Transcription, error) {
	if !patch.Empty() {
		sets := make([]string, 0, 3)
		args := make([]any, 0, 4)
		if patch.RawText != nil {
			sets = append(sets, "raw_text = ?")
			args = append(args, *patch.RawText)
		}
		if patch.CorrectedText != nil {
			sets = append(sets, "corrected_text = ?")
			args = append(args, *patch.CorrectedText)
		}
		if patch.IdentifiedText != nil {
			sets = append(sets, "identified_text = ?")
			args = append(args, *patch.IdentifiedText)
		}
		args = append(args, id)

		res, err := s.db.ExecContext(
			ctx,
			`UPDATE transcriptions SET `+strings.Join(sets, ", ")+` WHERE id = ?`,
			args...,
		)
		if err != nil {
			return nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			return nil, fmt.Errorf("%w: transcription %s", ErrNotFound, id)
		}
	}

	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+transcriptionColumns+` FROM transcriptions WHERE id = ?`,
		id,
	)
	tr, err := scanTranscription(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: transcription %s", ErrNotFound, id)
		}
		return nil, err
	}
	return tr, nil
}

// ListRecentForUser returns up to limit transcriptions for a user, most
// recent first.
func (s *SQLiteStore) ListRecentForUser(ctx context.Context, userID string, limit int) ([]*Transcription, error) {
	if limit < 1 {
		limit = 1
	}
	if limit > 100 {
		limit = 100
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+transcriptionColumns+` FROM transcriptions
		 WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		userID,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]*Transcription, 0)
	for rows.Next() {
		tr, err := scanTranscription(rows)
		if err != nil {
			return nil, err
		}
		ret = append(ret, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

// PutCachedTranscription stores a transcription under its content
// fingerprint. Re-storing the same fingerprint overwrites.
func (s *SQLiteStore) PutCachedTranscription(ctx context.Context, fp string, tr *Transcription) error {
	if tr == nil {
		return fmt.Errorf("transcription is nil")
	}
	payload, err := json.Marshal(tr)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO transcription_cache (fingerprint, payload_json, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(fingerprint) DO UPDATE SET
			payload_json=excluded.payload_json,
			updated_at=excluded.updated_at`,
		fp,
		string(payload),
		time.Now().UTC(),
	)
	return err
}

// GetCachedTranscription returns the cached transcription for a fingerprint,
// or false when the fingerprint was never stored.
func (s *SQLiteStore) GetCachedTranscription(ctx context.Context, fp string) (*Transcription, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT payload_json FROM transcription_cache WHERE fingerprint = ?`,
		fp,
	)
	var payloadJSON string
	if err := row.Scan(&payloadJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	var tr Transcription
	if err := json.Unmarshal([]byte(payloadJSON), &tr); err != nil {
		return nil, false, err
	}
	return &tr, true, nil
}

// CreateUser inserts a user, generating id and timestamp when missing.
func (s *SQLiteStore) CreateUser(ctx context.Context, u *User) (*User, error) {
	if u == nil {
		return nil, fmt.Errorf("user is nil")
	}
	stored := *u
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.Role == "" {
		stored.Role = RoleUser
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO users (id, email, role, api_token, created_at) VALUES (?, ?, ?, ?, ?)`,
		stored.ID,
		stored.Email,
		string(stored.Role),
		stored.APIToken,
		stored.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

// GetUserByToken resolves a user from an API token. ErrNotFound on unknown
// tokens.
func (s *SQLiteStore) GetUserByToken(ctx context.Context, token string) (*User, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, email, role, api_token, created_at FROM users WHERE api_token = ?`,
		token,
	)
	var u User
	var role string
	if err := row.Scan(&u.ID, &u.Email, &role, &u.APIToken, &u.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: user", ErrNotFound)
		}
		return nil, err
	}
	u.Role = Role(role)
	return &u, nil
}

// ListUsers returns all users ordered by creation time.
func (s *SQLiteStore) ListUsers(ctx context.Context) ([]*User, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, email, role, api_token, created_at FROM users ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]*User, 0)
	for rows.Next() {
		var u User
		var role string
		if err := rows.Scan(&u.ID, &u.Email, &role, &u.APIToken, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.Role = Role(role)
		ret = append(ret, &u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

// EnsureUser creates the user for token if it does not exist yet, updating
// the role when it does. Used at boot to seed the admin account.
func (s *SQLiteStore) EnsureUser(ctx context.Context, email string, role Role, token string) (*User, error) {
	existing, err := s.GetUserByToken(ctx, token)
	if err == nil {
		if existing.Role == role {
			return existing, nil
		}
		if _, err := s.db.ExecContext(ctx, `UPDATE users SET role = ? WHERE id = ?`, string(role), existing.ID); err != nil {
			return nil, err
		}
		existing.Role = role
		return existing, nil
	}
	return s.CreateUser(ctx, &User{Email: email, Role: role, APIToken: token})
}

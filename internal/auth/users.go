package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/OFFIS-RIT/insight/backend/pkg/common"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgx.Row
}

// PgxUserStore keeps users in the users table.
type PgxUserStore struct {
	conn pgxIConn
}

func NewPgxUserStore(conn pgxIConn) *PgxUserStore {
	return &PgxUserStore{conn: conn}
}

const insertUserSQL = `
INSERT INTO users (id, email, name, role, password_hash, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`

const selectUserSQL = `
SELECT id, email, name, role, password_hash, created_at,
       COALESCE(api_key_hash, ''), api_key_hint, api_key_expires_at
FROM users`

const updatePasswordSQL = `
UPDATE users SET password_hash = $2 WHERE id = $1`

const setAPIKeySQL = `
UPDATE users
SET api_key_hash = NULLIF($2, ''), api_key_hint = $3, api_key_expires_at = $4
WHERE id = $1`

func (s *PgxUserStore) CreateUser(ctx context.Context, user common.User) (common.User, error) {
	_, err := s.conn.Exec(ctx, insertUserSQL,
		user.ID, user.Email, user.Name, user.Role, user.PasswordHash, user.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return common.User{}, ErrEmailTaken
		}
		return common.User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PgxUserStore) GetUser(ctx context.Context, id string) (common.User, error) {
	return s.scan(s.conn.QueryRow(ctx, selectUserSQL+` WHERE id = $1`, id))
}

func (s *PgxUserStore) GetUserByEmail(ctx context.Context, email string) (common.User, error) {
	return s.scan(s.conn.QueryRow(ctx, selectUserSQL+` WHERE email = $1`, email))
}

func (s *PgxUserStore) GetUserByAPIKey(ctx context.Context, keyHash string) (common.User, error) {
	return s.scan(s.conn.QueryRow(ctx, selectUserSQL+` WHERE api_key_hash = $1`, keyHash))
}

func (s *PgxUserStore) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	tag, err := s.conn.Exec(ctx, updatePasswordSQL, id, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: user", common.ErrNotFound)
	}
	return nil
}

func (s *PgxUserStore) SetAPIKey(ctx context.Context, id, keyHash, hint string, expiresAt *time.Time) error {
	tag, err := s.conn.Exec(ctx, setAPIKeySQL, id, keyHash, hint, expiresAt)
	if err != nil {
		return fmt.Errorf("set api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: user", common.ErrNotFound)
	}
	return nil
}

func (s *PgxUserStore) scan(row pgx.Row) (common.User, error) {
	var u common.User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.PasswordHash, &u.CreatedAt,
		&u.APIKeyHash, &u.APIKeyHint, &u.APIKeyExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return common.User{}, fmt.Errorf("%w: user", common.ErrNotFound)
	}
	if err != nil {
		return common.User{}, fmt.Errorf("select user: %w", err)
	}
	return u, nil
}

// MemoryUserStore keeps users in process. It backs the memory graph
// backend and tests.
type MemoryUserStore struct {
	mu       sync.RWMutex
	byID     map[string]common.User
	byEmail  map[string]string
	byAPIKey map[string]string
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{
		byID:     map[string]common.User{},
		byEmail:  map[string]string{},
		byAPIKey: map[string]string{},
	}
}

func (s *MemoryUserStore) CreateUser(ctx context.Context, user common.User) (common.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[user.Email]; ok {
		return common.User{}, ErrEmailTaken
	}
	s.byID[user.ID] = user
	s.byEmail[user.Email] = user.ID
	return user, nil
}

func (s *MemoryUserStore) GetUser(ctx context.Context, id string) (common.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[id]
	if !ok {
		return common.User{}, fmt.Errorf("%w: user", common.ErrNotFound)
	}
	return u, nil
}

func (s *MemoryUserStore) GetUserByEmail(ctx context.Context, email string) (common.User, error) {
	s.mu.RLock()
	id, ok := s.byEmail[email]
	s.mu.RUnlock()
	if !ok {
		return common.User{}, fmt.Errorf("%w: user", common.ErrNotFound)
	}
	return s.GetUser(ctx, id)
}

func (s *MemoryUserStore) GetUserByAPIKey(ctx context.Context, keyHash string) (common.User, error) {
	s.mu.RLock()
	id, ok := s.byAPIKey[keyHash]
	s.mu.RUnlock()
	if !ok {
		return common.User{}, fmt.Errorf("%w: user", common.ErrNotFound)
	}
	return s.GetUser(ctx, id)
}

func (s *MemoryUserStore) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("%w: user", common.ErrNotFound)
	}
	u.PasswordHash = passwordHash
	s.byID[id] = u
	return nil
}

func (s *MemoryUserStore) SetAPIKey(ctx context.Context, id, keyHash, hint string, expiresAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("%w: user", common.ErrNotFound)
	}
	if u.APIKeyHash != "" {
		delete(s.byAPIKey, u.APIKeyHash)
	}
	u.APIKeyHash, u.APIKeyHint, u.APIKeyExpiresAt = keyHash, hint, expiresAt
	if keyHash != "" {
		s.byAPIKey[keyHash] = id
	}
	s.byID[id] = u
	return nil
}

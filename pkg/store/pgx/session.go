package pgx

import (
	"context"
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/insight/backend/internal/util"
	"github.com/OFFIS-RIT/insight/backend/pkg/common"
	"github.com/OFFIS-RIT/insight/backend/pkg/logger"

	"github.com/google/uuid"
	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const sessionColumns = `id, user_id, title, transcript, session_date, status, failure_reason,
    audio_key, created_at, updated_at, analyzed_at`

func scanSession(row pgxv5.Row) (common.Session, error) {
	var sess common.Session
	var status string
	err := row.Scan(
		&sess.ID,
		&sess.UserID,
		&sess.Title,
		&sess.Transcript,
		&sess.SessionDate,
		&status,
		&sess.FailureReason,
		&sess.AudioKey,
		&sess.CreatedAt,
		&sess.UpdatedAt,
		&sess.AnalyzedAt,
	)
	sess.Status = common.SessionStatus(status)
	return sess, err
}

func notFound(err error, sessionID string) error {
	if errors.Is(err, pgxv5.ErrNoRows) {
		return fmt.Errorf("session %s: %w", sessionID, common.ErrNotFound)
	}
	return err
}

type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// relink rebuilds the NEXT_SESSION chain of a user.
func relink(ctx context.Context, q execer, userID string) error {
	_, err := q.Exec(ctx, relinkSQL, userID)
	return err
}

func (s *GraphDBStorage) CreateSession(ctx context.Context, session common.Session) (common.Session, error) {
	if session.UserID == "" {
		return common.Session{}, fmt.Errorf("%w: session without user", common.ErrInvalidInput)
	}
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	now := s.now().UTC()
	if session.SessionDate.IsZero() {
		session.SessionDate = now
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return common.Session{}, err
	}
	defer tx.Rollback(ctx)

	out, err := scanSession(tx.QueryRow(ctx, insertSessionSQL,
		session.ID,
		session.UserID,
		util.SanitizePostgresText(session.Title),
		util.SanitizePostgresText(session.Transcript),
		session.SessionDate,
		session.AudioKey,
		now,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return common.Session{}, fmt.Errorf("%w: session %s already exists", common.ErrInvalidInput, session.ID)
		}
		return common.Session{}, err
	}
	if err := relink(ctx, tx, session.UserID); err != nil {
		return common.Session{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return common.Session{}, err
	}
	return out, nil
}

func (s *GraphDBStorage) GetSession(ctx context.Context, userID, sessionID string) (common.Session, error) {
	sess, err := scanSession(s.conn.QueryRow(ctx, getSessionSQL, sessionID, userID))
	if err != nil {
		return common.Session{}, notFound(err, sessionID)
	}
	return sess, nil
}

func (s *GraphDBStorage) ListSessions(ctx context.Context, userID string) ([]common.Session, error) {
	rows, err := s.conn.Query(ctx, listSessionsSQL, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []common.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *GraphDBStorage) DeleteSession(ctx context.Context, userID, sessionID string) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var id string
	if err := tx.QueryRow(ctx, lockSessionSQL, sessionID, userID).Scan(&id, new(string)); err != nil {
		return notFound(err, sessionID)
	}

	for _, stmt := range []string{
		decrementOccurrencesSQL,
		deleteSessionSQL,
	} {
		if _, err := tx.Exec(ctx, stmt, sessionID); err != nil {
			return err
		}
	}
	removed, err := tx.Exec(ctx, deleteOrphanElementsSQL, userID)
	if err != nil {
		return err
	}
	topics, err := tx.Exec(ctx, deleteOrphanTopicsSQL, userID)
	if err != nil {
		return err
	}
	if err := relink(ctx, tx, userID); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	logger.Debug("[Postgres] Deleted session",
		"session_id", sessionID,
		"orphan_elements", removed.RowsAffected(),
		"orphan_topics", topics.RowsAffected(),
	)
	return nil
}

func (s *GraphDBStorage) UpdateSessionStatus(
	ctx context.Context,
	userID, sessionID string,
	status common.SessionStatus,
	reason string,
) error {
	tag, err := s.conn.Exec(ctx, updateStatusSQL, sessionID, userID, string(status), reason, s.now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %s: %w", sessionID, common.ErrNotFound)
	}
	return nil
}

func (s *GraphDBStorage) UpdateSessionContent(
	ctx context.Context,
	userID, sessionID, title, transcript string,
) (common.Session, error) {
	sess, err := scanSession(s.conn.QueryRow(ctx, updateContentSQL,
		sessionID,
		userID,
		util.SanitizePostgresText(title),
		util.SanitizePostgresText(transcript),
		s.now().UTC(),
	))
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, pgxv5.ErrNoRows) {
		return common.Session{}, err
	}
	if _, err := s.GetSession(ctx, userID, sessionID); err != nil {
		return common.Session{}, err
	}
	return common.Session{}, common.ErrSessionLocked
}

func (s *GraphDBStorage) SetSessionAudio(ctx context.Context, userID, sessionID, audioKey string) error {
	tag, err := s.conn.Exec(ctx, setAudioSQL, sessionID, userID, audioKey, s.now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %s: %w", sessionID, common.ErrNotFound)
	}
	return nil
}

const insertSessionSQL = `
INSERT INTO sessions (id, user_id, title, transcript, session_date, status, audio_key, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, 'created', $6, $7, $7)
RETURNING ` + sessionColumns + `;
`

const getSessionSQL = `
SELECT ` + sessionColumns + `
FROM sessions
WHERE id = $1 AND user_id = $2;
`

const listSessionsSQL = `
SELECT ` + sessionColumns + `
FROM sessions
WHERE user_id = $1
ORDER BY session_date, created_at, id;
`

const lockSessionSQL = `
SELECT id, status
FROM sessions
WHERE id = $1 AND user_id = $2
FOR UPDATE;
`

const relinkSQL = `
UPDATE sessions s
SET next_session_id = chain.next_id
FROM (
    SELECT id, LEAD(id) OVER (ORDER BY session_date, created_at, id) AS next_id
    FROM sessions
    WHERE user_id = $1
) chain
WHERE s.id = chain.id
  AND s.next_session_id IS DISTINCT FROM chain.next_id;
`

const decrementOccurrencesSQL = `
UPDATE elements
SET occurrences = occurrences - 1
WHERE id IN (SELECT element_id FROM session_elements WHERE session_id = $1);
`

const deleteSessionSQL = `
DELETE FROM sessions WHERE id = $1;
`

const deleteOrphanElementsSQL = `
DELETE FROM elements WHERE user_id = $1 AND occurrences <= 0;
`

const deleteOrphanTopicsSQL = `
DELETE FROM topics t
WHERE t.user_id = $1
  AND NOT EXISTS (SELECT 1 FROM element_topics et WHERE et.topic_id = t.id);
`

const updateStatusSQL = `
UPDATE sessions
SET status = $3, failure_reason = $4, updated_at = $5
WHERE id = $1 AND user_id = $2;
`

const updateContentSQL = `
UPDATE sessions
SET title      = COALESCE(NULLIF($3, ''), title),
    transcript = COALESCE(NULLIF($4, ''), transcript),
    updated_at = $5
WHERE id = $1 AND user_id = $2 AND status <> 'analyzed'
RETURNING ` + sessionColumns + `;
`

const setAudioSQL = `
UPDATE sessions
SET audio_key = $3, updated_at = $4
WHERE id = $1 AND user_id = $2;
`

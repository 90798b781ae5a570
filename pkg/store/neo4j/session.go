package neo4j

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/insight/backend/pkg/common"
	"github.com/OFFIS-RIT/insight/backend/pkg/logger"

	"github.com/google/uuid"
	neo4jdrv "github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

func sessionNotFound(sessionID string) error {
	return fmt.Errorf("session %s: %w", sessionID, common.ErrNotFound)
}

// matchSession loads a session node inside tx.
func matchSession(ctx context.Context, tx neo4jdrv.ManagedTransaction, userID, sessionID string) (common.Session, error) {
	records, err := collect(ctx, tx, `
MATCH (s:Session {id: $session_id, user_id: $user_id})
RETURN s
`, map[string]any{"session_id": sessionID, "user_id": userID})
	if err != nil {
		return common.Session{}, err
	}
	if len(records) == 0 {
		return common.Session{}, sessionNotFound(sessionID)
	}
	v, _ := records[0].Get("s")
	node, ok := v.(neo4jdrv.Node)
	if !ok {
		return common.Session{}, fmt.Errorf("neo4j: unexpected session value %T", v)
	}
	return toSession(node), nil
}

// relink rebuilds the NEXT_SESSION chain of a user by session date.
func relink(ctx context.Context, tx neo4jdrv.ManagedTransaction, userID string) error {
	params := map[string]any{"user_id": userID}
	if _, err := run(ctx, tx, `
MATCH (:Session {user_id: $user_id})-[r:NEXT_SESSION]->(:Session)
DELETE r
`, params); err != nil {
		return err
	}
	_, err := run(ctx, tx, `
MATCH (s:Session {user_id: $user_id})
WITH s ORDER BY s.session_date, s.created_at, s.id
WITH collect(s) AS chain
UNWIND range(0, size(chain) - 2) AS i
WITH chain[i] AS a, chain[i + 1] AS b
MERGE (a)-[:NEXT_SESSION]->(b)
`, params)
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
	session.Status = common.StatusCreated
	session.CreatedAt = now
	session.UpdatedAt = now

	_, err := s.write(ctx, func(tx neo4jdrv.ManagedTransaction) (any, error) {
		summary, err := run(ctx, tx, `
MERGE (s:Session {id: $id})
ON CREATE SET s.user_id = $user_id,
              s.title = $title,
              s.transcript = $transcript,
              s.session_date = $session_date,
              s.status = $status,
              s.failure_reason = '',
              s.audio_key = $audio_key,
              s.created_at = $now,
              s.updated_at = $now
`, map[string]any{
			"id":           session.ID,
			"user_id":      session.UserID,
			"title":        session.Title,
			"transcript":   session.Transcript,
			"session_date": session.SessionDate.UTC(),
			"status":       string(common.StatusCreated),
			"audio_key":    session.AudioKey,
			"now":          now,
		})
		if err != nil {
			return nil, err
		}
		if summary.Counters().NodesCreated() == 0 {
			return nil, fmt.Errorf("%w: session %s already exists", common.ErrInvalidInput, session.ID)
		}
		return nil, relink(ctx, tx, session.UserID)
	})
	if err != nil {
		return common.Session{}, err
	}
	return session, nil
}

func (s *GraphDBStorage) GetSession(ctx context.Context, userID, sessionID string) (common.Session, error) {
	out, err := s.read(ctx, func(tx neo4jdrv.ManagedTransaction) (any, error) {
		return matchSession(ctx, tx, userID, sessionID)
	})
	if err != nil {
		return common.Session{}, err
	}
	return out.(common.Session), nil
}

func (s *GraphDBStorage) ListSessions(ctx context.Context, userID string) ([]common.Session, error) {
	out, err := s.read(ctx, func(tx neo4jdrv.ManagedTransaction) (any, error) {
		records, err := collect(ctx, tx, `
MATCH (s:Session {user_id: $user_id})
RETURN s
ORDER BY s.session_date, s.created_at, s.id
`, map[string]any{"user_id": userID})
		if err != nil {
			return nil, err
		}
		sessions := make([]common.Session, 0, len(records))
		for _, rec := range records {
			v, _ := rec.Get("s")
			if node, ok := v.(neo4jdrv.Node); ok {
				sessions = append(sessions, toSession(node))
			}
		}
		return sessions, nil
	})
	if err != nil {
		return nil, err
	}
	return out.([]common.Session), nil
}

func (s *GraphDBStorage) DeleteSession(ctx context.Context, userID, sessionID string) error {
	_, err := s.write(ctx, func(tx neo4jdrv.ManagedTransaction) (any, error) {
		if _, err := matchSession(ctx, tx, userID, sessionID); err != nil {
			return nil, err
		}
		params := map[string]any{
			"session_id": sessionID,
			"user_id":    userID,
			"labels":     labels(),
		}
		if _, err := run(ctx, tx, `
MATCH (s:Session {id: $session_id})-[h]->(e)
WHERE type(h) STARTS WITH 'HAS_'
SET e.occurrences = e.occurrences - 1
`, params); err != nil {
			return nil, err
		}
		if _, err := run(ctx, tx, `
MATCH (s:Session {id: $session_id})
DETACH DELETE s
`, params); err != nil {
			return nil, err
		}
		elements, err := run(ctx, tx, `
MATCH (e {user_id: $user_id})
WHERE any(l IN labels(e) WHERE l IN $labels) AND e.occurrences <= 0
DETACH DELETE e
`, params)
		if err != nil {
			return nil, err
		}
		topics, err := run(ctx, tx, `
MATCH (t:Topic {user_id: $user_id})
WHERE NOT ()-[:RELATED_TO]->(t)
DELETE t
`, params)
		if err != nil {
			return nil, err
		}
		logger.Debug("[Neo4j] Deleted session",
			"session_id", sessionID,
			"orphan_elements", elements.Counters().NodesDeleted(),
			"orphan_topics", topics.Counters().NodesDeleted(),
		)
		return nil, relink(ctx, tx, userID)
	})
	return err
}

func (s *GraphDBStorage) UpdateSessionStatus(
	ctx context.Context,
	userID, sessionID string,
	status common.SessionStatus,
	reason string,
) error {
	_, err := s.write(ctx, func(tx neo4jdrv.ManagedTransaction) (any, error) {
		summary, err := run(ctx, tx, `
MATCH (s:Session {id: $session_id, user_id: $user_id})
SET s.status = $status, s.failure_reason = $reason, s.updated_at = $now
`, map[string]any{
			"session_id": sessionID,
			"user_id":    userID,
			"status":     string(status),
			"reason":     reason,
			"now":        s.now().UTC(),
		})
		if err != nil {
			return nil, err
		}
		if summary.Counters().PropertiesSet() == 0 {
			return nil, sessionNotFound(sessionID)
		}
		return nil, nil
	})
	return err
}

func (s *GraphDBStorage) UpdateSessionContent(
	ctx context.Context,
	userID, sessionID, title, transcript string,
) (common.Session, error) {
	out, err := s.write(ctx, func(tx neo4jdrv.ManagedTransaction) (any, error) {
		sess, err := matchSession(ctx, tx, userID, sessionID)
		if err != nil {
			return nil, err
		}
		if sess.Status == common.StatusAnalyzed {
			return nil, common.ErrSessionLocked
		}
		if title != "" {
			sess.Title = title
		}
		if transcript != "" {
			sess.Transcript = transcript
		}
		sess.UpdatedAt = s.now().UTC()
		_, err = run(ctx, tx, `
MATCH (s:Session {id: $session_id, user_id: $user_id})
SET s.title = $title, s.transcript = $transcript, s.updated_at = $now
`, map[string]any{
			"session_id": sessionID,
			"user_id":    userID,
			"title":      sess.Title,
			"transcript": sess.Transcript,
			"now":        sess.UpdatedAt,
		})
		return sess, err
	})
	if err != nil {
		return common.Session{}, err
	}
	return out.(common.Session), nil
}

func (s *GraphDBStorage) SetSessionAudio(ctx context.Context, userID, sessionID, audioKey string) error {
	_, err := s.write(ctx, func(tx neo4jdrv.ManagedTransaction) (any, error) {
		if _, err := matchSession(ctx, tx, userID, sessionID); err != nil {
			return nil, err
		}
		return run(ctx, tx, `
MATCH (s:Session {id: $session_id, user_id: $user_id})
SET s.audio_key = $audio_key, s.updated_at = $now
`, map[string]any{
			"session_id": sessionID,
			"user_id":    userID,
			"audio_key":  audioKey,
			"now":        s.now().UTC(),
		})
	})
	return err
}

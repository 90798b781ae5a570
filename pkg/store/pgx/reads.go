package pgx

import (
	"context"
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/insight/backend/pkg/common"

	pgxv5 "github.com/jackc/pgx/v5"
)

type occurrenceRow struct {
	sessionID string
	occ       common.ElementOccurrence
}

func scanOccurrences(rows pgxv5.Rows) ([]occurrenceRow, error) {
	defer rows.Close()

	var out []occurrenceRow
	for rows.Next() {
		var r occurrenceRow
		var kind string
		if err := rows.Scan(
			&r.sessionID,
			&kind,
			&r.occ.ElementID,
			&r.occ.Name,
			&r.occ.Context,
			&r.occ.Confidence,
			&r.occ.Strength,
			&r.occ.Timestamp,
			&r.occ.AnalyzedAt,
			&r.occ.Topics,
			&r.occ.Properties,
		); err != nil {
			return nil, err
		}
		r.occ.Kind = common.ElementKind(kind)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *GraphDBStorage) GetSessionAnalysis(ctx context.Context, userID, sessionID string) ([]common.ElementOccurrence, error) {
	if _, err := s.GetSession(ctx, userID, sessionID); err != nil {
		return nil, err
	}

	rows, err := s.conn.Query(ctx, sessionOccurrencesSQL, sessionID, kindOrder())
	if err != nil {
		return nil, err
	}
	scanned, err := scanOccurrences(rows)
	if err != nil {
		return nil, err
	}

	out := make([]common.ElementOccurrence, len(scanned))
	for i, r := range scanned {
		out[i] = r.occ
	}
	return out, nil
}

func (s *GraphDBStorage) GetUserTimeline(ctx context.Context, userID string) ([]common.TimelineSession, error) {
	sessions, err := s.ListSessions(ctx, userID)
	if err != nil {
		return nil, err
	}

	rows, err := s.conn.Query(ctx, userOccurrencesSQL, userID, kindOrder())
	if err != nil {
		return nil, err
	}
	scanned, err := scanOccurrences(rows)
	if err != nil {
		return nil, err
	}
	bySession := make(map[string][]common.ElementOccurrence)
	for _, r := range scanned {
		bySession[r.sessionID] = append(bySession[r.sessionID], r.occ)
	}

	var out []common.TimelineSession
	for _, sess := range sessions {
		if sess.Status != common.StatusAnalyzed {
			continue
		}
		out = append(out, common.TimelineSession{
			SessionID:   sess.ID,
			Title:       sess.Title,
			SessionDate: sess.SessionDate,
			Occurrences: bySession[sess.ID],
		})
	}
	return out, nil
}

func scanElement(row pgxv5.Row) (common.ElementNode, error) {
	var n common.ElementNode
	var kind string
	err := row.Scan(
		&n.ID,
		&kind,
		&n.Name,
		&n.Properties,
		&n.LastContext,
		&n.Occurrences,
		&n.CreatedAt,
		&n.LastSeenAt,
	)
	n.Kind = common.ElementKind(kind)
	return n, err
}

func (s *GraphDBStorage) ListElements(ctx context.Context, userID string, kind common.ElementKind) ([]common.ElementNode, error) {
	rows, err := s.conn.Query(ctx, listElementsSQL, userID, string(kind), kindOrder())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []common.ElementNode
	for rows.Next() {
		n, err := scanElement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *GraphDBStorage) UpdateActionItemStatus(ctx context.Context, userID, name, status string) (common.ElementNode, error) {
	if status != common.ActionPending && status != common.ActionCompleted {
		return common.ElementNode{}, fmt.Errorf("%w: invalid action item status %q", common.ErrInvalidInput, status)
	}

	n, err := scanElement(s.conn.QueryRow(ctx, updateActionStatusSQL, userID, name, status))
	if err != nil {
		if errors.Is(err, pgxv5.ErrNoRows) {
			return common.ElementNode{}, fmt.Errorf("action item %q: %w", name, common.ErrNotFound)
		}
		return common.ElementNode{}, err
	}
	return n, nil
}

func kindOrder() []string {
	kinds := common.AllKinds()
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}

const occurrenceColumns = `se.session_id, e.kind, e.id, e.name, se.context, se.confidence, se.strength,
    se.ts, se.analyzed_at, se.topics, e.properties`

const sessionOccurrencesSQL = `
SELECT ` + occurrenceColumns + `
FROM session_elements se
JOIN elements e ON e.id = se.element_id
WHERE se.session_id = $1
ORDER BY array_position($2::text[], e.kind), e.name;
`

const userOccurrencesSQL = `
SELECT ` + occurrenceColumns + `
FROM session_elements se
JOIN elements e ON e.id = se.element_id
JOIN sessions s ON s.id = se.session_id
WHERE s.user_id = $1 AND s.status = 'analyzed'
ORDER BY s.session_date, s.created_at, s.id, array_position($2::text[], e.kind), e.name;
`

const elementColumns = `id, kind, name, properties, last_context, occurrences, created_at, last_seen_at`

const listElementsSQL = `
SELECT ` + elementColumns + `
FROM elements
WHERE user_id = $1 AND ($2::text = '' OR kind = $2::text)
ORDER BY array_position($3::text[], kind), name;
`

const updateActionStatusSQL = `
UPDATE elements
SET properties = jsonb_set(properties, '{status}', to_jsonb($3::text))
WHERE user_id = $1 AND kind = 'action_item' AND name = $2
RETURNING ` + elementColumns + `;
`

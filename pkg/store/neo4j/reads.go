package neo4j

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/insight/backend/pkg/common"

	neo4jdrv "github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

type sessionOccurrence struct {
	sessionID string
	occ       common.ElementOccurrence
}

func readOccurrences(records []*neo4jdrv.Record) []sessionOccurrence {
	out := make([]sessionOccurrence, 0, len(records))
	for _, rec := range records {
		sid, _ := rec.Get("session_id")
		ev, _ := rec.Get("e")
		hv, _ := rec.Get("h")
		node, ok := ev.(neo4jdrv.Node)
		if !ok {
			continue
		}
		rel, ok := hv.(neo4jdrv.Relationship)
		if !ok {
			continue
		}
		id, _ := sid.(string)
		out = append(out, sessionOccurrence{sessionID: id, occ: toOccurrence(node, rel)})
	}
	return out
}

func (s *GraphDBStorage) GetSessionAnalysis(ctx context.Context, userID, sessionID string) ([]common.ElementOccurrence, error) {
	out, err := s.read(ctx, func(tx neo4jdrv.ManagedTransaction) (any, error) {
		if _, err := matchSession(ctx, tx, userID, sessionID); err != nil {
			return nil, err
		}
		records, err := collect(ctx, tx, `
MATCH (s:Session {id: $session_id, user_id: $user_id})-[h]->(e)
WHERE type(h) STARTS WITH 'HAS_'
RETURN s.id AS session_id, e, h
`, map[string]any{"session_id": sessionID, "user_id": userID})
		if err != nil {
			return nil, err
		}
		scanned := readOccurrences(records)
		occ := make([]common.ElementOccurrence, len(scanned))
		for i, r := range scanned {
			occ[i] = r.occ
		}
		sortOccurrences(occ)
		return occ, nil
	})
	if err != nil {
		return nil, err
	}
	return out.([]common.ElementOccurrence), nil
}

func (s *GraphDBStorage) GetUserTimeline(ctx context.Context, userID string) ([]common.TimelineSession, error) {
	sessions, err := s.ListSessions(ctx, userID)
	if err != nil {
		return nil, err
	}

	out, err := s.read(ctx, func(tx neo4jdrv.ManagedTransaction) (any, error) {
		return collect(ctx, tx, `
MATCH (s:Session {user_id: $user_id, status: 'analyzed'})-[h]->(e)
WHERE type(h) STARTS WITH 'HAS_'
RETURN s.id AS session_id, e, h
`, map[string]any{"user_id": userID})
	})
	if err != nil {
		return nil, err
	}

	bySession := make(map[string][]common.ElementOccurrence)
	for _, r := range readOccurrences(out.([]*neo4jdrv.Record)) {
		bySession[r.sessionID] = append(bySession[r.sessionID], r.occ)
	}

	var timeline []common.TimelineSession
	for _, sess := range sessions {
		if sess.Status != common.StatusAnalyzed {
			continue
		}
		occ := bySession[sess.ID]
		sortOccurrences(occ)
		timeline = append(timeline, common.TimelineSession{
			SessionID:   sess.ID,
			Title:       sess.Title,
			SessionDate: sess.SessionDate,
			Occurrences: occ,
		})
	}
	return timeline, nil
}

func (s *GraphDBStorage) ListElements(ctx context.Context, userID string, kind common.ElementKind) ([]common.ElementNode, error) {
	kinds := kindStrings()
	if kind != "" {
		kinds = []string{string(kind)}
	}

	out, err := s.read(ctx, func(tx neo4jdrv.ManagedTransaction) (any, error) {
		records, err := collect(ctx, tx, `
MATCH (e {user_id: $user_id})
WHERE any(l IN labels(e) WHERE l IN $labels) AND e.kind IN $kinds
RETURN e
`, map[string]any{"user_id": userID, "labels": labels(), "kinds": kinds})
		if err != nil {
			return nil, err
		}
		nodes := make([]common.ElementNode, 0, len(records))
		for _, rec := range records {
			v, _ := rec.Get("e")
			if node, ok := v.(neo4jdrv.Node); ok {
				nodes = append(nodes, toElementNode(node))
			}
		}
		sortElements(nodes)
		return nodes, nil
	})
	if err != nil {
		return nil, err
	}
	return out.([]common.ElementNode), nil
}

func (s *GraphDBStorage) UpdateActionItemStatus(ctx context.Context, userID, name, status string) (common.ElementNode, error) {
	if status != common.ActionPending && status != common.ActionCompleted {
		return common.ElementNode{}, fmt.Errorf("%w: invalid action item status %q", common.ErrInvalidInput, status)
	}

	out, err := s.write(ctx, func(tx neo4jdrv.ManagedTransaction) (any, error) {
		records, err := collect(ctx, tx, `
MATCH (e:ActionItem {user_id: $user_id, name: $name})
SET e.status = $status
RETURN e
`, map[string]any{"user_id": userID, "name": name, "status": status})
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return nil, fmt.Errorf("action item %q: %w", name, common.ErrNotFound)
		}
		v, _ := records[0].Get("e")
		node, ok := v.(neo4jdrv.Node)
		if !ok {
			return nil, fmt.Errorf("neo4j: unexpected element value %T", v)
		}
		return toElementNode(node), nil
	})
	if err != nil {
		return common.ElementNode{}, err
	}
	return out.(common.ElementNode), nil
}

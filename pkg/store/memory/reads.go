package memory

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/OFFIS-RIT/insight/backend/pkg/common"
)

func (st *graphState) occurrencesOf(sessionID string) []common.ElementOccurrence {
	var out []common.ElementOccurrence
	for key, occ := range st.occurrences {
		if key.sessionID != sessionID {
			continue
		}
		ek := st.elementByID[key.elementID]
		rec := st.elements[ek]
		out = append(out, common.ElementOccurrence{
			Kind:       rec.Kind,
			ElementID:  rec.ID,
			Name:       rec.Name,
			Context:    occ.context,
			Confidence: occ.confidence,
			Strength:   occ.strength,
			Timestamp:  occ.timestamp,
			AnalyzedAt: occ.analyzedAt,
			Topics:     slices.Clone(occ.topics),
			Properties: maps.Clone(rec.Properties),
		})
	}
	sortOccurrences(out)
	return out
}

func kindRank(k common.ElementKind) int {
	return slices.Index(common.AllKinds(), k)
}

func sortOccurrences(out []common.ElementOccurrence) {
	slices.SortFunc(out, func(a, b common.ElementOccurrence) int {
		if c := cmp.Compare(kindRank(a.Kind), kindRank(b.Kind)); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
}

func (s *Store) GetSessionAnalysis(ctx context.Context, userID, sessionID string) ([]common.ElementOccurrence, error) {
	var out []common.ElementOccurrence
	err := s.view(func(st *graphState) error {
		if _, err := st.session(userID, sessionID); err != nil {
			return err
		}
		out = st.occurrencesOf(sessionID)
		return nil
	})
	return out, err
}

func (s *Store) GetUserTimeline(ctx context.Context, userID string) ([]common.TimelineSession, error) {
	sessions, err := s.ListSessions(ctx, userID)
	if err != nil {
		return nil, err
	}

	var out []common.TimelineSession
	_ = s.view(func(st *graphState) error {
		for _, sess := range sessions {
			if sess.Status != common.StatusAnalyzed {
				continue
			}
			out = append(out, common.TimelineSession{
				SessionID:   sess.ID,
				Title:       sess.Title,
				SessionDate: sess.SessionDate,
				Occurrences: st.occurrencesOf(sess.ID),
			})
		}
		return nil
	})
	return out, nil
}

func (s *Store) ListElements(ctx context.Context, userID string, kind common.ElementKind) ([]common.ElementNode, error) {
	var out []common.ElementNode
	_ = s.view(func(st *graphState) error {
		for key, rec := range st.elements {
			if key.userID != userID || (kind != "" && key.kind != kind) {
				continue
			}
			node := rec.ElementNode
			node.Properties = maps.Clone(rec.Properties)
			out = append(out, node)
		}
		return nil
	})
	slices.SortFunc(out, func(a, b common.ElementNode) int {
		if c := cmp.Compare(kindRank(a.Kind), kindRank(b.Kind)); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return out, nil
}

func (s *Store) UpdateActionItemStatus(ctx context.Context, userID, name, status string) (common.ElementNode, error) {
	if status != common.ActionPending && status != common.ActionCompleted {
		return common.ElementNode{}, fmt.Errorf("%w: invalid action item status %q", common.ErrInvalidInput, status)
	}

	var out common.ElementNode
	err := s.update(func(st *graphState) error {
		key := elementKey{userID: userID, kind: common.KindActionItem, name: name}
		rec, ok := st.elements[key]
		if !ok {
			return fmt.Errorf("action item %q: %w", name, common.ErrNotFound)
		}
		props := maps.Clone(rec.Properties)
		props["status"] = status
		rec.Properties = props
		st.elements[key] = rec

		out = rec.ElementNode
		out.Properties = maps.Clone(props)
		return nil
	})
	return out, err
}

package pgx

import (
	"context"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/insight/backend/internal/util"
	"github.com/OFFIS-RIT/insight/backend/pkg/common"
	"github.com/OFFIS-RIT/insight/backend/pkg/logger"
	"github.com/OFFIS-RIT/insight/backend/pkg/store"
)

// WriteSessionAnalysis merges result into the graph of userID in one
// transaction. Each upsert reports through xmax whether its row was inserted
// or matched.
func (s *GraphDBStorage) WriteSessionAnalysis(
	ctx context.Context,
	userID string,
	sessionID string,
	result common.AnalysisResult,
	at time.Time,
) (common.WriteCounts, error) {
	var counts common.WriteCounts
	at = at.UTC()

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return counts, err
	}
	defer tx.Rollback(ctx)

	var id string
	if err := tx.QueryRow(ctx, lockSessionSQL, sessionID, userID).Scan(&id, new(string)); err != nil {
		return counts, notFound(err, sessionID)
	}
	if _, err := tx.Exec(ctx, updateStatusSQL, sessionID, userID, string(common.StatusAnalyzing), "", at); err != nil {
		return counts, fmt.Errorf("mark analyzing: %w", err)
	}

	topicIDs := make(map[string]string, len(result.Topics))
	for _, name := range result.Topics {
		newID, err := util.NewID()
		if err != nil {
			return counts, err
		}
		var topicID string
		var inserted bool
		if err := tx.QueryRow(ctx, upsertTopicSQL, newID, userID, name, at).Scan(&topicID, &inserted); err != nil {
			return counts, fmt.Errorf("merge topic %q: %w", name, err)
		}
		if inserted {
			counts.TopicsCreated++
		} else {
			counts.TopicsMatched++
		}
		topicIDs[name] = topicID
	}

	elements := result.Ordered()
	for _, el := range elements {
		newID, err := util.NewID()
		if err != nil {
			return counts, err
		}

		var elementID string
		var inserted bool
		err = tx.QueryRow(ctx, upsertElementSQL,
			newID,
			userID,
			string(el.Kind),
			el.Name,
			el.Properties(),
			util.SanitizePostgresText(el.Description),
			at,
		).Scan(&elementID, &inserted)
		if err != nil {
			return counts, fmt.Errorf("merge %s %q: %w", el.Kind, el.Name, err)
		}
		if inserted {
			counts.ElementsCreated++
		} else {
			counts.ElementsMatched++
		}

		err = tx.QueryRow(ctx, upsertOccurrenceSQL,
			sessionID,
			elementID,
			util.SanitizePostgresText(el.Description),
			el.Confidence,
			el.Strength(),
			el.Timestamp,
			nonNil(el.Topics),
			at,
		).Scan(&inserted)
		if err != nil {
			return counts, fmt.Errorf("merge %s edge for %q: %w", el.Kind.RelType(), el.Name, err)
		}
		if inserted {
			counts.EdgesCreated++
			if _, err := tx.Exec(ctx, incrementOccurrencesSQL, elementID); err != nil {
				return counts, err
			}
		} else {
			counts.EdgesMatched++
		}

		for _, topic := range el.Topics {
			topicID, ok := topicIDs[topic]
			if !ok {
				return counts, fmt.Errorf("topic %q of element %q was not merged", topic, el.Name)
			}
			if err := tx.QueryRow(ctx, upsertRelatedSQL, elementID, topicID, store.TopicRelevance).Scan(&inserted); err != nil {
				return counts, fmt.Errorf("merge RELATED_TO edge for %q: %w", el.Name, err)
			}
			if inserted {
				counts.EdgesCreated++
			} else {
				counts.EdgesMatched++
			}
		}
	}

	if _, err := tx.Exec(ctx, markAnalyzedSQL, sessionID, userID, at); err != nil {
		return counts, fmt.Errorf("mark analyzed: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return common.WriteCounts{}, err
	}

	logger.Debug("[Postgres] Wrote session analysis",
		"session_id", sessionID,
		"created", counts.Created(),
		"matched", counts.Matched(),
	)
	return counts, nil
}

const upsertTopicSQL = `
INSERT INTO topics (id, user_id, name, created_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id, name) DO UPDATE
SET name = EXCLUDED.name
RETURNING id, (xmax = 0) AS inserted;
`

const upsertElementSQL = `
INSERT INTO elements (id, user_id, kind, name, properties, last_context, occurrences, created_at, last_seen_at)
VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $7)
ON CONFLICT (user_id, kind, name) DO UPDATE
SET last_context = EXCLUDED.last_context,
    last_seen_at = GREATEST(elements.last_seen_at, EXCLUDED.last_seen_at)
RETURNING id, (xmax = 0) AS inserted;
`

const upsertOccurrenceSQL = `
INSERT INTO session_elements (session_id, element_id, context, confidence, strength, ts, topics, analyzed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (session_id, element_id) DO UPDATE
SET context     = EXCLUDED.context,
    confidence  = EXCLUDED.confidence,
    strength    = EXCLUDED.strength,
    ts          = EXCLUDED.ts,
    topics      = EXCLUDED.topics,
    analyzed_at = EXCLUDED.analyzed_at
RETURNING (xmax = 0) AS inserted;
`

const incrementOccurrencesSQL = `
UPDATE elements SET occurrences = occurrences + 1 WHERE id = $1;
`

const upsertRelatedSQL = `
INSERT INTO element_topics (element_id, topic_id, relevance)
VALUES ($1, $2, $3)
ON CONFLICT (element_id, topic_id) DO UPDATE
SET relevance = EXCLUDED.relevance
RETURNING (xmax = 0) AS inserted;
`

const markAnalyzedSQL = `
UPDATE sessions
SET status = 'analyzed', failure_reason = '', analyzed_at = $3, updated_at = $3
WHERE id = $1 AND user_id = $2;
`

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

package neo4j

import (
	"context"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/insight/backend/internal/util"
	"github.com/OFFIS-RIT/insight/backend/pkg/common"
	"github.com/OFFIS-RIT/insight/backend/pkg/logger"
	"github.com/OFFIS-RIT/insight/backend/pkg/store"

	neo4jdrv "github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// WriteSessionAnalysis merges result inside one ExecuteWrite transaction.
// Created counts come from the statement summaries; everything else that
// was merged counts as matched.
func (s *GraphDBStorage) WriteSessionAnalysis(
	ctx context.Context,
	userID string,
	sessionID string,
	result common.AnalysisResult,
	at time.Time,
) (common.WriteCounts, error) {
	at = at.UTC()

	known := make(map[string]struct{}, len(result.Topics))
	topicRows := make([]map[string]any, 0, len(result.Topics))
	for _, name := range result.Topics {
		id, err := util.NewID()
		if err != nil {
			return common.WriteCounts{}, err
		}
		known[name] = struct{}{}
		topicRows = append(topicRows, map[string]any{"id": id, "name": name})
	}
	for _, el := range result.Ordered() {
		for _, t := range el.Topics {
			if _, ok := known[t]; !ok {
				return common.WriteCounts{}, fmt.Errorf("topic %q of element %q is not part of the result topics", t, el.Name)
			}
		}
	}

	rows, err := elementRows(result, util.NewID)
	if err != nil {
		return common.WriteCounts{}, err
	}

	out, err := s.write(ctx, func(tx neo4jdrv.ManagedTransaction) (any, error) {
		var counts common.WriteCounts
		base := map[string]any{
			"session_id": sessionID,
			"user_id":    userID,
			"at":         at,
		}

		summary, err := run(ctx, tx, `
MATCH (s:Session {id: $session_id, user_id: $user_id})
SET s.status = 'analyzing', s.updated_at = $at
`, base)
		if err != nil {
			return nil, err
		}
		if summary.Counters().PropertiesSet() == 0 {
			return nil, sessionNotFound(sessionID)
		}

		if len(topicRows) > 0 {
			summary, err := run(ctx, tx, `
UNWIND $rows AS r
MERGE (t:Topic {user_id: $user_id, name: r.name})
ON CREATE SET t.id = r.id, t.created_at = $at
`, with(base, "rows", topicRows))
			if err != nil {
				return nil, fmt.Errorf("merge topics: %w", err)
			}
			created, matched := mergeCounts(len(topicRows), summary.Counters().NodesCreated())
			counts.TopicsCreated += created
			counts.TopicsMatched += matched
		}

		for _, kind := range common.AllKinds() {
			kindRows := rows[kind]
			if len(kindRows) == 0 {
				continue
			}
			params := with(base, "rows", kindRows)
			params["kind"] = string(kind)
			tally := kindTally{rows: len(kindRows), links: topicLinks(kindRows)}

			summary, err := run(ctx, tx, fmt.Sprintf(`
UNWIND $rows AS r
MERGE (e:%s {user_id: $user_id, name: r.name})
ON CREATE SET e += r.props,
              e.id = r.id,
              e.kind = $kind,
              e.occurrences = 0,
              e.created_at = $at,
              e.last_seen_at = $at
SET e.last_context = r.context,
    e.last_seen_at = CASE WHEN e.last_seen_at < $at THEN $at ELSE e.last_seen_at END
`, kind.Label()), params)
			if err != nil {
				return nil, fmt.Errorf("merge %s nodes: %w", kind, err)
			}
			tally.nodesCreated = summary.Counters().NodesCreated()

			summary, err = run(ctx, tx, fmt.Sprintf(`
UNWIND $rows AS r
MATCH (s:Session {id: $session_id})
MATCH (e:%s {user_id: $user_id, name: r.name})
MERGE (s)-[h:%s]->(e)
ON CREATE SET e.occurrences = e.occurrences + 1
SET h.context = r.context,
    h.confidence = r.confidence,
    h.strength = r.strength,
    h.timestamp = r.timestamp,
    h.topics = r.topics,
    h.analyzed_at = $at
`, kind.Label(), kind.RelType()), params)
			if err != nil {
				return nil, fmt.Errorf("merge %s edges: %w", kind.RelType(), err)
			}
			tally.edgesCreated = summary.Counters().RelationshipsCreated()

			if tally.links == 0 {
				tally.addTo(&counts)
				continue
			}
			params["relevance"] = store.TopicRelevance
			summary, err = run(ctx, tx, fmt.Sprintf(`
UNWIND $rows AS r
MATCH (e:%s {user_id: $user_id, name: r.name})
UNWIND r.topics AS topic
MATCH (t:Topic {user_id: $user_id, name: topic})
MERGE (e)-[rel:RELATED_TO]->(t)
SET rel.relevance = $relevance
`, kind.Label()), params)
			if err != nil {
				return nil, fmt.Errorf("merge RELATED_TO edges: %w", err)
			}
			tally.linksCreated = summary.Counters().RelationshipsCreated()
			tally.addTo(&counts)
		}

		if _, err := run(ctx, tx, `
MATCH (s:Session {id: $session_id, user_id: $user_id})
SET s.status = 'analyzed', s.failure_reason = '', s.analyzed_at = $at, s.updated_at = $at
`, base); err != nil {
			return nil, err
		}
		return counts, nil
	})
	if err != nil {
		return common.WriteCounts{}, err
	}

	counts := out.(common.WriteCounts)
	logger.Debug("[Neo4j] Wrote session analysis",
		"session_id", sessionID,
		"created", counts.Created(),
		"matched", counts.Matched(),
	)
	return counts, nil
}

func with(base map[string]any, key string, value any) map[string]any {
	out := make(map[string]any, len(base)+1)
	for k, v := range base {
		out[k] = v
	}
	out[key] = value
	return out
}

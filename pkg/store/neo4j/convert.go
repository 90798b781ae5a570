package neo4j

import (
	"cmp"
	"slices"
	"time"

	"github.com/OFFIS-RIT/insight/backend/pkg/common"

	neo4jdrv "github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Node properties maintained by the store. Everything else on an element
// node is a static property of the element.
var systemElementProps = map[string]struct{}{
	"id":           {},
	"user_id":      {},
	"kind":         {},
	"last_context": {},
	"occurrences":  {},
	"created_at":   {},
	"last_seen_at": {},
}

func propString(props map[string]any, key string) string {
	if v, ok := props[key].(string); ok {
		return v
	}
	return ""
}

func propFloat(props map[string]any, key string) float64 {
	switch v := props[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	}
	return 0
}

func propInt(props map[string]any, key string) int {
	switch v := props[key].(type) {
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func propTime(props map[string]any, key string) time.Time {
	switch v := props[key].(type) {
	case time.Time:
		return v.UTC()
	case neo4jdrv.LocalDateTime:
		return v.Time().UTC()
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func propStrings(props map[string]any, key string) []string {
	out := []string{}
	switch v := props[key].(type) {
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
	case []string:
		out = append(out, v...)
	}
	return out
}

func toSession(node neo4jdrv.Node) common.Session {
	p := node.Props
	sess := common.Session{
		ID:            propString(p, "id"),
		UserID:        propString(p, "user_id"),
		Title:         propString(p, "title"),
		Transcript:    propString(p, "transcript"),
		SessionDate:   propTime(p, "session_date"),
		Status:        common.SessionStatus(propString(p, "status")),
		FailureReason: propString(p, "failure_reason"),
		AudioKey:      propString(p, "audio_key"),
		CreatedAt:     propTime(p, "created_at"),
		UpdatedAt:     propTime(p, "updated_at"),
	}
	if at := propTime(p, "analyzed_at"); !at.IsZero() {
		sess.AnalyzedAt = &at
	}
	return sess
}

func toElementNode(node neo4jdrv.Node) common.ElementNode {
	p := node.Props
	props := make(map[string]any, len(p))
	for k, v := range p {
		if _, ok := systemElementProps[k]; ok {
			continue
		}
		props[k] = v
	}
	return common.ElementNode{
		ID:          propString(p, "id"),
		Kind:        common.ElementKind(propString(p, "kind")),
		Name:        propString(p, "name"),
		Properties:  props,
		LastContext: propString(p, "last_context"),
		Occurrences: propInt(p, "occurrences"),
		CreatedAt:   propTime(p, "created_at"),
		LastSeenAt:  propTime(p, "last_seen_at"),
	}
}

func toOccurrence(node neo4jdrv.Node, rel neo4jdrv.Relationship) common.ElementOccurrence {
	n := toElementNode(node)
	p := rel.Props
	return common.ElementOccurrence{
		Kind:       n.Kind,
		ElementID:  n.ID,
		Name:       n.Name,
		Context:    propString(p, "context"),
		Confidence: propFloat(p, "confidence"),
		Strength:   propFloat(p, "strength"),
		Timestamp:  propString(p, "timestamp"),
		AnalyzedAt: propTime(p, "analyzed_at"),
		Topics:     propStrings(p, "topics"),
		Properties: n.Properties,
	}
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

func sortElements(out []common.ElementNode) {
	slices.SortFunc(out, func(a, b common.ElementNode) int {
		if c := cmp.Compare(kindRank(a.Kind), kindRank(b.Kind)); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
}

// elementRows groups the result by kind into UNWIND parameter rows. Ids are
// only used when a node is created.
func elementRows(result common.AnalysisResult, newID func() (string, error)) (map[common.ElementKind][]map[string]any, error) {
	rows := make(map[common.ElementKind][]map[string]any)
	for _, el := range result.Ordered() {
		id, err := newID()
		if err != nil {
			return nil, err
		}
		topics := el.Topics
		if topics == nil {
			topics = []string{}
		}
		rows[el.Kind] = append(rows[el.Kind], map[string]any{
			"id":         id,
			"name":       el.Name,
			"props":      el.Properties(),
			"context":    el.Description,
			"confidence": el.Confidence,
			"strength":   el.Strength(),
			"timestamp":  el.Timestamp,
			"topics":     topics,
		})
	}
	return rows, nil
}

func kindStrings() []string {
	kinds := common.AllKinds()
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}

func labels() []string {
	kinds := common.AllKinds()
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = k.Label()
	}
	return out
}

// mergeCounts splits the rows of one UNWIND ... MERGE into created and
// matched, given the created counter of the query summary. The counter is
// clamped to [0, rows].
func mergeCounts(rows, created int) (int, int) {
	created = max(0, min(created, rows))
	return created, rows - created
}

// topicLinks counts the element to topic pairs a RELATED_TO merge touches.
func topicLinks(rows []map[string]any) int {
	n := 0
	for _, r := range rows {
		topics, _ := r["topics"].([]string)
		n += len(topics)
	}
	return n
}

// kindTally holds the summary counters of the merges written for one kind:
// its nodes, its HAS_<KIND> edges and its RELATED_TO links.
type kindTally struct {
	rows         int
	nodesCreated int
	edgesCreated int
	links        int
	linksCreated int
}

func (t kindTally) addTo(counts *common.WriteCounts) {
	created, matched := mergeCounts(t.rows, t.nodesCreated)
	counts.ElementsCreated += created
	counts.ElementsMatched += matched

	created, matched = mergeCounts(t.rows, t.edgesCreated)
	counts.EdgesCreated += created
	counts.EdgesMatched += matched

	created, matched = mergeCounts(t.links, t.linksCreated)
	counts.EdgesCreated += created
	counts.EdgesMatched += matched
}

package neo4j

import (
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/OFFIS-RIT/insight/backend/pkg/common"

	neo4jdrv "github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

func TestToElementNodeSplitsSystemProperties(t *testing.T) {
	created := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	node := neo4jdrv.Node{
		Labels: []string{"Emotion"},
		Props: map[string]any{
			"id":           "e1",
			"user_id":      "u1",
			"kind":         "emotion",
			"name":         "anxiety",
			"intensity":    4.0,
			"category":     "Anxiety",
			"last_context": "deadline",
			"occurrences":  int64(3),
			"created_at":   created,
			"last_seen_at": created.Add(time.Hour),
		},
	}

	got := toElementNode(node)
	if got.ID != "e1" || got.Kind != common.KindEmotion || got.Name != "anxiety" {
		t.Fatalf("identity = %+v", got)
	}
	if got.Occurrences != 3 || got.LastContext != "deadline" {
		t.Fatalf("aggregates = %d/%q", got.Occurrences, got.LastContext)
	}
	if !got.LastSeenAt.Equal(created.Add(time.Hour)) {
		t.Fatalf("last seen = %v", got.LastSeenAt)
	}
	want := map[string]any{"name": "anxiety", "intensity": 4.0, "category": "Anxiety"}
	if !reflect.DeepEqual(got.Properties, want) {
		t.Fatalf("properties = %v, want %v", got.Properties, want)
	}
}

func TestToOccurrenceReadsEdge(t *testing.T) {
	node := neo4jdrv.Node{Props: map[string]any{"id": "e1", "kind": "challenge", "name": "sleep"}}
	rel := neo4jdrv.Relationship{
		Type: "HAS_CHALLENGE",
		Props: map[string]any{
			"context":     "wakes up at night",
			"confidence":  0.8,
			"strength":    int64(3),
			"timestamp":   "12:30",
			"topics":      []any{"health", "stress management"},
			"analyzed_at": "2026-02-01T10:00:00Z",
		},
	}

	got := toOccurrence(node, rel)
	if got.Kind != common.KindChallenge || got.Strength != 3 || got.Confidence != 0.8 {
		t.Fatalf("occurrence = %+v", got)
	}
	if !reflect.DeepEqual(got.Topics, []string{"health", "stress management"}) {
		t.Fatalf("topics = %v", got.Topics)
	}
	if got.AnalyzedAt.IsZero() || got.Timestamp != "12:30" {
		t.Fatalf("analyzed at = %v timestamp = %q", got.AnalyzedAt, got.Timestamp)
	}
}

func TestToSession(t *testing.T) {
	date := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	node := neo4jdrv.Node{Props: map[string]any{
		"id":             "s1",
		"user_id":        "u1",
		"title":          "Week 1",
		"session_date":   date,
		"status":         "failed",
		"failure_reason": "MalformedAnalysisResponse: no JSON object",
	}}

	got := toSession(node)
	if got.Status != common.StatusFailed || got.FailureReason == "" || !got.SessionDate.Equal(date) {
		t.Fatalf("session = %+v", got)
	}
	if got.AnalyzedAt != nil {
		t.Fatal("analyzed at must stay nil when unset")
	}
}

func TestElementRowsGroupByKind(t *testing.T) {
	result := common.AnalysisResult{
		Elements: map[common.ElementKind][]common.Element{
			common.KindEmotion: {
				{Kind: common.KindEmotion, Name: "anxiety", Confidence: 0.9, Topics: []string{"deadline"}, Payload: common.EmotionPayload{Intensity: 4}},
				{Kind: common.KindEmotion, Name: "relief", Payload: common.EmotionPayload{Intensity: 2}},
			},
			common.KindInsight: {
				{Kind: common.KindInsight, Name: "pattern", Confidence: 0.6, Payload: common.InsightPayload{}},
			},
		},
	}
	n := 0
	newID := func() (string, error) {
		n++
		return fmt.Sprintf("id-%d", n), nil
	}

	rows, err := elementRows(result, newID)
	if err != nil {
		t.Fatalf("elementRows() error = %v", err)
	}
	if len(rows[common.KindEmotion]) != 2 || len(rows[common.KindInsight]) != 1 {
		t.Fatalf("rows = %v", rows)
	}
	first := rows[common.KindEmotion][0]
	if first["id"] != "id-1" || first["strength"] != 4.0 {
		t.Fatalf("first row = %v", first)
	}
	if topics := rows[common.KindEmotion][1]["topics"].([]string); topics == nil {
		t.Fatal("topics must be an empty list, not nil")
	}
	if rows[common.KindInsight][0]["strength"] != 0.6 {
		t.Fatalf("insight strength = %v", rows[common.KindInsight][0]["strength"])
	}
}

func TestConstraintStatementsCoverAllLabels(t *testing.T) {
	stmts := strings.Join(constraintStatements(), "\n")
	for _, label := range append(labels(), "Session", "Topic") {
		if !strings.Contains(stmts, "(e:"+label+")") && !strings.Contains(stmts, ":"+label+")") {
			t.Errorf("no constraint for %s", label)
		}
	}
}

func TestMergeCounts(t *testing.T) {
	tests := []struct {
		rows, created            int
		wantCreated, wantMatched int
	}{
		{3, 3, 3, 0},
		{3, 1, 1, 2},
		{3, 0, 0, 3},
		{0, 0, 0, 0},
		{2, 5, 2, 0},
		{2, -1, 0, 2},
	}
	for _, tc := range tests {
		created, matched := mergeCounts(tc.rows, tc.created)
		if created != tc.wantCreated || matched != tc.wantMatched {
			t.Errorf("mergeCounts(%d, %d) = %d, %d; want %d, %d", tc.rows, tc.created, created, matched, tc.wantCreated, tc.wantMatched)
		}
	}
}

func TestTopicLinks(t *testing.T) {
	rows := []map[string]any{
		{"name": "anxiety", "topics": []string{"work", "deadline"}},
		{"name": "joy", "topics": []string{}},
		{"name": "fear"},
	}
	if got := topicLinks(rows); got != 2 {
		t.Fatalf("topicLinks() = %d, want 2", got)
	}
}

func TestKindTallyAddTo(t *testing.T) {
	tests := []struct {
		name  string
		tally kindTally
		want  common.WriteCounts
	}{
		{
			name:  "first analysis",
			tally: kindTally{rows: 2, nodesCreated: 2, edgesCreated: 2, links: 3, linksCreated: 3},
			want:  common.WriteCounts{ElementsCreated: 2, EdgesCreated: 5},
		},
		{
			name:  "rerun of the same session",
			tally: kindTally{rows: 2, links: 3},
			want:  common.WriteCounts{ElementsMatched: 2, EdgesMatched: 5},
		},
		{
			name:  "known element in a new session",
			tally: kindTally{rows: 2, nodesCreated: 1, edgesCreated: 2, links: 1},
			want: common.WriteCounts{
				ElementsCreated: 1,
				ElementsMatched: 1,
				EdgesCreated:    2,
				EdgesMatched:    1,
			},
		},
		{
			name:  "no topics",
			tally: kindTally{rows: 1, nodesCreated: 1, edgesCreated: 1},
			want:  common.WriteCounts{ElementsCreated: 1, EdgesCreated: 1},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got common.WriteCounts
			tc.tally.addTo(&got)
			if got != tc.want {
				t.Fatalf("counts = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestKindTallyAccumulates(t *testing.T) {
	counts := common.WriteCounts{TopicsCreated: 1}
	kindTally{rows: 1, nodesCreated: 1, edgesCreated: 1, links: 1, linksCreated: 1}.addTo(&counts)
	kindTally{rows: 1, edgesCreated: 1}.addTo(&counts)

	want := common.WriteCounts{TopicsCreated: 1, ElementsCreated: 1, ElementsMatched: 1, EdgesCreated: 3}
	if counts != want {
		t.Fatalf("counts = %+v, want %+v", counts, want)
	}
}

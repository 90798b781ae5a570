// Package insights derives longitudinal views from a user's analyzed
// sessions. Every calculation works on the timeline returned by
// store.GraphReader.GetUserTimeline, ordered by session date.
package insights

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/OFFIS-RIT/insight/backend/pkg/analysis"
	"github.com/OFFIS-RIT/insight/backend/pkg/common"
)

const (
	TurningPointThreshold = 1.0
	MinCorrelation        = 50.0
	ActiveWindow          = 30 * 24 * time.Hour
	MinPredictionSessions = 3
	MinPredictionProb     = 0.2
	MaxPredictions        = 5
	MaxCascadeDistance    = 3
	maxChallenges         = 10
	maxNeighbourSessions  = 5
)

type TurningPoint struct {
	Emotion           string    `json:"emotion_name"`
	SessionID         string    `json:"session_id"`
	TurningDate       time.Time `json:"turning_date"`
	PreviousIntensity float64   `json:"previous_intensity"`
	CurrentIntensity  float64   `json:"current_intensity"`
	InsightID         string    `json:"insight_id,omitempty"`
	InsightName       string    `json:"insight_name,omitempty"`
	SessionsBefore    []string  `json:"sessions_before"`
	SessionsAfter     []string  `json:"sessions_after"`
	Description       string    `json:"description"`
}

type Correlation struct {
	Emotion         string  `json:"emotion_name"`
	Topic           string  `json:"topic_name"`
	Percentage      float64 `json:"correlation_percentage"`
	OccurrenceCount int     `json:"occurrence_count"`
	Confidence      float64 `json:"confidence_score"`
	Description     string  `json:"description"`
}

type Badge struct {
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	EarnedAt     time.Time `json:"earned_at"`
	SessionCount int       `json:"session_count"`
}

type ChallengePersistence struct {
	ChallengeID     string    `json:"challenge_id"`
	ChallengeName   string    `json:"challenge_name"`
	FirstAppearance time.Time `json:"first_appearance"`
	LastAppearance  time.Time `json:"last_appearance"`
	PersistenceDays int       `json:"persistence_days"`
	SessionCount    int       `json:"session_count"`
	Status          string    `json:"current_status"`
	Progress        float64   `json:"progress_percentage"`
	Badges          []Badge   `json:"badges_earned"`
}

type TopicPrediction struct {
	Topic           string             `json:"topic_name"`
	Probability     float64            `json:"probability"`
	RelatedEmotions map[string]float64 `json:"related_emotions"`
}

type FuturePrediction struct {
	Predictions    []TopicPrediction `json:"predictions"`
	Confidence     float64           `json:"confidence_score"`
	BasedOnSession []string          `json:"based_on_sessions"`
}

type CascadeNode struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	SessionID string    `json:"session_id"`
	Date      time.Time `json:"date"`
}

type CascadeEdge struct {
	Source   string   `json:"source"`
	Target   string   `json:"target"`
	Strength float64  `json:"strength"`
	Topics   []string `json:"topics"`
}

type CascadeMap struct {
	Nodes         []CascadeNode `json:"nodes"`
	Edges         []CascadeEdge `json:"edges"`
	RootInsightID string        `json:"root_insight_id"`
}

// FindTurningPoint returns the largest drop of emotion intensity between two
// consecutive sessions mentioning the emotion, or nil when no drop exceeds
// threshold. Ties go to the later session.
func FindTurningPoint(timeline []common.TimelineSession, emotion string, threshold float64) *TurningPoint {
	name := analysis.Normalize(emotion)

	type point struct {
		idx       int
		intensity float64
	}
	var points []point
	for i, sess := range timeline {
		for _, o := range sess.Occurrences {
			if o.Kind == common.KindEmotion && o.Name == name {
				points = append(points, point{idx: i, intensity: o.Strength})
				break
			}
		}
	}

	best := -1
	bestDrop := 0.0
	for i := 1; i < len(points); i++ {
		drop := points[i-1].intensity - points[i].intensity
		if drop > threshold && drop >= bestDrop {
			best, bestDrop = i, drop
		}
	}
	if best < 0 {
		return nil
	}

	prev, curr := points[best-1], points[best]
	sess := timeline[curr.idx]
	tp := &TurningPoint{
		Emotion:           name,
		SessionID:         sess.SessionID,
		TurningDate:       sess.SessionDate,
		PreviousIntensity: prev.intensity,
		CurrentIntensity:  curr.intensity,
		SessionsBefore:    []string{},
		SessionsAfter:     []string{},
	}
	for _, o := range sess.Occurrences {
		if o.Kind == common.KindInsight {
			tp.InsightID, tp.InsightName = o.ElementID, o.Name
			break
		}
	}
	for i := curr.idx; i >= 0 && len(tp.SessionsBefore) < maxNeighbourSessions; i-- {
		tp.SessionsBefore = append(tp.SessionsBefore, timeline[i].SessionID)
	}
	for i := curr.idx + 1; i < len(timeline) && len(tp.SessionsAfter) < maxNeighbourSessions; i++ {
		tp.SessionsAfter = append(tp.SessionsAfter, timeline[i].SessionID)
	}

	tp.Description = fmt.Sprintf("On %s your %s decreased by %s points",
		sess.SessionDate.Format("Jan 02"), name, formatFloat(round(bestDrop, 1)))
	if tp.InsightName != "" {
		tp.Description += fmt.Sprintf(" after insight '%s'", tp.InsightName)
	}
	tp.Description += "."
	return tp
}

// FindCorrelations relates emotions to the topics of the sessions they occur
// in. Percentage is the share of an emotion's sessions that also carry the
// topic; pairs below MinCorrelation are dropped.
func FindCorrelations(timeline []common.TimelineSession, limit int) []Correlation {
	type pair struct{ emotion, topic string }
	together := map[pair]int{}
	emotionCount := map[string]int{}

	for _, sess := range timeline {
		topics := sess.Topics()
		emotions := map[string]struct{}{}
		for _, o := range sess.Occurrences {
			if o.Kind == common.KindEmotion {
				emotions[o.Name] = struct{}{}
			}
		}
		for e := range emotions {
			emotionCount[e]++
			for _, t := range topics {
				together[pair{e, t}]++
			}
		}
	}

	out := []Correlation{}
	for p, n := range together {
		pct := round(float64(n)/float64(emotionCount[p.emotion])*100, 1)
		if pct < MinCorrelation {
			continue
		}
		out = append(out, Correlation{
			Emotion:         p.emotion,
			Topic:           p.topic,
			Percentage:      pct,
			OccurrenceCount: n,
			Confidence:      round(math.Min(1, float64(n)/float64(max(1, len(timeline)))*2), 2),
			Description:     fmt.Sprintf("%s spikes %s%% of the time when '%s' appears.", p.emotion, formatFloat(pct), p.topic),
		})
	}

	slices.SortFunc(out, func(a, b Correlation) int {
		return cmp.Or(
			cmp.Compare(b.Percentage, a.Percentage),
			cmp.Compare(b.OccurrenceCount, a.OccurrenceCount),
			cmp.Compare(a.Emotion, b.Emotion),
			cmp.Compare(a.Topic, b.Topic),
		)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// TrackChallenges reports every challenge seen in more than one session.
// A challenge not seen for ActiveWindow is inactive.
func TrackChallenges(timeline []common.TimelineSession, now time.Time) []ChallengePersistence {
	type seen struct {
		id    string
		dates []time.Time
	}
	byName := map[string]*seen{}
	for _, sess := range timeline {
		for _, o := range sess.Occurrences {
			if o.Kind != common.KindChallenge {
				continue
			}
			s, ok := byName[o.Name]
			if !ok {
				s = &seen{id: o.ElementID}
				byName[o.Name] = s
			}
			s.dates = append(s.dates, sess.SessionDate)
		}
	}

	out := []ChallengePersistence{}
	for name, s := range byName {
		count := len(s.dates)
		if count < 2 {
			continue
		}
		first, last := s.dates[0], s.dates[count-1]
		status := "active"
		if now.Sub(last) >= ActiveWindow {
			status = "inactive"
		}

		cp := ChallengePersistence{
			ChallengeID:     s.id,
			ChallengeName:   name,
			FirstAppearance: first,
			LastAppearance:  last,
			PersistenceDays: int(last.Sub(first).Hours() / 24),
			SessionCount:    count,
			Status:          status,
			Progress:        challengeProgress(count),
			Badges:          []Badge{},
		}
		switch {
		case count >= 3 && status == "inactive":
			cp.Badges = append(cp.Badges, Badge{
				Name:         "Challenge Overcome",
				Description:  fmt.Sprintf("Successfully overcame the challenge '%s'", name),
				EarnedAt:     last,
				SessionCount: count,
			})
		case count >= 5:
			cp.Badges = append(cp.Badges, Badge{
				Name:         "Persistent Worker",
				Description:  fmt.Sprintf("Consistently working on the challenge '%s'", name),
				EarnedAt:     now,
				SessionCount: count,
			})
		}
		out = append(out, cp)
	}

	slices.SortFunc(out, func(a, b ChallengePersistence) int {
		return cmp.Or(
			cmp.Compare(b.SessionCount, a.SessionCount),
			cmp.Compare(a.ChallengeName, b.ChallengeName),
		)
	})
	if len(out) > maxChallenges {
		out = out[:maxChallenges]
	}
	return out
}

// challengeProgress falls as a challenge keeps coming back.
func challengeProgress(sessions int) float64 {
	switch {
	case sessions <= 2:
		return 75
	case sessions <= 4:
		return 50
	case sessions <= 6:
		return 25
	default:
		return 10
	}
}

// PredictTopics runs a first order Markov chain over the topic sets of
// consecutive sessions and predicts the topics following the latest session.
// It returns nil with fewer than MinPredictionSessions sessions with topics.
func PredictTopics(timeline []common.TimelineSession) *FuturePrediction {
	var sessions []common.TimelineSession
	for _, sess := range timeline {
		if len(sess.Topics()) > 0 {
			sessions = append(sessions, sess)
		}
	}
	if len(sessions) < MinPredictionSessions {
		return nil
	}

	transitions := map[string]map[string]int{}
	for i := 1; i < len(sessions); i++ {
		for _, from := range sessions[i-1].Topics() {
			row, ok := transitions[from]
			if !ok {
				row = map[string]int{}
				transitions[from] = row
			}
			for _, to := range sessions[i].Topics() {
				row[to]++
			}
		}
	}

	best := map[string]float64{}
	for _, from := range sessions[len(sessions)-1].Topics() {
		row := transitions[from]
		total := 0
		for _, n := range row {
			total += n
		}
		for to, n := range row {
			if p := float64(n) / float64(total); p > MinPredictionProb && p > best[to] {
				best[to] = p
			}
		}
	}

	predictions := make([]TopicPrediction, 0, len(best))
	for topic, p := range best {
		predictions = append(predictions, TopicPrediction{
			Topic:           topic,
			Probability:     round(p, 3),
			RelatedEmotions: relatedEmotions(timeline, topic),
		})
	}
	slices.SortFunc(predictions, func(a, b TopicPrediction) int {
		return cmp.Or(cmp.Compare(b.Probability, a.Probability), cmp.Compare(a.Topic, b.Topic))
	})
	if len(predictions) > MaxPredictions {
		predictions = predictions[:MaxPredictions]
	}

	based := make([]string, 0, maxNeighbourSessions)
	for _, sess := range sessions[max(0, len(sessions)-maxNeighbourSessions):] {
		based = append(based, sess.SessionID)
	}
	return &FuturePrediction{
		Predictions:    predictions,
		Confidence:     math.Min(1, float64(len(sessions))/10),
		BasedOnSession: based,
	}
}

// relatedEmotions averages emotion intensity over the sessions carrying
// topic and keeps the three strongest.
func relatedEmotions(timeline []common.TimelineSession, topic string) map[string]float64 {
	sum := map[string]float64{}
	n := map[string]int{}
	for _, sess := range timeline {
		if !slices.Contains(sess.Topics(), topic) {
			continue
		}
		for _, o := range sess.Occurrences {
			if o.Kind == common.KindEmotion {
				sum[o.Name] += o.Strength
				n[o.Name]++
			}
		}
	}

	names := make([]string, 0, len(sum))
	for name := range sum {
		names = append(names, name)
	}
	avg := func(name string) float64 { return sum[name] / float64(n[name]) }
	slices.SortFunc(names, func(a, b string) int {
		return cmp.Or(cmp.Compare(avg(b), avg(a)), cmp.Compare(a, b))
	})

	out := make(map[string]float64, 3)
	for _, name := range names[:min(3, len(names))] {
		out[name] = round(avg(name), 2)
	}
	return out
}

// BuildCascade links insights of sessions up to MaxCascadeDistance apart
// that share a topic. Closer sessions give stronger edges (1/distance). It
// returns nil when no insights are linked.
func BuildCascade(timeline []common.TimelineSession) *CascadeMap {
	type insight struct {
		node   CascadeNode
		idx    int
		topics []string
	}
	var all []insight
	for i, sess := range timeline {
		for _, o := range sess.Occurrences {
			if o.Kind != common.KindInsight {
				continue
			}
			all = append(all, insight{
				node:   CascadeNode{ID: o.ElementID, Name: o.Name, SessionID: sess.SessionID, Date: sess.SessionDate},
				idx:    i,
				topics: o.Topics,
			})
		}
	}

	var edges []CascadeEdge
	used := map[string]CascadeNode{}
	outgoing := map[string]int{}
	for _, from := range all {
		for _, to := range all {
			distance := to.idx - from.idx
			if distance < 1 || distance > MaxCascadeDistance || from.node.ID == to.node.ID {
				continue
			}
			shared := sharedTopics(from.topics, to.topics)
			if len(shared) == 0 {
				continue
			}
			edges = append(edges, CascadeEdge{
				Source:   from.node.ID,
				Target:   to.node.ID,
				Strength: 1 / float64(distance),
				Topics:   shared,
			})
			outgoing[from.node.ID]++
			if _, ok := used[from.node.ID]; !ok {
				used[from.node.ID] = from.node
			}
			if _, ok := used[to.node.ID]; !ok {
				used[to.node.ID] = to.node
			}
		}
	}
	if len(edges) == 0 {
		return nil
	}

	nodes := make([]CascadeNode, 0, len(used))
	for _, n := range used {
		nodes = append(nodes, n)
	}
	slices.SortFunc(nodes, func(a, b CascadeNode) int {
		return cmp.Or(a.Date.Compare(b.Date), cmp.Compare(a.ID, b.ID))
	})

	// the root has the most outgoing edges, the earliest node wins ties
	root := nodes[0].ID
	for _, n := range nodes {
		if outgoing[n.ID] > outgoing[root] {
			root = n.ID
		}
	}
	return &CascadeMap{Nodes: nodes, Edges: edges, RootInsightID: root}
}

func sharedTopics(a, b []string) []string {
	var out []string
	for _, t := range a {
		if slices.Contains(b, t) && !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func formatFloat(v float64) string {
	return fmt.Sprintf("%g", v)
}

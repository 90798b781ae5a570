package common

import (
	"fmt"
	"strings"
	"time"
)

// ElementKind is the closed set of element kinds that can be extracted from
// a session transcript. Every kind maps to one node label, one session edge
// type and one key in the analysis response.
type ElementKind string

const (
	KindEmotion    ElementKind = "emotion"
	KindBelief     ElementKind = "belief"
	KindInsight    ElementKind = "insight"
	KindChallenge  ElementKind = "challenge"
	KindActionItem ElementKind = "action_item"
)

// AllKinds returns every element kind in canonical order.
func AllKinds() []ElementKind {
	return []ElementKind{KindEmotion, KindBelief, KindInsight, KindChallenge, KindActionItem}
}

// ParseElementKind accepts the kind name, its response key or its node label
// in any case.
func ParseElementKind(s string) (ElementKind, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	v = strings.ReplaceAll(v, "-", "_")
	for _, k := range AllKinds() {
		if v == string(k) || v == k.ResponseKey() || v == strings.ToLower(k.Label()) {
			return k, nil
		}
	}
	if v == "actionitem" || v == "actionitems" {
		return KindActionItem, nil
	}
	return "", fmt.Errorf("%w: unknown element kind %q", ErrInvalidInput, s)
}

// Label returns the graph node label of the kind.
func (k ElementKind) Label() string {
	switch k {
	case KindEmotion:
		return "Emotion"
	case KindBelief:
		return "Belief"
	case KindInsight:
		return "Insight"
	case KindChallenge:
		return "Challenge"
	case KindActionItem:
		return "ActionItem"
	}
	return ""
}

// RelType returns the Session->Element edge type, e.g. HAS_EMOTION.
func (k ElementKind) RelType() string {
	if k.Label() == "" {
		return ""
	}
	return "HAS_" + strings.ToUpper(string(k))
}

// ResponseKey returns the top-level key holding this kind in the model response.
func (k ElementKind) ResponseKey() string {
	switch k {
	case KindEmotion:
		return "emotions"
	case KindBelief:
		return "beliefs"
	case KindInsight:
		return "insights"
	case KindChallenge:
		return "challenges"
	case KindActionItem:
		return "action_items"
	}
	return ""
}

// Valid reports whether k is one of the known kinds.
func (k ElementKind) Valid() bool {
	return k.Label() != ""
}

// SessionStatus is the analysis lifecycle state of a session.
type SessionStatus string

const (
	StatusCreated   SessionStatus = "created"
	StatusAnalyzing SessionStatus = "analyzing"
	StatusAnalyzed  SessionStatus = "analyzed"
	StatusFailed    SessionStatus = "failed"
)

// Session is one transcript analysis unit owned by exactly one user.
//
// Title and Transcript can only change while the session has not reached
// StatusAnalyzed. Status transitions are driven by the analysis pipeline.
type Session struct {
	ID            string        `json:"id"`
	UserID        string        `json:"user_id"`
	Title         string        `json:"title"`
	Transcript    string        `json:"transcript,omitempty"`
	SessionDate   time.Time     `json:"session_date"`
	Status        SessionStatus `json:"status"`
	FailureReason string        `json:"failure_reason,omitempty"`
	AudioKey      string        `json:"audio_key,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	AnalyzedAt    *time.Time    `json:"analyzed_at,omitempty"`
}

// Element is a single fact extracted from a session. The shared fields are
// common to all kinds; kind specific data lives in Payload, whose concrete
// type always matches Kind.
type Element struct {
	Kind        ElementKind    `json:"kind"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Confidence  float64        `json:"confidence"`
	Timestamp   string         `json:"timestamp,omitempty"`
	Topics      []string       `json:"topics"`
	Payload     ElementPayload `json:"payload"`
}

// Strength returns the kind specific strength value stored on the session edge.
func (e Element) Strength() float64 {
	if e.Payload == nil {
		return e.Confidence
	}
	return e.Payload.Strength(e.Confidence)
}

// Properties returns the static node properties of the element, including
// the kind specific payload fields.
func (e Element) Properties() map[string]any {
	props := map[string]any{
		"name":        e.Name,
		"description": e.Description,
		"confidence":  e.Confidence,
	}
	if e.Payload != nil {
		for k, v := range e.Payload.Properties() {
			props[k] = v
		}
	}
	return props
}

// ElementPayload is implemented by the kind specific element records. The
// interface is sealed so that every payload belongs to one of the known kinds.
type ElementPayload interface {
	Kind() ElementKind
	Strength(confidence float64) float64
	Properties() map[string]any
	sealed()
}

// EmotionPayload carries the intensity (0-5) of an emotion and the matching
// category of the registry, if any.
type EmotionPayload struct {
	Intensity float64 `json:"intensity"`
	Category  string  `json:"category,omitempty"`
}

func (EmotionPayload) Kind() ElementKind { return KindEmotion }
func (p EmotionPayload) Strength(float64) float64 { return p.Intensity }
func (EmotionPayload) sealed() {}
func (p EmotionPayload) Properties() map[string]any {
	return map[string]any{"intensity": p.Intensity, "category": p.Category}
}

// BeliefPayload carries the impact (0-5) and type of a belief.
type BeliefPayload struct {
	Impact float64 `json:"impact"`
	Type   string  `json:"type"`
}

func (BeliefPayload) Kind() ElementKind { return KindBelief }
func (p BeliefPayload) Strength(float64) float64 { return p.Impact }
func (BeliefPayload) sealed() {}
func (p BeliefPayload) Properties() map[string]any {
	return map[string]any{"impact": p.Impact, "type": p.Type}
}

// InsightPayload has no fields beyond the shared element record.
type InsightPayload struct{}

func (InsightPayload) Kind() ElementKind { return KindInsight }
func (InsightPayload) Strength(confidence float64) float64 { return confidence }
func (InsightPayload) sealed() {}
func (InsightPayload) Properties() map[string]any { return map[string]any{} }

// ChallengePayload carries impact (0-5) and an ordinal severity.
type ChallengePayload struct {
	Impact   float64 `json:"impact"`
	Severity string  `json:"severity"`
}

func (ChallengePayload) Kind() ElementKind { return KindChallenge }
func (p ChallengePayload) Strength(float64) float64 { return p.Impact }
func (ChallengePayload) sealed() {}
func (p ChallengePayload) Properties() map[string]any {
	return map[string]any{"impact": p.Impact, "severity": p.Severity}
}

// ActionItemPayload carries the status, priority and optional due date of an action item.
type ActionItemPayload struct {
	Status   string     `json:"status"`
	Priority string     `json:"priority"`
	DueDate  *time.Time `json:"due_date,omitempty"`
}

func (ActionItemPayload) Kind() ElementKind { return KindActionItem }
func (ActionItemPayload) Strength(confidence float64) float64 { return confidence }
func (ActionItemPayload) sealed() {}
func (p ActionItemPayload) Properties() map[string]any {
	props := map[string]any{"status": p.Status, "priority": p.Priority, "due_date": ""}
	if p.DueDate != nil {
		props["due_date"] = p.DueDate.Format(time.DateOnly)
	}
	return props
}

// Action item states.
const (
	ActionPending   = "pending"
	ActionCompleted = "completed"
)

// Diagnostic records an element that was dropped during parsing.
type Diagnostic struct {
	Kind   ElementKind `json:"kind"`
	Index  int         `json:"index"`
	Reason string      `json:"reason"`
}

// AnalysisResult is the normalized output of the parser: validated elements
// grouped by kind in response order, and the union of their topics.
type AnalysisResult struct {
	Elements    map[ElementKind][]Element `json:"elements"`
	Topics      []string                  `json:"topics"`
	Diagnostics []Diagnostic              `json:"diagnostics,omitempty"`
}

// Dropped returns the number of elements discarded during validation.
func (r AnalysisResult) Dropped() int {
	return len(r.Diagnostics)
}

// Len returns the number of accepted elements across all kinds.
func (r AnalysisResult) Len() int {
	n := 0
	for _, els := range r.Elements {
		n += len(els)
	}
	return n
}

// Ordered returns all accepted elements in canonical kind order.
func (r AnalysisResult) Ordered() []Element {
	out := make([]Element, 0, r.Len())
	for _, k := range AllKinds() {
		out = append(out, r.Elements[k]...)
	}
	return out
}

// WriteCounts reports how many nodes and edges a graph write created and how
// many already existed.
type WriteCounts struct {
	ElementsCreated int `json:"elements_created"`
	ElementsMatched int `json:"elements_matched"`
	TopicsCreated   int `json:"topics_created"`
	TopicsMatched   int `json:"topics_matched"`
	EdgesCreated    int `json:"edges_created"`
	EdgesMatched    int `json:"edges_matched"`
}

// Created returns the number of newly created nodes.
func (c WriteCounts) Created() int {
	return c.ElementsCreated + c.TopicsCreated
}

// Matched returns the number of nodes that already existed.
func (c WriteCounts) Matched() int {
	return c.ElementsMatched + c.TopicsMatched
}

// ElementOccurrence is an element as seen in one session, combining the node
// identity with the data stored on the session edge.
type ElementOccurrence struct {
	Kind       ElementKind    `json:"kind"`
	ElementID  string         `json:"element_id"`
	Name       string         `json:"name"`
	Context    string         `json:"context"`
	Confidence float64        `json:"confidence"`
	Strength   float64        `json:"strength"`
	Timestamp  string         `json:"timestamp,omitempty"`
	AnalyzedAt time.Time      `json:"analyzed_at"`
	Topics     []string       `json:"topics"`
	Properties map[string]any `json:"properties,omitempty"`
}

// ElementNode is the user level node of an element with its running aggregates.
type ElementNode struct {
	ID          string         `json:"id"`
	Kind        ElementKind    `json:"kind"`
	Name        string         `json:"name"`
	Properties  map[string]any `json:"properties"`
	LastContext string         `json:"last_context"`
	Occurrences int            `json:"occurrences"`
	CreatedAt   time.Time      `json:"created_at"`
	LastSeenAt  time.Time      `json:"last_seen_at"`
}

// TimelineSession is one analyzed session of a user with its element
// occurrences, used by the insights layer.
type TimelineSession struct {
	SessionID   string              `json:"session_id"`
	Title       string              `json:"title"`
	SessionDate time.Time           `json:"session_date"`
	Occurrences []ElementOccurrence `json:"occurrences"`
}

// Topics returns the distinct topics of all occurrences in first seen order.
func (t TimelineSession) Topics() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, o := range t.Occurrences {
		for _, topic := range o.Topics {
			if _, ok := seen[topic]; ok {
				continue
			}
			seen[topic] = struct{}{}
			out = append(out, topic)
		}
	}
	return out
}

// User is an account of the service.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Role         string    `json:"role"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`

	// APIKeyHash is the SHA-256 of the user's API key; empty when the user
	// has none. Only APIKeyHint, the first characters, is ever shown again.
	APIKeyHash      string     `json:"-"`
	APIKeyHint      string     `json:"-"`
	APIKeyExpiresAt *time.Time `json:"-"`
}

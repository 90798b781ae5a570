package analysis

import (
	"github.com/OFFIS-RIT/insight/backend/pkg/common"
)

// The record types document the expected response shape. They are only used
// to derive the JSON schema embedded in the prompt; parsing is driven by the
// schema registry so that slightly off responses can still be accepted.

type emotionRecord struct {
	Name       string   `json:"name" jsonschema_description:"Emotion name, preferably from the valid list"`
	Intensity  float64  `json:"intensity,omitempty" jsonschema:"minimum=0,maximum=5" jsonschema_description:"Intensity from 0 to 5"`
	Context    string   `json:"context,omitempty" jsonschema_description:"Situation that triggered the emotion"`
	Confidence float64  `json:"confidence,omitempty" jsonschema:"minimum=0,maximum=1"`
	Topics     []string `json:"topics,omitempty"`
	Timestamp  string   `json:"timestamp,omitempty" jsonschema_description:"MM:SS"`
}

type beliefRecord struct {
	Name        string   `json:"name" jsonschema_description:"Short name of the belief"`
	Description string   `json:"description" jsonschema_description:"The belief statement"`
	Impact      float64  `json:"impact,omitempty" jsonschema:"minimum=0,maximum=5"`
	Type        string   `json:"type,omitempty" jsonschema:"enum=limiting,enum=empowering,enum=neutral"`
	Confidence  float64  `json:"confidence,omitempty" jsonschema:"minimum=0,maximum=1"`
	Topics      []string `json:"topics,omitempty"`
	Timestamp   string   `json:"timestamp,omitempty"`
}

type insightRecord struct {
	Name       string   `json:"name" jsonschema_description:"Short name of the insight"`
	Context    string   `json:"context,omitempty" jsonschema_description:"What led to the insight"`
	Confidence float64  `json:"confidence,omitempty" jsonschema:"minimum=0,maximum=1"`
	Topics     []string `json:"topics,omitempty"`
	Timestamp  string   `json:"timestamp,omitempty"`
}

type challengeRecord struct {
	Name        string   `json:"name" jsonschema_description:"Short name of the challenge"`
	Description string   `json:"description,omitempty"`
	Impact      float64  `json:"impact,omitempty" jsonschema:"minimum=0,maximum=5"`
	Severity    string   `json:"severity,omitempty" jsonschema:"enum=low,enum=medium,enum=high"`
	Confidence  float64  `json:"confidence,omitempty" jsonschema:"minimum=0,maximum=1"`
	Topics      []string `json:"topics,omitempty"`
	Timestamp   string   `json:"timestamp,omitempty"`
}

type actionItemRecord struct {
	Name        string   `json:"name" jsonschema_description:"Short name of the action"`
	Description string   `json:"description" jsonschema_description:"The specific action"`
	Status      string   `json:"status,omitempty" jsonschema:"enum=pending,enum=completed"`
	Priority    string   `json:"priority,omitempty" jsonschema:"enum=low,enum=medium,enum=high"`
	DueDate     string   `json:"due_date,omitempty" jsonschema_description:"YYYY-MM-DD"`
	Confidence  float64  `json:"confidence,omitempty" jsonschema:"minimum=0,maximum=1"`
	Topics      []string `json:"topics,omitempty"`
	Timestamp   string   `json:"timestamp,omitempty"`
}

func recordFor(kind common.ElementKind) any {
	switch kind {
	case common.KindEmotion:
		return emotionRecord{}
	case common.KindBelief:
		return beliefRecord{}
	case common.KindInsight:
		return insightRecord{}
	case common.KindChallenge:
		return challengeRecord{}
	case common.KindActionItem:
		return actionItemRecord{}
	}
	return nil
}

func exampleFor(kind common.ElementKind) any {
	switch kind {
	case common.KindEmotion:
		return emotionRecord{
			Name:       "Anxiety",
			Intensity:  4,
			Context:    "Client feels anxious when thinking about the upcoming work presentation",
			Confidence: 0.9,
			Topics:     []string{"Career"},
			Timestamp:  "12:45",
		}
	case common.KindBelief:
		return beliefRecord{
			Name:        "Perfectionism",
			Description: "I must be perfect to be worthy",
			Impact:      4,
			Type:        "limiting",
			Confidence:  0.8,
			Topics:      []string{"Self-Esteem"},
			Timestamp:   "15:30",
		}
	case common.KindInsight:
		return insightRecord{
			Name:       "External Validation Pattern",
			Context:    "Reflected on the tendency to overwork to gain approval",
			Confidence: 0.8,
			Topics:     []string{"Self-Esteem"},
			Timestamp:  "32:10",
		}
	case common.KindChallenge:
		return challengeRecord{
			Name:        "Meeting Participation",
			Description: "Stays silent in meetings and feels undervalued",
			Impact:      3,
			Severity:    "medium",
			Confidence:  0.7,
			Topics:      []string{"Career"},
			Timestamp:   "08:20",
		}
	case common.KindActionItem:
		return actionItemRecord{
			Name:        "Boundary Setting",
			Description: "Decline non-urgent late-night work requests",
			Status:      common.ActionPending,
			Priority:    "high",
			Confidence:  0.9,
			Topics:      []string{"Stress Management"},
			Timestamp:   "25:15",
		}
	}
	return nil
}

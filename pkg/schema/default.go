package schema

import (
	"github.com/OFFIS-RIT/insight/backend/pkg/common"
)

var (
	ValidEmotions = []string{
		"Anxiety", "Sadness", "Anger", "Fear", "Hope",
		"Joy", "Frustration", "Confusion", "Relief", "Gratitude",
	}

	SuggestedTopics = []string{
		"Relationships", "Career", "Health", "Self-Esteem", "Stress Management",
		"Time Management", "Boundaries", "Personal Growth", "Trauma", "Life Transitions",
		"Purpose",
	}

	ordinalLevels = []string{"low", "medium", "high"}
	mergeKey      = []string{"user_id", "kind", "name"}
	aggregates    = []string{"last_context", "last_seen_at", "occurrences"}
)

var (
	nameField = Field{
		Name:        "name",
		Type:        FieldText,
		Description: "short label, reused across sessions for the same concept",
	}
	confidenceField = Field{
		Name:        "confidence",
		Type:        FieldNumber,
		Description: "how certain the extraction is",
		Min:         0,
		Max:         1,
		Default:     0.5,
	}
	timestampField = Field{
		Name:        "timestamp",
		Type:        FieldText,
		Description: "position in the session as MM:SS",
	}
	topicsField = Field{
		Name:        "topics",
		Type:        FieldTopics,
		Description: "subjects the element relates to",
	}
)

func impactField(desc string) Field {
	return Field{
		Name:        "impact",
		Type:        FieldNumber,
		Description: desc,
		Min:         0,
		Max:         5,
		Default:     2.5,
	}
}

func ordinalField(name string, desc string, values []string, def string) Field {
	return Field{
		Name:         name,
		Type:         FieldOrdinal,
		Description:  desc,
		Values:       values,
		DefaultValue: def,
	}
}

// Default returns the registry used by the service.
func Default() *Registry {
	r, err := NewRegistry(SuggestedTopics, DefaultDescriptors()...)
	if err != nil {
		panic(err)
	}
	return r
}

// DefaultDescriptors returns the built-in descriptions of the five element kinds.
func DefaultDescriptors() []Descriptor {
	return []Descriptor{
		{
			Kind:         common.KindEmotion,
			Label:        "Emotions",
			ResponseKey:  common.KindEmotion.ResponseKey(),
			Instructions: "Explicit emotional states of the client and their intensity. Include the situation that triggered them.",
			Required:     []Field{nameField},
			Optional: []Field{
				{
					Name:        "intensity",
					Type:        FieldNumber,
					Description: "strength of the emotion from 0 (barely present) to 5 (overwhelming)",
					Min:         0,
					Max:         5,
					Default:     2.5,
				},
				{Name: "context", Type: FieldText, Description: "specific situation"},
				confidenceField,
				topicsField,
				timestampField,
			},
			Categories: ValidEmotions,
			MergeKey:   mergeKey,
			Aggregates: aggregates,
		},
		{
			Kind:         common.KindBelief,
			Label:        "Beliefs",
			ResponseKey:  common.KindBelief.ResponseKey(),
			Instructions: "Limiting and empowering beliefs of the client. Focus on their impact on the client's life.",
			Required: []Field{
				nameField,
				{Name: "description", Type: FieldText, Description: "the belief statement"},
			},
			Optional: []Field{
				impactField("effect on the client from 0 to 5"),
				ordinalField("type", "whether the belief limits or empowers the client", []string{"limiting", "empowering", "neutral"}, "neutral"),
				confidenceField,
				topicsField,
				timestampField,
			},
			MergeKey:   mergeKey,
			Aggregates: aggregates,
		},
		{
			Kind:         common.KindInsight,
			Label:        "Insights",
			ResponseKey:  common.KindInsight.ResponseKey(),
			Instructions: "Moments of realization, understanding or perspective shifts.",
			Required:     []Field{nameField},
			Optional: []Field{
				{Name: "context", Type: FieldText, Description: "what led to the insight"},
				confidenceField,
				topicsField,
				timestampField,
			},
			MergeKey:   mergeKey,
			Aggregates: aggregates,
		},
		{
			Kind:         common.KindChallenge,
			Label:        "Challenges",
			ResponseKey:  common.KindChallenge.ResponseKey(),
			Instructions: "Current struggles or obstacles the client is facing.",
			Required:     []Field{nameField},
			Optional: []Field{
				{Name: "description", Type: FieldText, Description: "what the challenge looks like"},
				impactField("effect on the client from 0 to 5"),
				ordinalField("severity", "how severe the challenge is", ordinalLevels, "medium"),
				confidenceField,
				topicsField,
				timestampField,
			},
			MergeKey:   mergeKey,
			Aggregates: aggregates,
		},
		{
			Kind:         common.KindActionItem,
			Label:        "Action Items",
			ResponseKey:  common.KindActionItem.ResponseKey(),
			Instructions: "Specific, actionable commitments or changes the client plans to make.",
			Required: []Field{
				nameField,
				{Name: "description", Type: FieldText, Description: "the specific action"},
			},
			Optional: []Field{
				ordinalField("status", "whether the action is done", []string{common.ActionPending, common.ActionCompleted}, common.ActionPending),
				ordinalField("priority", "how urgent the action is", ordinalLevels, "medium"),
				{Name: "due_date", Type: FieldDate, Description: "due date as YYYY-MM-DD if one was agreed"},
				confidenceField,
				topicsField,
				timestampField,
			},
			MergeKey:   mergeKey,
			Aggregates: aggregates,
		},
	}
}

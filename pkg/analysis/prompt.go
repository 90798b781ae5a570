package analysis

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/OFFIS-RIT/insight/backend/pkg/ai"
	"github.com/OFFIS-RIT/insight/backend/pkg/common"
	"github.com/OFFIS-RIT/insight/backend/pkg/schema"
)

// DefaultMaxTranscriptChars bounds transcripts when no limit is configured.
const DefaultMaxTranscriptChars = 200_000

// PromptBuilder turns a transcript into the instruction text for the
// analysis model. Building is a pure function of the transcript, the enabled
// kinds and the registry the builder was created with.
type PromptBuilder struct {
	registry  *schema.Registry
	maxChars  int
	maxTokens int
	counter   ai.TokenCounter
}

// NewPromptBuilderParams configures a PromptBuilder. MaxTranscriptTokens is
// only enforced when a TokenCounter is given.
type NewPromptBuilderParams struct {
	Registry            *schema.Registry
	MaxTranscriptChars  int
	MaxTranscriptTokens int
	TokenCounter        ai.TokenCounter
}

func NewPromptBuilder(params NewPromptBuilderParams) *PromptBuilder {
	registry := params.Registry
	if registry == nil {
		registry = schema.Default()
	}
	maxChars := params.MaxTranscriptChars
	if maxChars <= 0 {
		maxChars = DefaultMaxTranscriptChars
	}
	return &PromptBuilder{
		registry:  registry,
		maxChars:  maxChars,
		maxTokens: params.MaxTranscriptTokens,
		counter:   params.TokenCounter,
	}
}

// ValidateTranscript checks the transcript boundaries without building a prompt.
func (b *PromptBuilder) ValidateTranscript(transcript string) error {
	if strings.TrimSpace(transcript) == "" {
		return fmt.Errorf("%w: transcript is empty", common.ErrInvalidInput)
	}
	if n := utf8.RuneCountInString(transcript); n > b.maxChars {
		return fmt.Errorf("%w: transcript has %d characters, limit is %d", common.ErrInvalidInput, n, b.maxChars)
	}
	if b.counter != nil && b.maxTokens > 0 {
		if n := b.counter(transcript); n > b.maxTokens {
			return fmt.Errorf("%w: transcript has %d tokens, limit is %d", common.ErrInvalidInput, n, b.maxTokens)
		}
	}
	return nil
}

// Build returns the prompt for transcript. An empty kinds slice enables all
// kinds. The transcript is appended verbatim as the last section.
func (b *PromptBuilder) Build(transcript string, kinds []common.ElementKind) (string, error) {
	if err := b.ValidateTranscript(transcript); err != nil {
		return "", err
	}
	enabled, err := NormalizeKinds(kinds)
	if err != nil {
		return "", err
	}

	var sections strings.Builder
	example := make(map[string]any, len(enabled))
	properties := make(map[string]any, len(enabled))
	for _, k := range enabled {
		d, ok := b.registry.Describe(k)
		if !ok {
			return "", fmt.Errorf("%w: kind %s is not registered", common.ErrInvalidInput, k)
		}
		sections.WriteString(fmt.Sprintf(ai.AnalysisKindSection, d.Label, d.ResponseKey, describeKind(d), describeFields(d)))
		sections.WriteString("\n")

		example[d.ResponseKey] = []any{exampleFor(k)}
		properties[d.ResponseKey] = map[string]any{
			"type":  "array",
			"items": ai.GenerateSchema(recordFor(k)),
		}
	}

	exampleJSON, err := json.MarshalIndent(example, "", "  ")
	if err != nil {
		return "", err
	}
	schemaJSON, err := json.MarshalIndent(map[string]any{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
	}, "", "  ")
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(
		ai.AnalysisPrompt,
		sections.String(),
		strings.Join(b.registry.SuggestedTopics(), ", "),
		string(exampleJSON),
		string(schemaJSON),
		transcript,
	), nil
}

func describeKind(d schema.Descriptor) string {
	if len(d.Categories) == 0 {
		return d.Instructions
	}
	return fmt.Sprintf("%s\nValid %s: %s.", d.Instructions, strings.ToLower(d.Label), strings.Join(d.Categories, ", "))
}

func describeFields(d schema.Descriptor) string {
	var sb strings.Builder
	write := func(f schema.Field, required bool) {
		req := "optional"
		if required {
			req = "required"
		}
		sb.WriteString(fmt.Sprintf("- %s (%s): %s", f.Name, req, f.Description))
		switch f.Type {
		case schema.FieldNumber:
			sb.WriteString(fmt.Sprintf(", number between %g and %g", f.Min, f.Max))
		case schema.FieldOrdinal:
			sb.WriteString(", one of " + strings.Join(f.Values, ", "))
		case schema.FieldTopics:
			sb.WriteString(", array of strings")
		}
		sb.WriteString("\n")
	}
	for _, f := range d.Required {
		write(f, true)
	}
	for _, f := range d.Optional {
		write(f, false)
	}
	return sb.String()
}

// NormalizeKinds returns the enabled kinds in canonical order without
// duplicates. An empty input enables every kind.
func NormalizeKinds(kinds []common.ElementKind) ([]common.ElementKind, error) {
	if len(kinds) == 0 {
		return common.AllKinds(), nil
	}
	want := make(map[common.ElementKind]bool, len(kinds))
	for _, k := range kinds {
		if !k.Valid() {
			return nil, fmt.Errorf("%w: unknown element kind %q", common.ErrInvalidInput, k)
		}
		want[k] = true
	}
	out := make([]common.ElementKind, 0, len(want))
	for _, k := range common.AllKinds() {
		if want[k] {
			out = append(out, k)
		}
	}
	return out, nil
}

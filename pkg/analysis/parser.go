package analysis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/OFFIS-RIT/insight/backend/pkg/ai"
	"github.com/OFFIS-RIT/insight/backend/pkg/common"
	"github.com/OFFIS-RIT/insight/backend/pkg/schema"
)

// Parser validates and normalizes raw model responses against the schema
// registry. Parsing has no side effects: the same input always yields the
// same result.
type Parser struct {
	registry *schema.Registry
}

func NewParser(registry *schema.Registry) *Parser {
	if registry == nil {
		registry = schema.Default()
	}
	return &Parser{registry: registry}
}

// Normalize lower-cases s, trims it and collapses inner whitespace. It is the
// normalization of element names and topics.
func Normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// Parse turns a raw response into a normalized result for the enabled kinds.
//
// The response is parsed strictly first and repaired at most once. A
// response that cannot be read as a JSON object fails with
// common.ErrMalformedResponse. Elements that fail validation are dropped
// and reported in the result diagnostics.
func (p *Parser) Parse(raw string, kinds []common.ElementKind) (common.AnalysisResult, error) {
	enabled, err := NormalizeKinds(kinds)
	if err != nil {
		return common.AnalysisResult{}, err
	}

	top, err := decodeObject(raw)
	if err != nil {
		return common.AnalysisResult{}, err
	}

	result := common.AnalysisResult{
		Elements: make(map[common.ElementKind][]common.Element, len(enabled)),
	}
	for _, kind := range enabled {
		d, ok := p.registry.Describe(kind)
		if !ok {
			return common.AnalysisResult{}, fmt.Errorf("%w: kind %s is not registered", common.ErrInvalidInput, kind)
		}

		items, diag := kindItems(top, d)
		if diag != nil {
			result.Diagnostics = append(result.Diagnostics, *diag)
		}

		elements := make([]common.Element, 0, len(items))
		for i, item := range items {
			el, reason := buildElement(d, item)
			if reason != "" {
				result.Diagnostics = append(result.Diagnostics, common.Diagnostic{Kind: kind, Index: i, Reason: reason})
				continue
			}
			elements = mergeDuplicate(elements, el)
		}
		result.Elements[kind] = elements
	}

	seen := map[string]struct{}{}
	result.Topics = []string{}
	for _, el := range result.Ordered() {
		for _, t := range el.Topics {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			result.Topics = append(result.Topics, t)
		}
	}

	return result, nil
}

func decodeObject(raw string) (map[string]json.RawMessage, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &top); err == nil && top != nil {
		return top, nil
	}

	repaired, err := ai.RepairJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrMalformedResponse, err)
	}
	top = nil
	if err := json.Unmarshal([]byte(repaired), &top); err != nil || top == nil {
		if err == nil {
			err = fmt.Errorf("top-level value is not an object")
		}
		return nil, fmt.Errorf("%w: %v", common.ErrMalformedResponse, err)
	}
	return top, nil
}

// kindItems finds the array of a kind. The exact response key wins; other
// spellings like "actionItems" or "Emotions" are accepted as a fallback.
func kindItems(top map[string]json.RawMessage, d schema.Descriptor) ([]json.RawMessage, *common.Diagnostic) {
	value, ok := top[d.ResponseKey]
	if !ok {
		keys := make([]string, 0, len(top))
		for k := range top {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		want := compactKey(d.ResponseKey)
		for _, k := range keys {
			if ck := compactKey(k); ck == want || ck == compactKey(d.Kind.Label()) {
				value, ok = top[k], true
				break
			}
		}
	}
	if !ok || isNull(value) {
		return nil, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(value, &items); err == nil {
		return items, nil
	}
	// A single record given without the surrounding array.
	if trimmed := bytes.TrimSpace(value); len(trimmed) > 0 && trimmed[0] == '{' {
		return []json.RawMessage{trimmed}, nil
	}
	return nil, &common.Diagnostic{Kind: d.Kind, Index: -1, Reason: "section is not an array"}
}

func compactKey(s string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func isNull(v json.RawMessage) bool {
	return len(bytes.TrimSpace(v)) == 0 || bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

// buildElement validates one record and returns a reason when it must be dropped.
func buildElement(d schema.Descriptor, item json.RawMessage) (common.Element, string) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(item, &fields); err != nil || fields == nil {
		return common.Element{}, "element is not an object"
	}
	fields = lowerKeys(fields)

	for _, f := range d.Required {
		if f.Type != schema.FieldText {
			if _, ok := fields[f.Name]; !ok {
				return common.Element{}, "missing required field " + f.Name
			}
			continue
		}
		if v, ok := readText(fields[f.Name]); !ok || strings.TrimSpace(v) == "" {
			return common.Element{}, "missing required field " + f.Name
		}
	}

	rawName, _ := readText(fields["name"])
	el := common.Element{
		Kind:       d.Kind,
		Name:       Normalize(rawName),
		Confidence: readNumberField(d, "confidence", fields),
		Topics:     readTopics(fields),
	}
	if el.Name == "" {
		return common.Element{}, "missing required field name"
	}
	if ts, ok := readText(fields["timestamp"]); ok {
		el.Timestamp = strings.TrimSpace(ts)
	}
	for _, key := range []string{"description", "context"} {
		if v, ok := readText(fields[key]); ok && strings.TrimSpace(v) != "" {
			el.Description = strings.TrimSpace(v)
			break
		}
	}

	switch d.Kind {
	case common.KindEmotion:
		category, _ := d.Category(rawName)
		el.Payload = common.EmotionPayload{
			Intensity: readNumberField(d, "intensity", fields),
			Category:  category,
		}
	case common.KindBelief:
		el.Payload = common.BeliefPayload{
			Impact: readNumberField(d, "impact", fields),
			Type:   readOrdinalField(d, "type", fields),
		}
	case common.KindInsight:
		el.Payload = common.InsightPayload{}
	case common.KindChallenge:
		el.Payload = common.ChallengePayload{
			Impact:   readNumberField(d, "impact", fields),
			Severity: readOrdinalField(d, "severity", fields),
		}
	case common.KindActionItem:
		el.Payload = common.ActionItemPayload{
			Status:   readOrdinalField(d, "status", fields),
			Priority: readOrdinalField(d, "priority", fields),
			DueDate:  readDate(fields["due_date"]),
		}
	default:
		return common.Element{}, "unsupported kind"
	}

	return el, ""
}

func lowerKeys(fields map[string]json.RawMessage) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(fields))
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		lk := strings.ToLower(strings.TrimSpace(k))
		lk = strings.ReplaceAll(lk, " ", "_")
		if lk == "duedate" {
			lk = "due_date"
		}
		if _, exists := out[lk]; !exists || lk == k {
			out[lk] = fields[k]
		}
	}
	return out
}

func readText(v json.RawMessage) (string, bool) {
	if isNull(v) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s, true
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err == nil {
		return n.String(), true
	}
	return "", false
}

func readNumberField(d schema.Descriptor, name string, fields map[string]json.RawMessage) float64 {
	f, ok := d.Field(name)
	if !ok {
		return 0
	}
	v, ok := readNumber(fields[name])
	if !ok {
		return f.Default
	}
	return clamp(v, f.Min, f.Max)
}

func readNumber(v json.RawMessage) (float64, bool) {
	if isNull(v) {
		return 0, false
	}
	var n float64
	if err := json.Unmarshal(v, &n); err != nil {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return 0, false
		}
		s = strings.TrimSpace(s)
		if i := strings.IndexByte(s, '/'); i > 0 {
			s = strings.TrimSpace(s[:i])
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		n = parsed
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func readOrdinalField(d schema.Descriptor, name string, fields map[string]json.RawMessage) string {
	f, ok := d.Field(name)
	if !ok {
		return ""
	}
	s, ok := readText(fields[name])
	if !ok {
		return f.DefaultValue
	}
	s = Normalize(s)
	if slices.Contains(f.Values, s) {
		return s
	}
	return f.DefaultValue
}

func readDate(v json.RawMessage) *time.Time {
	s, ok := readText(v)
	if !ok {
		return nil
	}
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.DateOnly, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
			return &d
		}
	}
	return nil
}

// readTopics accepts "topics" as an array or a comma separated string and
// the single "topic" field used by older prompts.
func readTopics(fields map[string]json.RawMessage) []string {
	var raw []string
	for _, key := range []string{"topics", "topic"} {
		v, ok := fields[key]
		if !ok || isNull(v) {
			continue
		}
		var list []json.RawMessage
		if err := json.Unmarshal(v, &list); err == nil {
			for _, item := range list {
				if s, ok := readText(item); ok {
					raw = append(raw, s)
				}
			}
			continue
		}
		if s, ok := readText(v); ok {
			raw = append(raw, strings.Split(s, ",")...)
		}
	}

	seen := map[string]struct{}{}
	topics := []string{}
	for _, t := range raw {
		n := Normalize(t)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		topics = append(topics, n)
	}
	return topics
}

// mergeDuplicate appends el or, when an element with the same name exists,
// keeps the one with the higher confidence at the position of the first.
func mergeDuplicate(elements []common.Element, el common.Element) []common.Element {
	for i, existing := range elements {
		if existing.Name != el.Name {
			continue
		}
		if el.Confidence > existing.Confidence {
			elements[i] = el
		}
		return elements
	}
	return append(elements, el)
}

package ai

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/kaptinlin/jsonrepair"
)

var errNoObject = errors.New("response contains no JSON object")

func stripDuplicateLeadingBrace(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "{") {
		rest := strings.TrimSpace(s[1:])
		if strings.HasPrefix(rest, "{") {
			return rest
		}
	}
	return s
}

// StripCodeFences removes a surrounding markdown code fence such as
// ```json ... ``` from a model response.
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = ""
	}
	if end := strings.LastIndex(s, "```"); end >= 0 {
		s = s[:end]
	}
	return strings.TrimSpace(s)
}

// RepairJSON performs a single best effort repair of a JSON object returned
// by a model. It strips code fences, cuts surrounding prose off the
// outermost object and lets jsonrepair fix trailing commas, quoting and
// missing brackets. Input without any object fails.
func RepairJSON(input string) (string, error) {
	s := StripCodeFences(input)
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", errNoObject
	}
	if end := strings.LastIndexByte(s, '}'); end > start {
		s = s[start : end+1]
	} else {
		s = s[start:]
	}
	s = stripDuplicateLeadingBrace(s)

	repaired, err := jsonrepair.JSONRepair(s)
	if err != nil {
		return "", fmt.Errorf("json repair failed: %w", err)
	}
	return repaired, nil
}

// GenerateSchema creates a JSON Schema from the given Go type.
// It uses reflection to inspect the type structure and generates
// a schema suitable for use with AI structured output.
func GenerateSchema(value any) any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		Anonymous:                 true,
	}

	t := reflect.TypeOf(value)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	v := reflect.New(t).Interface()
	return reflector.Reflect(v)
}

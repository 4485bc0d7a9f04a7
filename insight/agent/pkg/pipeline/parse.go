package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
)

// ParseError describes LLM output that could not be decoded or validated.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid LLM JSON: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// RawPrefix returns the start of the offending output for logging.
func (e *ParseError) RawPrefix() string {
	if len(e.Raw) > 300 {
		return e.Raw[:300]
	}
	return e.Raw
}

// JSONResult is either a decoded value or the reason decoding failed.
type JSONResult[T any] struct {
	Value T
	Err   *ParseError
}

func (r JSONResult[T]) Ok() bool { return r.Err == nil }

// ValueOr returns the decoded value, or def when parsing failed.
func (r JSONResult[T]) ValueOr(def T) T {
	if r.Err != nil {
		return def
	}
	return r.Value
}

// ParseJSON decodes the first JSON object in raw, validating it against schema
// when one is given.
func ParseJSON[T any](raw string, schema *jsonschema.Resolved) JSONResult[T] {
	fail := func(err error) JSONResult[T] {
		return JSONResult[T]{Err: &ParseError{Raw: raw, Err: err}}
	}

	text := strings.TrimSpace(raw)
	if !json.Valid([]byte(text)) {
		text = extractJSONObject(text)
		if text == "" {
			return fail(fmt.Errorf("no JSON object found"))
		}
	}

	if schema != nil {
		var instance any
		if err := json.Unmarshal([]byte(text), &instance); err != nil {
			return fail(err)
		}
		if err := schema.Validate(instance); err != nil {
			return fail(err)
		}
	}

	var v T
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return fail(err)
	}
	return JSONResult[T]{Value: v}
}

// extractJSONObject returns the first balanced, valid JSON object in s.
func extractJSONObject(s string) string {
	for start := strings.IndexByte(s, '{'); start != -1; {
		if end := matchBrace(s, start); end != -1 {
			if candidate := s[start : end+1]; json.Valid([]byte(candidate)) {
				return candidate
			}
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next == -1 {
			break
		}
		start += next + 1
	}
	return ""
}

// matchBrace returns the index of the brace closing the one at start,
// skipping braces inside JSON strings.
func matchBrace(s string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func objectSchema(props map[string]string, required ...string) *jsonschema.Resolved {
	s := &jsonschema.Schema{
		Type:       "object",
		Properties: make(map[string]*jsonschema.Schema, len(props)),
		Required:   required,
	}
	for name, typ := range props {
		s.Properties[name] = &jsonschema.Schema{Type: typ}
	}
	resolved, err := s.Resolve(&jsonschema.ResolveOptions{})
	if err != nil {
		panic(fmt.Sprintf("pipeline: invalid schema: %v", err))
	}
	return resolved
}

var (
	selectionSchema = objectSchema(map[string]string{
		"table_name": "string",
		"prompt":     "string",
	}, "table_name", "prompt")

	agentStateSchema = objectSchema(map[string]string{
		"action":       "string",
		"action_input": "string",
		"final_answer": "string",
	}, "action", "action_input", "final_answer")

	intentSchema = objectSchema(map[string]string{
		"wants_text":               "boolean",
		"wants_chart":              "boolean",
		"wants_table":              "boolean",
		"wants_simplified_numbers": "boolean",
	}, "wants_text", "wants_chart", "wants_table", "wants_simplified_numbers")
)

package planner

import (
	"encoding/json"
	"errors"
	"strings"
)

// ParseResult is the outcome of interpreting a model response: either a
// validated Value, or a locally produced fallback Value with the Reason the
// response could not be used. Planner operations never return parse errors.
type ParseResult[T any] struct {
	Value    T
	Fallback bool
	Reason   string
}

func parsed[T any](v T) ParseResult[T] {
	return ParseResult[T]{Value: v}
}

func fallback[T any](v T, reason string) ParseResult[T] {
	return ParseResult[T]{Value: v, Fallback: true, Reason: reason}
}

var errNoJSON = errors.New("no JSON object in response")

// extractJSON returns the text between the first '{' and the last '}'.
// Surrounding prose and code fences are ignored.
func extractJSON(response string) (string, error) {
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start == -1 || end == -1 || end <= start {
		return "", errNoJSON
	}
	return response[start : end+1], nil
}

// decodeJSON extracts and unmarshals the JSON object in response.
func decodeJSON(response string, v any) error {
	raw, err := extractJSON(response)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(raw), v)
}

func preview(s string) string {
	const n = 200
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

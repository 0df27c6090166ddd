package llm

import (
	"encoding/json"
	"errors"
	"io"
	"regexp"
	"strings"

	"contract-backend/internal/schema"
)

const snippetRunes = 200

var fencePattern = regexp.MustCompile("```(?i:json)?\\s*([\\s\\S]*?)```")

// ParseResponse extracts the JSON document from raw model output and validates it.
// A fenced code block, when present, is the only content considered.
func ParseResponse(raw string) (schema.AnalysisResult, error) {
	body := stripFence(strings.TrimSpace(raw))

	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()
	var candidate any
	if err := dec.Decode(&candidate); err != nil {
		return schema.AnalysisResult{}, &ParseError{Snippet: snippet(body), Err: err}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return schema.AnalysisResult{}, &ParseError{Snippet: snippet(body), Err: errors.New("unexpected data after JSON document")}
	}

	return schema.Validate(candidate)
}

func stripFence(s string) string {
	if m := fencePattern.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return s
}

func snippet(s string) string {
	runes := []rune(s)
	if len(runes) <= snippetRunes {
		return s
	}
	return string(runes[:snippetRunes])
}

package llm

import (
	_ "embed"
	"fmt"
	"strings"
)

//go:embed prompts/system.txt
var systemPrompt string

// SystemPrompt returns the fixed analysis rubric sent to every provider.
func SystemPrompt() string {
	return systemPrompt
}

// UserPrompt builds the user turn for a request. In image mode the contract
// pages are attached separately and only the instructions are rendered here.
func UserPrompt(mode Mode, text, contractTypeHint string) string {
	var b strings.Builder
	if hint := strings.TrimSpace(contractTypeHint); hint != "" {
		fmt.Fprintf(&b, "계약 유형 힌트: %s\n\n", hint)
	}
	switch mode {
	case ModeImages:
		b.WriteString("첨부된 이미지는 계약서 페이지를 순서대로 촬영 또는 스캔한 것입니다. 이미지의 글자를 읽어 계약서를 분석하고 JSON으로만 응답하세요.")
	default:
		b.WriteString("다음 계약서를 분석하고 JSON으로만 응답하세요.\n\n<contract>\n")
		b.WriteString(text)
		b.WriteString("\n</contract>")
	}
	return b.String()
}

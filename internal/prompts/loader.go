// Package prompts holds the embedded prompt templates of the answer backend.
package prompts

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"text/template"
)

//go:embed answers.json
var answersJSON []byte

// Set is the parsed prompt file.
type Set struct {
	// System is the standing instruction sent with every request.
	System string

	question *template.Template
}

// AnswerData fills the answer-question template.
type AnswerData struct {
	Profile   string
	Question  string
	MaxLength int
}

var (
	loadOnce sync.Once
	loaded   *Set
	loadErr  error
)

// Load parses the embedded prompt file once and returns the shared set.
func Load() (*Set, error) {
	loadOnce.Do(func() {
		loaded, loadErr = Parse(answersJSON)
	})
	return loaded, loadErr
}

// Parse builds a Set from a prompt file. Both keys are required and the
// question template must reference every AnswerData field.
func Parse(data []byte) (*Set, error) {
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse prompt file: %w", err)
	}

	system, ok := raw["system"]
	if !ok || strings.TrimSpace(system) == "" {
		return nil, fmt.Errorf("prompt key %q not found", "system")
	}
	text, ok := raw["answer-question"]
	if !ok {
		return nil, fmt.Errorf("prompt key %q not found", "answer-question")
	}
	for _, field := range []string{"{{.Profile}}", "{{.Question}}", "{{.MaxLength}}"} {
		if !strings.Contains(text, field) {
			return nil, fmt.Errorf("prompt %q is missing placeholder %s", "answer-question", field)
		}
	}

	tmpl, err := template.New("answer-question").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse prompt %q: %w", "answer-question", err)
	}
	return &Set{System: strings.TrimSpace(system), question: tmpl}, nil
}

// RenderQuestion renders the prompt for one chatbot question.
func (s *Set) RenderQuestion(data AnswerData) (string, error) {
	var b strings.Builder
	if err := s.question.Execute(&b, data); err != nil {
		return "", fmt.Errorf("failed to render answer prompt: %w", err)
	}
	return b.String(), nil
}

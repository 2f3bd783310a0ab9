package statement

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/PainSignalAI/painsignal-mvp/engine/domain"
)

// TextGenerator abstracts the model backend used by the AI strategy.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string, opts GenOptions) (string, error)
}

// GenOptions bound the model call.
type GenOptions struct {
	MaxTokens   int
	Temperature float32
}

// aiGenerator is the primary, model-backed strategy.
type aiGenerator struct {
	backend TextGenerator
	opts    GenOptions
}

// NewAIGenerator wraps a model backend as a Generator. Low temperature keeps
// the output near-deterministic.
func NewAIGenerator(backend TextGenerator) Generator {
	return &aiGenerator{
		backend: backend,
		opts:    GenOptions{MaxTokens: 60, Temperature: 0.1},
	}
}

func (g *aiGenerator) Method() domain.GenerationMethod { return domain.MethodAI }

const aiPrompt = `Convert this text into a clear problem statement. Follow these rules:
1. Start with 'Users' or 'People'
2. Focus on the underlying struggle or pain point
3. Ignore any solutions mentioned
4. Keep it to one sentence
5. Add consequences if relevant

Examples:
Input: 'My React app crashes when I deploy to production'
Output: 'Users deploying React applications experience crashes that prevent successful production releases.'

Input: 'Docker containers use too much memory on my server'
Output: 'Users running Docker containers face excessive memory consumption that impacts server performance.'

Input: %s
Output:`

func (g *aiGenerator) Generate(ctx context.Context, cleaned string) (string, error) {
	if strings.TrimSpace(cleaned) == "" {
		return "", fmt.Errorf("ai: empty input")
	}
	raw, err := g.backend.Generate(ctx, fmt.Sprintf(aiPrompt, cleaned), g.opts)
	if err != nil {
		return "", fmt.Errorf("ai: generate: %w", err)
	}
	out := extractStatement(raw)
	if out == "" {
		return "", fmt.Errorf("ai: no usable statement in output")
	}
	return out, nil
}

var artifactRe = regexp.MustCompile(`(?i)^(output|input|convert|problem statement)\s*:\s*`)

// extractStatement pulls the statement out of raw model output, tolerating
// echoed prompt fragments.
func extractStatement(raw string) string {
	s := raw
	if i := strings.LastIndex(s, "Output:"); i >= 0 {
		s = s[i+len("Output:"):]
	}
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `'"`)
	for {
		stripped := artifactRe.ReplaceAllString(s, "")
		if stripped == s {
			break
		}
		s = stripped
	}
	// A multi-line answer: prefer the first line that opens with a marker.
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(strings.Trim(line, `'"`))
		if strings.HasPrefix(line, "Users") || strings.HasPrefix(line, "People") {
			return line
		}
	}
	return strings.TrimSpace(s)
}

package statement

import (
	"context"
	"fmt"
	"strings"

	"github.com/PainSignalAI/painsignal-mvp/engine/domain"
)

// ruleGenerator composes a statement deterministically from technical terms
// and problem-pattern keywords found in the cleaned text. Same template
// family as the AI strategy: every output opens with the subject marker.
type ruleGenerator struct{}

// NewRuleGenerator returns the deterministic rule-based strategy.
func NewRuleGenerator() Generator { return ruleGenerator{} }

func (ruleGenerator) Method() domain.GenerationMethod { return domain.MethodRule }

// techVocabulary are recognisable technology tokens, matched whole-word in
// order of appearance.
var techVocabulary = map[string]bool{
	"python": true, "javascript": true, "typescript": true, "java": true,
	"c++": true, "c#": true, "go": true, "golang": true, "rust": true,
	"ruby": true, "php": true, "react": true, "angular": true, "vue": true,
	"django": true, "flask": true, "express": true, "nodejs": true,
	"node": true, "pandas": true, "numpy": true, "docker": true,
	"kubernetes": true, "aws": true, "azure": true, "heroku": true,
	"mysql": true, "postgresql": true, "postgres": true, "mongodb": true,
	"sqlite": true, "redis": true, "git": true, "webpack": true,
	"linux": true, "ubuntu": true, "windows": true, "android": true,
	"ios": true, "flutter": true, "swift": true, "kotlin": true,
}

type problemKind int

const (
	kindGeneral problemKind = iota
	kindPerformance
	kindError
	kindSetup
	kindHowTo
	kindChoice
)

var kindSignals = []struct {
	kind  problemKind
	words []string
}{
	{kindPerformance, []string{"slow", "performance", "lag", "freeze", "timeout", "sluggish"}},
	{kindError, []string{"error", "crash", "crashes", "fail", "fails", "failed", "bug", "exception", "broken"}},
	{kindSetup, []string{"install", "setup", "configure", "configuration", "deployment"}},
	{kindChoice, []string{"choose", "choosing", "vs", "compare", "recommend", "better"}},
	{kindHowTo, []string{"implement", "how", "learn", "learning", "beginner"}},
}

func (ruleGenerator) Generate(_ context.Context, cleaned string) (string, error) {
	tokens := strings.Fields(cleaned)
	if len(tokens) == 0 {
		return "", fmt.Errorf("rule: nothing to extract from empty text")
	}

	techs := extractTech(tokens)
	kind := detectKind(tokens)

	switch kind {
	case kindPerformance:
		if len(techs) > 0 {
			return fmt.Sprintf("%s experience slow performance with %s that impacts productivity and system usability.", SubjectMarker, techs[0]), nil
		}
		return SubjectMarker + " experience performance issues that impact productivity and system responsiveness.", nil
	case kindError:
		if len(techs) > 0 {
			return fmt.Sprintf("%s encounter errors in %s that prevent successful task completion.", SubjectMarker, techs[0]), nil
		}
		return SubjectMarker + " encounter technical errors that prevent successful task completion.", nil
	case kindSetup:
		if len(techs) > 0 {
			return fmt.Sprintf("%s struggle with installation and configuration of %s environments.", SubjectMarker, techs[0]), nil
		}
		return SubjectMarker + " struggle with software installation and configuration processes.", nil
	case kindChoice:
		if len(techs) >= 2 {
			return fmt.Sprintf("%s choosing between %s and %s lack clear guidance on the right fit.", SubjectMarker, techs[0], techs[1]), nil
		}
	case kindHowTo:
		if len(techs) > 0 {
			return fmt.Sprintf("%s implementing %s solutions face knowledge gaps that slow development progress.", SubjectMarker, techs[0]), nil
		}
		return SubjectMarker + " learning new technology face knowledge gaps that slow their progress.", nil
	}

	if len(techs) > 0 {
		return fmt.Sprintf("%s working with %s face issues that require technical expertise to resolve.", SubjectMarker, techs[0]), nil
	}
	return "", fmt.Errorf("rule: no technical terms or problem patterns found")
}

// extractTech returns unique known technology tokens in order of appearance.
func extractTech(tokens []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, tok := range tokens {
		tok = strings.Trim(tok, ".,!?;:'\"()")
		if techVocabulary[tok] && !seen[tok] {
			seen[tok] = true
			out = append(out, tok)
		}
	}
	return out
}

func detectKind(tokens []string) problemKind {
	set := make(map[string]bool, len(tokens))
	for _, tok := range tokens {
		set[strings.Trim(tok, ".,!?;:'\"()")] = true
	}
	for _, sig := range kindSignals {
		for _, w := range sig.words {
			if set[w] {
				return sig.kind
			}
		}
	}
	return kindGeneral
}

// PlaceholderText is the terminal statement when neither the AI nor the
// rule-based strategy produced anything usable.
const PlaceholderText = SubjectMarker + " encounter technical challenges that require specialized knowledge to overcome."

type placeholderGenerator struct{}

func (placeholderGenerator) Method() domain.GenerationMethod { return domain.MethodFallback }

func (placeholderGenerator) Generate(context.Context, string) (string, error) {
	return PlaceholderText, nil
}

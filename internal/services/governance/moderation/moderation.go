// Package moderation classifies text against a fixed child-safety policy.
// Evaluation is a pure function: no I/O, no randomness, the same text
// always yields the same verdict.
package moderation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// PolicyCategory names the prohibited-term group a verdict matched.
type PolicyCategory string

const (
	CategoryViolence          PolicyCategory = "violence"
	CategorySelfHarm          PolicyCategory = "self_harm"
	CategoryNegativity        PolicyCategory = "negativity"
	CategoryPoliticalConflict PolicyCategory = "political_conflict"

	// CategoryCustom holds operator-supplied terms added through
	// configuration on top of the built-in groups.
	CategoryCustom PolicyCategory = "custom"
)

// Verdict is the result of evaluating one piece of text.
//
// Safe=false means a hard policy hit: the text must not be shown to the
// child. LowPedagogy is advisory: the text is safe but carries no
// educational-tone signal; callers record it without blocking.
type Verdict struct {
	Safe          bool
	MatchedPolicy PolicyCategory
	MatchedTerm   string
	LowPedagogy   bool
}

// Policy holds the term lists and thresholds the moderator applies.
type Policy struct {
	// ProhibitedTerms maps each category to its deny list. Matching is
	// case-insensitive on whole words.
	ProhibitedTerms map[PolicyCategory][]string

	// EducationalVocabulary is the positive-signal word list for the
	// advisory tier.
	EducationalVocabulary []string

	// MinPedagogyLength exempts short strings from the advisory tier; a
	// single word or number is not expected to carry an educational tone.
	MinPedagogyLength int
}

// DefaultPolicy returns the standard policy for a children's
// educational game.
func DefaultPolicy() Policy {
	return Policy{
		ProhibitedTerms: map[PolicyCategory][]string{
			CategoryViolence: {
				"kill", "murder", "gun", "knife", "shoot", "stab",
				"punch", "fight", "blood", "weapon", "bomb", "attack",
			},
			CategorySelfHarm: {
				"suicide", "self-harm", "cut myself", "hurt myself",
				"kill myself", "want to die",
			},
			CategoryNegativity: {
				"hate", "stupid", "dumb", "idiot", "loser", "ugly",
				"worthless", "shut up", "nobody likes you",
			},
			CategoryPoliticalConflict: {
				"war", "terrorist", "terrorism", "nazi", "genocide",
				"riot", "extremist",
			},
		},
		EducationalVocabulary: []string{
			"learn", "learning", "practice", "practise", "discover",
			"explore", "count", "counting", "read", "reading", "write",
			"writing", "spell", "spelling", "number", "numbers", "letter",
			"letters", "word", "words", "math", "maths", "science",
			"question", "answer", "puzzle", "story", "draw", "drawing",
			"colour", "color", "shape", "shapes", "try", "great",
			"good job", "well done", "awesome", "wonderful", "curious",
			"think", "imagine", "create", "build", "share", "help",
		},
		MinPedagogyLength: 20,
	}
}

// Moderator evaluates text against a compiled policy.
type Moderator struct {
	rules             []rule
	educational       *regexp.Regexp
	minPedagogyLength int
}

type rule struct {
	category PolicyCategory
	term     string
	pattern  *regexp.Regexp
}

// NewModerator compiles a policy. Term lists are matched on whole words,
// so "war" does not flag "award".
func NewModerator(policy Policy) (*Moderator, error) {
	if len(policy.ProhibitedTerms) == 0 {
		return nil, errors.New("prohibited terms are required")
	}
	if policy.MinPedagogyLength < 0 {
		return nil, errors.New("min pedagogy length must not be negative")
	}

	moderator := &Moderator{minPedagogyLength: policy.MinPedagogyLength}
	// Category order is fixed so the same text always reports the same
	// matched policy even when multiple categories hit.
	for _, category := range []PolicyCategory{CategoryViolence, CategorySelfHarm, CategoryNegativity, CategoryPoliticalConflict, CategoryCustom} {
		for _, term := range policy.ProhibitedTerms[category] {
			pattern, err := compileTerm(term)
			if err != nil {
				return nil, fmt.Errorf("compile prohibited term %q: %w", term, err)
			}
			moderator.rules = append(moderator.rules, rule{category: category, term: term, pattern: pattern})
		}
	}

	if len(policy.EducationalVocabulary) > 0 {
		educational, err := compileTermSet(policy.EducationalVocabulary)
		if err != nil {
			return nil, fmt.Errorf("compile educational vocabulary: %w", err)
		}
		moderator.educational = educational
	}
	return moderator, nil
}

// Evaluate classifies one piece of text. Hard-deny always wins; the
// advisory tier only applies to text that passed the safety check.
func (m *Moderator) Evaluate(text string) Verdict {
	if m == nil {
		return Verdict{}
	}

	for _, rule := range m.rules {
		if rule.pattern.MatchString(text) {
			return Verdict{
				Safe:          false,
				MatchedPolicy: rule.category,
				MatchedTerm:   rule.term,
			}
		}
	}

	verdict := Verdict{Safe: true}
	trimmed := strings.TrimSpace(text)
	if m.educational != nil && len(trimmed) > m.minPedagogyLength && !m.educational.MatchString(trimmed) {
		verdict.LowPedagogy = true
	}
	return verdict
}

// compileTerm builds a case-insensitive whole-word pattern for one term.
// Multi-word terms match across any whitespace run.
func compileTerm(term string) (*regexp.Regexp, error) {
	words := strings.Fields(strings.TrimSpace(term))
	if len(words) == 0 {
		return nil, errors.New("empty term")
	}
	escaped := make([]string, len(words))
	for i, word := range words {
		escaped[i] = regexp.QuoteMeta(word)
	}
	return regexp.Compile(`(?i)\b` + strings.Join(escaped, `\s+`) + `\b`)
}

// compileTermSet builds one alternation pattern for a vocabulary list.
func compileTermSet(terms []string) (*regexp.Regexp, error) {
	alternatives := make([]string, 0, len(terms))
	for _, term := range terms {
		words := strings.Fields(strings.TrimSpace(term))
		if len(words) == 0 {
			continue
		}
		escaped := make([]string, len(words))
		for i, word := range words {
			escaped[i] = regexp.QuoteMeta(word)
		}
		alternatives = append(alternatives, strings.Join(escaped, `\s+`))
	}
	if len(alternatives) == 0 {
		return nil, errors.New("empty term set")
	}
	return regexp.Compile(`(?i)\b(?:` + strings.Join(alternatives, "|") + `)\b`)
}

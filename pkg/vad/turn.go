package vad

import (
	"strings"
	"unicode"
)

// TurnDetector reports whether a transcript reads as a finished turn.
type TurnDetector interface {
	Complete(text string) bool
}

// PunctuationTurnDetector treats a transcript as complete when it ends in
// terminal punctuation and its last word does not leave the sentence open.
type PunctuationTurnDetector struct {
	// Trailing holds lowercase words that keep a turn open when they come
	// last ("y", "pero", "que").
	Trailing map[string]bool

	// Fillers are hesitation sounds that keep a turn open.
	Fillers map[string]bool
}

var spanishTrailing = []string{
	"y", "e", "o", "u", "ni", "pero", "que", "porque", "pues", "entonces",
	"de", "del", "a", "al", "en", "con", "para", "por", "sin", "sobre",
	"el", "la", "los", "las", "un", "una", "mi", "su", "como", "cuando",
	"si", "aunque", "digamos",
}

var spanishFillers = []string{"eh", "ehh", "em", "mm", "mmm", "este", "ah", "bueno"}

var englishTrailing = []string{
	"and", "or", "but", "so", "because", "the", "a", "an", "to", "of",
	"with", "for", "in", "on", "my", "your", "if", "when",
}

var englishFillers = []string{"uh", "um", "er", "hmm", "like"}

func set(words ...[]string) map[string]bool {
	m := make(map[string]bool)
	for _, list := range words {
		for _, w := range list {
			m[w] = true
		}
	}
	return m
}

// NewTurnDetector returns a detector for language ("es" or "en"). Other
// languages get the Spanish and English word lists combined.
func NewTurnDetector(language string) *PunctuationTurnDetector {
	switch strings.ToLower(language) {
	case "es":
		return &PunctuationTurnDetector{Trailing: set(spanishTrailing), Fillers: set(spanishFillers)}
	case "en":
		return &PunctuationTurnDetector{Trailing: set(englishTrailing), Fillers: set(englishFillers)}
	default:
		return &PunctuationTurnDetector{
			Trailing: set(spanishTrailing, englishTrailing),
			Fillers:  set(spanishFillers, englishFillers),
		}
	}
}

// Complete implements TurnDetector.
func (d *PunctuationTurnDetector) Complete(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}

	last, _ := lastRune(text)
	switch last {
	case '.', '?', '!', '…':
	default:
		return false
	}

	// An opened Spanish question or exclamation must be closed.
	if strings.Count(text, "¿") > strings.Count(text, "?") ||
		strings.Count(text, "¡") > strings.Count(text, "!") {
		return false
	}

	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return unicode.IsSpace(r) || (unicode.IsPunct(r) && r != '\'')
	})
	if len(words) == 0 {
		return false
	}
	w := words[len(words)-1]
	if d.Fillers[w] {
		return false
	}
	if d.Trailing[w] && last != '?' {
		return false
	}
	return true
}

func lastRune(s string) (rune, bool) {
	r := []rune(s)
	if len(r) == 0 {
		return 0, false
	}
	return r[len(r)-1], true
}

var _ TurnDetector = (*PunctuationTurnDetector)(nil)

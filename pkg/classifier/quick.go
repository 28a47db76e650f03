package classifier

import (
	"strings"

	"github.com/podoskin/agent-core/pkg/models"
)

var greetingPrefixes = []string{
	"hola", "buenos días", "buenos dias", "buenas tardes", "buenas noches",
	"hey", "qué tal", "que tal", "hello", "hi ", "good morning",
}

var outOfScopeWords = []string{
	"clima", "weather", "noticias", "news", "chiste", "joke",
	"juego", "música", "musica",
}

// IsGreeting reports whether the message is a bare greeting that deserves a
// canned reply instead of a classifier call.
func IsGreeting(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	if len(t) >= 30 {
		return false
	}
	for _, g := range greetingPrefixes {
		if strings.HasPrefix(t, g) {
			return true
		}
	}
	return false
}

// Quick handles unambiguous off-topic messages without spending an LLM call.
// Returns nil when the full classifier must run.
func Quick(text string) *Result {
	t := strings.ToLower(text)
	for _, w := range outOfScopeWords {
		if strings.Contains(t, w) {
			return &Result{
				Intent:   models.Intent{Type: models.IntentOutOfScope, Confidence: 0.9},
				Entities: models.EntitySet{},
			}
		}
	}
	return nil
}

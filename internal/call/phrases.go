package call

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

// fuzzyMinRunes is the minimum phrase length for Levenshtein tolerance.
// Shorter words like "bye" would collide with too much ordinary speech
// ("by", "buy") if fuzzed.
const fuzzyMinRunes = 4

// PhraseDetector matches configured closing phrases against finalized caller
// utterances. Matching is case-insensitive and word-boundary safe: the
// utterance is lowercased and tokenized on non-alphanumeric runs (apostrophes
// stay inside words), and a phrase matches when its token sequence appears
// contiguously. So "that's all" matches "Thank you, that's all for today" but
// not "That's alarming news".
//
// Single-word phrases of at least four runes additionally tolerate a
// Levenshtein distance of one, absorbing common transcription misspellings
// ("goodby" → "goodbye") without ever fuzzing short words.
type PhraseDetector struct {
	phrases []phrase
}

type phrase struct {
	raw    string
	tokens []string
}

// NewPhraseDetector compiles the phrase list. Empty or whitespace-only
// entries are skipped.
func NewPhraseDetector(phrases []string) *PhraseDetector {
	d := &PhraseDetector{}
	for _, p := range phrases {
		toks := tokenize(p)
		if len(toks) == 0 {
			continue
		}
		d.phrases = append(d.phrases, phrase{raw: p, tokens: toks})
	}
	return d
}

// Match reports whether the utterance contains a closing phrase, returning
// the configured phrase that matched.
func (d *PhraseDetector) Match(utterance string) (string, bool) {
	toks := tokenize(utterance)
	if len(toks) == 0 {
		return "", false
	}
	for _, p := range d.phrases {
		if matchTokens(toks, p.tokens) {
			return p.raw, true
		}
	}
	return "", false
}

func matchTokens(utterance, phrase []string) bool {
	if len(phrase) == 1 {
		want := phrase[0]
		fuzzy := utf8.RuneCountInString(want) >= fuzzyMinRunes
		for _, tok := range utterance {
			if tok == want {
				return true
			}
			if fuzzy && matchr.Levenshtein(tok, want) <= 1 {
				return true
			}
		}
		return false
	}
	for i := 0; i+len(phrase) <= len(utterance); i++ {
		match := true
		for j, want := range phrase {
			if utterance[i+j] != want {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// tokenize lowercases s and splits it on runs of non-alphanumeric runes,
// keeping apostrophes that sit inside a word ("that's" stays one token).
func tokenize(s string) []string {
	s = strings.ToLower(s)
	var tokens []string
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			tokens = append(tokens, strings.Trim(b.String(), "'"))
			b.Reset()
		}
	}
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '\'' || r == '’':
			// Normalize curly apostrophes; leading/trailing ones are
			// trimmed on flush.
			b.WriteRune('\'')
		default:
			flush()
		}
	}
	flush()
	out := tokens[:0]
	for _, t := range tokens {
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

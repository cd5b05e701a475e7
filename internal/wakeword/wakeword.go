// Package wakeword matches the assistant's trigger phrase in speech-to-text output.
//
// Recognizers routinely misspell an uncommon name, so the detector carries a
// generous set of spelling variants and compares whole normalized words.
package wakeword

import (
	"strings"
	"unicode"
)

var (
	greetings = []string{"hey", "hi", "hay", "hei", "okay", "ok"}
	names     = []string{
		"mira", "meera", "mirah", "myra", "mera", "miera",
		"meira", "mirra", "mirror", "nira", "lira", "moira",
	}
	joined = []string{"heymira", "himira"}
)

// DefaultVariants returns the built-in wake-word spellings.
func DefaultVariants() []string {
	out := make([]string, 0, len(greetings)*len(names)+len(joined))
	for _, g := range greetings {
		for _, n := range names {
			out = append(out, g+" "+n)
		}
	}
	return append(out, joined...)
}

// Default is the detector used by the package-level helpers.
var Default = New(DefaultVariants()...)

// Detector holds a fixed set of normalized wake-word variants.
type Detector struct {
	variants [][]string
}

// New builds a detector. Variants are normalized; empty ones are ignored.
func New(variants ...string) *Detector {
	d := &Detector{}
	seen := make(map[string]struct{}, len(variants))
	for _, v := range variants {
		n := Normalize(v)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		d.variants = append(d.variants, strings.Fields(n))
	}
	return d
}

// ContainsWakeWord reports whether any variant appears anywhere in text.
func ContainsWakeWord(text string) bool { return Default.ContainsWakeWord(text) }

// EndsWithWakeWord reports whether the normalized text ends in a variant.
func EndsWithWakeWord(text string) bool { return Default.EndsWithWakeWord(text) }

// StripWakeWordPrefix returns the query spoken after the wake word.
func StripWakeWordPrefix(text string) string { return Default.StripWakeWordPrefix(text) }

func (d *Detector) ContainsWakeWord(text string) bool {
	toks := tokenize(text)
	for i := range toks {
		if d.matchAt(toks, i) > 0 {
			return true
		}
	}
	return false
}

func (d *Detector) EndsWithWakeWord(text string) bool {
	toks := tokenize(text)
	for _, v := range d.variants {
		start := len(toks) - len(v)
		if start < 0 {
			continue
		}
		if wordsEqual(toks[start:], v) {
			return true
		}
	}
	return false
}

// StripWakeWordPrefix removes everything up to and including the last wake-word
// occurrence plus the punctuation and spaces that follow it. Input without a
// wake word is returned unchanged.
func (d *Detector) StripWakeWordPrefix(text string) string {
	toks := tokenize(text)
	end := -1
	for i := 0; i < len(toks); {
		n := d.matchAt(toks, i)
		if n == 0 {
			i++
			continue
		}
		end = toks[i+n-1].end
		i += n
	}
	if end < 0 {
		return text
	}
	rest := strings.TrimLeftFunc(text[end:], func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	return strings.TrimSpace(rest)
}

// matchAt returns the number of tokens consumed by the longest variant starting
// at toks[i], or 0.
func (d *Detector) matchAt(toks []token, i int) int {
	best := 0
	for _, v := range d.variants {
		if len(v) <= best || i+len(v) > len(toks) {
			continue
		}
		if wordsEqual(toks[i:i+len(v)], v) {
			best = len(v)
		}
	}
	return best
}

// Normalize lowercases text, drops in-word apostrophes and collapses every other
// run of punctuation or whitespace into a single space.
func Normalize(text string) string {
	toks := tokenize(text)
	words := make([]string, len(toks))
	for i, t := range toks {
		words[i] = t.word
	}
	return strings.Join(words, " ")
}

type token struct {
	word  string
	start int
	end   int
}

func tokenize(text string) []token {
	var (
		out   []token
		b     strings.Builder
		start = -1
		end   int
	)
	flush := func() {
		if start >= 0 && b.Len() > 0 {
			out = append(out, token{word: b.String(), start: start, end: end})
		}
		b.Reset()
		start = -1
	}
	for i, r := range text {
		switch {
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			if start < 0 {
				start = i
			}
			b.WriteRune(unicode.ToLower(r))
			end = i + len(string(r))
		case (r == '\'' || r == '’') && start >= 0:
			// "what's" -> "whats"
			end = i + len(string(r))
		default:
			flush()
		}
	}
	flush()
	return out
}

func wordsEqual(toks []token, words []string) bool {
	if len(toks) != len(words) {
		return false
	}
	for i := range toks {
		if toks[i].word != words[i] {
			return false
		}
	}
	return true
}

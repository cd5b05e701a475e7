package transcript

import "strings"

const (
	defaultColumns   = 30
	defaultLines     = 3
	defaultMaxFinals = 30
)

// LiveBuffer fuses partial and final fragments into the text shown on the
// glasses while a turn is listening. It is not safe for concurrent use.
type LiveBuffer struct {
	columns   int
	lines     int
	maxFinals int

	finals  []string
	partial string
}

func NewLiveBuffer(columns, lines, maxFinals int) *LiveBuffer {
	if columns <= 0 {
		columns = defaultColumns
	}
	if lines <= 0 {
		lines = defaultLines
	}
	if maxFinals <= 0 {
		maxFinals = defaultMaxFinals
	}
	return &LiveBuffer{columns: columns, lines: lines, maxFinals: maxFinals}
}

// Update records a fragment and returns the reflowed display text. A partial
// replaces the previous partial; a final is appended to the history and clears
// the partial.
func (b *LiveBuffer) Update(text string, final bool) string {
	text = strings.TrimSpace(text)
	if !final {
		b.partial = text
		return b.Render()
	}
	b.partial = ""
	if text != "" {
		b.finals = append(b.finals, text)
		if over := len(b.finals) - b.maxFinals; over > 0 {
			b.finals = append(b.finals[:0], b.finals[over:]...)
		}
	}
	return b.Render()
}

// Finals returns a copy of the retained finalized fragments.
func (b *LiveBuffer) Finals() []string {
	return append([]string(nil), b.finals...)
}

// Text joins the finals and the current partial without wrapping.
func (b *LiveBuffer) Text() string {
	parts := append([]string(nil), b.finals...)
	if b.partial != "" {
		parts = append(parts, b.partial)
	}
	return strings.Join(parts, " ")
}

func (b *LiveBuffer) Reset() {
	b.finals = b.finals[:0]
	b.partial = ""
}

// Render wraps finals plus the current partial to the column width and keeps the
// newest lines. Short output is padded with leading blank lines so the display
// always receives exactly the configured line count.
func (b *LiveBuffer) Render() string {
	wrapped := wrapWords(b.Text(), b.columns)
	if len(wrapped) > b.lines {
		wrapped = wrapped[len(wrapped)-b.lines:]
	}
	out := make([]string, 0, b.lines)
	for i := len(wrapped); i < b.lines; i++ {
		out = append(out, "")
	}
	out = append(out, wrapped...)
	return strings.Join(out, "\n")
}

func wrapWords(text string, width int) []string {
	var (
		lines []string
		cur   strings.Builder
	)
	flush := func() {
		if cur.Len() > 0 {
			lines = append(lines, cur.String())
			cur.Reset()
		}
	}
	for _, word := range strings.Fields(text) {
		r := []rune(word)
		for len(r) > width {
			flush()
			lines = append(lines, string(r[:width]))
			r = r[width:]
		}
		word = string(r)
		if word == "" {
			continue
		}
		n := len([]rune(word))
		if cur.Len() > 0 && len([]rune(cur.String()))+1+n > width {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(word)
	}
	flush()
	return lines
}

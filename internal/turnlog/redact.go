package turnlog

import "regexp"

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
	phonePattern = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
)

// RedactPII masks emails, card numbers and phone numbers. Cards are matched
// before phones so long digit runs are labeled as cards.
func RedactPII(input string) (string, bool) {
	out := input
	for _, r := range []struct {
		re   *regexp.Regexp
		mask string
	}{
		{emailPattern, "[email]"},
		{cardPattern, "[card]"},
		{phonePattern, "[phone]"},
	} {
		out = r.re.ReplaceAllString(out, r.mask)
	}
	return out, out != input
}

// Package ansi strips terminal escape sequences and control characters from
// interactive session output before it is returned over the wire.
package ansi

import "regexp"

var sequences = []*regexp.Regexp{
	regexp.MustCompile(`\x1b\[[0-?]*[ -/]*[@-~]`),     // CSI
	regexp.MustCompile(`\x1b\].*?(?:\x07|\x1b\\)`),    // OSC
	regexp.MustCompile(`\x1bP.*?\x1b\\`),              // DCS
	regexp.MustCompile(`\x1b\^.*?\x1b\\`),             // PM
	regexp.MustCompile(`\x1b_.*?\x1b\\`),              // APC
	regexp.MustCompile(`\x1b[()][0-9A-Za-z]`),         // charset selection
	regexp.MustCompile(`\x1b[=>]`),                    // keypad modes
	regexp.MustCompile(`\x1b.`),                       // any remaining escape
}

// Strip removes escape sequences and non-printing control bytes, keeping
// newlines and tabs. Known limitation: an escape sequence split across two
// reads may be left partially un-stripped, since Strip only sees one chunk
// at a time.
func Strip(s string) string {
	for _, re := range sequences {
		s = re.ReplaceAllString(s, "")
	}

	result := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if ch == '\r' {
			continue
		}
		if (ch < 0x20 || ch == 0x7f) && ch != '\n' && ch != '\t' {
			continue
		}
		result = append(result, ch)
	}
	return string(result)
}

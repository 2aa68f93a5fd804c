package diff

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var quoteFolder = strings.NewReplacer(
	"‘", "'", "’", "'", "‚", "'", "′", "'",
	"“", `"`, "”", `"`, "„", `"`, "«", `"`, "»", `"`, "″", `"`,
)

var folder = cases.Fold()

// Normalize returns the comparison key of a token: NFC, whitespace
// collapsed, optionally case and quote folded.
func Normalize(s string, opts Options) string {
	s = norm.NFC.String(s)
	s = strings.Join(strings.Fields(s), " ")
	if opts.IgnoreQuotes {
		s = quoteFolder.Replace(s)
	}
	if opts.CaseInsensitive {
		s = folder.String(s)
	}
	return s
}

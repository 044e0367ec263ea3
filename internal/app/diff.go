package app

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

const diffContext = 2

// sentences splits text into one sentence per line so that diffs do not
// depend on how either side was wrapped.
func sentences(text string) []string {
	var lines, cur []string
	for _, w := range strings.Fields(text) {
		cur = append(cur, w)
		if strings.ContainsAny(w[len(w)-1:], ".!?") {
			lines = append(lines, strings.Join(cur, " ")+"\n")
			cur = cur[:0]
		}
	}
	if len(cur) > 0 {
		lines = append(lines, strings.Join(cur, " ")+"\n")
	}
	return lines
}

// TextDiff returns a unified diff from the stored text to the live text,
// one sentence per line. Texts that only differ in whitespace give "".
func TextDiff(stored, live string) (string, error) {
	a, b := sentences(stored), sentences(live)
	if strings.Join(a, "") == strings.Join(b, "") {
		return "", nil
	}
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        a,
		B:        b,
		FromFile: "stored",
		ToFile:   "live",
		Context:  diffContext,
	})
}

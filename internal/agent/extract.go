package agent

import "regexp"

var prURLPattern = regexp.MustCompile(`https://github\.com/[^\s)]+/pull/\d+`)

// ExtractPRURL returns the first GitHub pull request URL found in text.
func ExtractPRURL(text string) (string, bool) {
	m := prURLPattern.FindString(text)
	return m, m != ""
}

// Package sanitize reduces user-supplied strings to plain text before they
// are placed into outbound HTML. Uses bluemonday's strict policy, which
// drops every element and attribute and keeps only text content.
package sanitize

import (
	"html"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

// policy is the singleton strict policy. bluemonday policies are safe for
// concurrent use once built.
var (
	policy     *bluemonday.Policy
	policyOnce sync.Once
)

func getPolicy() *bluemonday.Policy {
	policyOnce.Do(func() {
		policy = bluemonday.StrictPolicy()
	})
	return policy
}

// PlainText strips all markup from input and returns the remaining text,
// unescaped and with surrounding whitespace trimmed. The result is plain
// text and must still be escaped when written into HTML.
func PlainText(input string) string {
	if input == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(getPolicy().Sanitize(input)))
}

// Name is PlainText with internal whitespace runs collapsed to one space,
// for display names taken from account records.
func Name(input string) string {
	return strings.Join(strings.Fields(PlainText(input)), " ")
}

// Package rules implements the pure predicate that decides whether a
// decoded message matches a configured forwarding rule.
package rules

import (
	"strings"

	"github.com/percebe/percebe/internal/mailcodec"
	"github.com/percebe/percebe/internal/store"
)

// Matches reports whether msg satisfies rule's sender and subject
// filters. An empty filter list matches any value for that field —
// existing deployments rely on this to build "forward everything" rules.
// Evaluation is pure and deterministic: calling it twice on the same
// inputs always returns the same result.
func Matches(msg mailcodec.Message, rule store.Rule) bool {
	return matchesAny(rule.Senders, msg.From) && matchesAny(rule.SubjectKeywords, msg.Subject)
}

func matchesAny(needles []string, haystack string) bool {
	if len(needles) == 0 {
		return true
	}
	lower := strings.ToLower(haystack)
	for _, needle := range needles {
		if strings.Contains(lower, strings.ToLower(needle)) {
			return true
		}
	}
	return false
}

// Package classifier decides whether a billed resource is in reporting scope.
//
// The default policy is a coarse, case-insensitive substring match of the exclusion
// token against the resource name. A name that merely contains the token inside an
// unrelated word ("DevDVDarchive") is excluded too; MatchSegment narrows the rule to
// whole name segments (split on any non-alphanumeric rune) when that false positive
// matters; with segment matching the token must name the whole segment, e.g. "AVD".
package classifier

import (
	"strings"
	"unicode"

	"github.com/finops-claw-gang/costpipe/internal/domain"
)

// DefaultToken is the exclusion token for virtual-desktop (AVD) resources.
const DefaultToken = "VD"

// Classifier tags resources matching the exclusion token.
type Classifier struct {
	token    string
	strategy domain.MatchStrategy
}

// New creates a Classifier. An empty token falls back to DefaultToken and an
// empty strategy to substring matching.
func New(token string, strategy domain.MatchStrategy) *Classifier {
	if token == "" {
		token = DefaultToken
	}
	if strategy == "" {
		strategy = domain.MatchSubstring
	}
	return &Classifier{token: strings.ToLower(token), strategy: strategy}
}

// IsExcluded reports whether the resource name matches the exclusion token.
func (c *Classifier) IsExcluded(resourceName string) bool {
	name := strings.ToLower(resourceName)
	if c.strategy == domain.MatchSegment {
		for _, seg := range strings.FieldsFunc(name, isSeparator) {
			if seg == c.token {
				return true
			}
		}
		return false
	}
	return strings.Contains(name, c.token)
}

// Token returns the configured (lower-cased) exclusion token.
func (c *Classifier) Token() string {
	return c.token
}

func isSeparator(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

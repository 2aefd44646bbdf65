package narrative

import (
	"errors"
	"regexp"
	"strings"

	"github.com/finops-claw-gang/costpipe/internal/domain"
)

// ErrNoSections means a completion carried none of the requested headings.
var ErrNoSections = errors.New("narrative: response has no labeled sections")

// headingLine matches a markdown-style heading, optionally bold and colon-terminated.
var headingLine = regexp.MustCompile(`^\s*#{1,4}\s*\**\s*([A-Za-z ]+?)\s*:?\s*\**\s*:?\s*$`)

// Parse splits a completion into its labeled sections. Text before the first
// heading and under unknown headings is discarded; a repeated heading keeps
// its first body.
func Parse(text string) (map[domain.NarrativeSection]string, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```markdown")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	known := make(map[string]domain.NarrativeSection, len(domain.NarrativeSections))
	for _, s := range domain.NarrativeSections {
		known[strings.ToUpper(string(s))] = s
	}

	out := map[domain.NarrativeSection]string{}
	var (
		current domain.NarrativeSection
		body    []string
	)
	flush := func() {
		if current == "" {
			return
		}
		if _, seen := out[current]; !seen {
			if t := strings.TrimSpace(strings.Join(body, "\n")); t != "" {
				out[current] = t
			}
		}
	}
	for _, line := range strings.Split(text, "\n") {
		if m := headingLine.FindStringSubmatch(line); m != nil {
			flush()
			current = known[strings.ToUpper(strings.TrimSpace(m[1]))]
			body = body[:0]
			continue
		}
		if current != "" {
			body = append(body, line)
		}
	}
	flush()

	if len(out) == 0 {
		return nil, ErrNoSections
	}
	return out, nil
}

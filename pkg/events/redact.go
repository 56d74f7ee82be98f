package events

import (
	"regexp"
	"strings"
)

const redactedMarker = "[REDACTED]"

var namedPatterns = map[string]string{
	"email": `(?i)[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,}`,
	"cc16":  `\b(?:\d[ -]?){16}\b`,
	"jwt":   `eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9._-]+\.[A-Za-z0-9._-]+`,
}

// Redactor masks sensitive text in window snapshots before they are
// persisted. The zero value is a no-op.
type Redactor struct {
	patterns []*regexp.Regexp
}

// NewRedactor compiles the built-in email pattern when redactEmails is set,
// followed by custom expressions. Custom entries may name a built-in
// pattern (email, cc16, jwt).
func NewRedactor(redactEmails bool, custom []string) (Redactor, error) {
	exprs := make([]string, 0, len(custom)+1)
	if redactEmails {
		exprs = append(exprs, namedPatterns["email"])
	}
	for _, expr := range custom {
		trimmed := strings.TrimSpace(expr)
		if trimmed == "" {
			continue
		}
		if mapped, ok := namedPatterns[strings.ToLower(trimmed)]; ok {
			trimmed = mapped
		}
		exprs = append(exprs, trimmed)
	}

	r := Redactor{patterns: make([]*regexp.Regexp, 0, len(exprs))}
	for _, expr := range exprs {
		rx, err := regexp.Compile(expr)
		if err != nil {
			return Redactor{}, err
		}
		r.patterns = append(r.patterns, rx)
	}
	return r, nil
}

// String redacts every configured pattern in input.
func (r Redactor) String(input string) string {
	for _, rx := range r.patterns {
		input = rx.ReplaceAllString(input, redactedMarker)
	}
	return input
}

// Window returns a copy of ev with its title and state values redacted.
func (r Redactor) Window(ev WindowEvent) WindowEvent {
	if len(r.patterns) == 0 {
		return ev
	}
	ev.Title = r.String(ev.Title)
	if len(ev.State) > 0 {
		state := make(map[string]string, len(ev.State))
		for k, v := range ev.State {
			state[k] = r.String(v)
		}
		ev.State = state
	}
	return ev
}

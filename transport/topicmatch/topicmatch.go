// Package topicmatch translates AMQP-style dot-segmented routing-key
// patterns into anchored regular expressions, so transport.Bind can
// match a pattern like "team.*.ping" or "team.1.*" against concrete
// routing keys like "team.0.ping".
//
// Adapted from ha-doozerd's store/glob.go, which does the same
// translation for '/'-segmented path globs; here '.' is the segment
// separator (matching spec.md §6's routing keys: "join", "team.1.ping")
// and '#' (AMQP's own multi-segment wildcard) plays the role ha-doozerd's
// "**" played for "/**".
package topicmatch

import (
	"regexp"
	"strings"
)

// Translate converts a routing-key pattern into an anchored regexp
// source string.
//
//	*   matches exactly one dot-segment
//	#   as the final segment, matches that segment and everything after it
//	literal characters, including further '.', match themselves
func Translate(pattern string) string {
	var b strings.Builder
	b.WriteByte('^')
	segments := strings.Split(pattern, ".")
	for i, seg := range segments {
		if seg == "#" && i == len(segments)-1 {
			if i > 0 {
				b.WriteString(`(\..*)?`)
			} else {
				b.WriteString(`.*`)
			}
			break
		}
		if i > 0 {
			b.WriteString(`\.`)
		}
		if seg == "*" {
			b.WriteString(`[^.]+`)
		} else {
			b.WriteString(regexp.QuoteMeta(seg))
		}
	}
	b.WriteByte('$')
	return b.String()
}

// Matcher is a compiled pattern, safe for concurrent use by multiple
// goroutines (it only reads from the underlying *regexp.Regexp).
type Matcher struct {
	pattern string
	re      *regexp.Regexp
}

// Compile parses a routing-key pattern into a Matcher.
func Compile(pattern string) (*Matcher, error) {
	re, err := regexp.Compile(Translate(pattern))
	if err != nil {
		return nil, err
	}
	return &Matcher{pattern: pattern, re: re}, nil
}

// MustCompile is Compile, panicking on error — for patterns fixed at
// compile time (the protocol's own topics), mirroring regexp.MustCompile.
func MustCompile(pattern string) *Matcher {
	m, err := Compile(pattern)
	if err != nil {
		panic(err)
	}
	return m
}

// Match reports whether routingKey satisfies the pattern.
func (m *Matcher) Match(routingKey string) bool {
	return m.re.MatchString(routingKey)
}

// Pattern returns the original, uncompiled pattern string.
func (m *Matcher) Pattern() string {
	return m.pattern
}

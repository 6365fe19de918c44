package patch

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// wildcard marks a pattern byte that matches anything, or that replace
// leaves untouched.
const wildcard = -1

// Pattern is a byte sequence in which some positions are wildcards.
type Pattern []int

// ParsePattern parses hex bytes such as "74 ?? 48 8b". Whitespace between
// bytes is optional.
func ParsePattern(s string) (Pattern, error) {
	s = strings.Join(strings.Fields(s), "")
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("odd number of hex digits in %q", s)
	}
	p := make(Pattern, 0, len(s)/2)
	for i := 0; i < len(s); i += 2 {
		tok := s[i : i+2]
		if tok == "??" {
			p = append(p, wildcard)
			continue
		}
		b, err := hex.DecodeString(tok)
		if err != nil {
			return nil, fmt.Errorf("bad byte %q", tok)
		}
		p = append(p, int(b[0]))
	}
	return p, nil
}

// Match reports whether data starts with p.
func (p Pattern) Match(data []byte) bool {
	if len(data) < len(p) {
		return false
	}
	for i, c := range p {
		if c != wildcard && data[i] != byte(c) {
			return false
		}
	}
	return true
}

// Apply writes p over the start of data, keeping bytes under wildcards. It
// reports whether any byte changed.
func (p Pattern) Apply(data []byte) bool {
	changed := false
	for i, c := range p {
		if c == wildcard || data[i] == byte(c) {
			continue
		}
		data[i] = byte(c)
		changed = true
	}
	return changed
}

func (p Pattern) String() string {
	parts := make([]string, len(p))
	for i, c := range p {
		if c == wildcard {
			parts[i] = "??"
		} else {
			parts[i] = fmt.Sprintf("%02x", c)
		}
	}
	return strings.Join(parts, " ")
}

package hooks

import "strings"

// pattern is a registry key compiled into literal fragments. A '*' between
// two fragments matches any run of characters, including none.
type pattern struct {
	raw   string
	parts []string // nil for patterns without a wildcard
}

func compilePattern(s string) pattern {
	if !strings.Contains(s, "*") {
		return pattern{raw: s}
	}
	return pattern{raw: s, parts: strings.Split(s, "*")}
}

// match reports whether the pattern accounts for the whole key. Middle
// fragments are taken at their leftmost occurrence, which is enough for '*'
// globs and never revisits a position, so the cost stays linear in the key
// for any number of wildcards.
func (p pattern) match(key string) bool {
	if p.parts == nil {
		return p.raw == key
	}

	first, last := p.parts[0], p.parts[len(p.parts)-1]
	if len(key) < len(first)+len(last) {
		return false
	}
	if !strings.HasPrefix(key, first) || !strings.HasSuffix(key, last) {
		return false
	}

	rest := key[len(first) : len(key)-len(last)]
	for _, frag := range p.parts[1 : len(p.parts)-1] {
		i := strings.Index(rest, frag)
		if i < 0 {
			return false
		}
		rest = rest[i+len(frag):]
	}
	return true
}

// MatchPattern reports whether a hook pattern such as "before:message.*"
// applies to a key such as "before:message.send". '*' is the only wildcard;
// every other character, including '.', is literal.
func MatchPattern(pattern, key string) bool {
	return compilePattern(pattern).match(key)
}

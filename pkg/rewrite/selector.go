package rewrite

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// Selector matches elements whose attribute value starts with a prefix,
// the CSS form tag[attr^="prefix"].
type Selector struct {
	Tag    string
	Attr   string
	Prefix string
}

// AttrPrefix builds a Selector. Tag and attribute names are case-insensitive.
func AttrPrefix(tag, attr, prefix string) Selector {
	return Selector{
		Tag:    strings.ToLower(tag),
		Attr:   strings.ToLower(attr),
		Prefix: prefix,
	}
}

var selectorPattern = regexp.MustCompile(`^\s*([A-Za-z][A-Za-z0-9-]*)\[\s*([A-Za-z_:][-A-Za-z0-9_:.]*)\s*\^=\s*(?:"([^"]*)"|'([^']*)'|([^\s\]"']+))\s*\]\s*$`)

// ParseSelector parses a selector of the form a[class^="etsy"].
func ParseSelector(s string) (Selector, error) {
	m := selectorPattern.FindStringSubmatch(s)
	if m == nil {
		return Selector{}, fmt.Errorf("unsupported selector %q: want tag[attr^=\"prefix\"]", s)
	}
	prefix := m[3] + m[4] + m[5]
	if prefix == "" {
		return Selector{}, fmt.Errorf("selector %q has an empty prefix", s)
	}
	return AttrPrefix(m[1], m[2], prefix), nil
}

// Matches reports whether an element with the given lower-cased tag name
// and attributes is selected. An empty prefix matches nothing, as in CSS.
func (s Selector) Matches(tag string, attrs []html.Attribute) bool {
	if tag != s.Tag || s.Prefix == "" {
		return false
	}
	for _, a := range attrs {
		if a.Namespace == "" && a.Key == s.Attr {
			return strings.HasPrefix(a.Val, s.Prefix)
		}
	}
	return false
}

// String renders the selector in CSS syntax.
func (s Selector) String() string {
	return fmt.Sprintf("%s[%s^=%q]", s.Tag, s.Attr, s.Prefix)
}

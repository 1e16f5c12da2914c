package cacheproxy

import "bytes"

// noStoreDirectives are the tokens that make a response non-cacheable when
// present as a full directive in a Cache-Control header. "max-age=0" is matched as
// the literal three-token sequence rather than the generic "name[=...]" pattern,
// since max-age=N with N>0 is cacheable.
var noStoreDirectives = [][]byte{
	[]byte("private"),
	[]byte("no-store"),
	[]byte("no-cache"),
	[]byte("must-revalidate"),
	[]byte("proxy-revalidate"),
}

// isCacheableResponse inspects the response-header block (only the prefix up to
// the first CRLFCRLF is consulted) and returns false iff a Cache-Control header is
// present whose value contains one of the disallowed directives as a full token.
// Absence of any Cache-Control header is cacheable.
func isCacheableResponse(headerBlock []byte) bool {
	value, ok := cacheControlValue(headerBlock)
	if !ok {
		return true
	}
	lower := bytes.ToLower(value)

	for _, directive := range noStoreDirectives {
		if directiveMatches(lower, directive, true) {
			return false
		}
	}
	if directiveMatches(lower, []byte("max-age=0"), false) {
		return false
	}
	return true
}

// extractMaxAge finds the max-age directive within Cache-Control and parses its
// value as a non-negative base-10 integer, saturating at the uint32 maximum.
// Returns 0 when there is no Cache-Control header, no max-age directive, no '=',
// or an unparseable value. A left-hand delimiter (start-of-value, comma, or space)
// is required before the "max-age" token so that a directive such as
// "no-max-age=5" is not mistaken for max-age.
func extractMaxAge(headerBlock []byte) uint32 {
	value, ok := cacheControlValue(headerBlock)
	if !ok {
		return 0
	}
	lower := bytes.ToLower(value)

	pos := findDelimitedToken(lower, []byte("max-age"))
	if pos < 0 {
		return 0
	}
	rest := lower[pos+len("max-age"):]
	if len(rest) == 0 || rest[0] != '=' {
		return 0
	}
	rest = rest[1:]
	rest = trimLeadingSpaceTab(rest)

	return parseUint32Saturating(rest)
}

// cacheControlValue returns the raw (not lower-cased) value of the first
// Cache-Control header found in headerBlock, scanning only the prefix up to the
// first CRLFCRLF.
func cacheControlValue(headerBlock []byte) ([]byte, bool) {
	if end := bytes.Index(headerBlock, []byte(headerTerminator)); end >= 0 {
		headerBlock = headerBlock[:end]
	}
	lower := bytes.ToLower(headerBlock)
	const needle = "cache-control:"

	idx := -1
	if bytes.HasPrefix(lower, []byte(needle)) {
		idx = 0
	} else if i := bytes.Index(lower, []byte("\n"+needle)); i >= 0 {
		idx = i + 1
	}
	if idx < 0 {
		return nil, false
	}

	rest := headerBlock[idx+len(needle):]
	rest = trimLeadingSpaceTab(rest)
	lineEnd := bytes.Index(rest, []byte("\r\n"))
	if lineEnd < 0 {
		lineEnd = len(rest)
	}
	return rest[:lineEnd], true
}

// directiveMatches reports whether value contains directive as a full token:
// delimited on the left by start-of-string, comma, or whitespace, and on the
// right by NUL, space, tab, comma, or end-of-string. When allowEquals is set
// (name-only directives such as "private" or "no-cache", which may carry a
// quoted argument list), '=' also counts as a right delimiter so that a
// directive name is never confused with a longer one sharing its prefix
// (e.g. "private-cache" must not match "private").
func directiveMatches(value, directive []byte, allowEquals bool) bool {
	pos := findDelimitedToken(value, directive)
	if pos < 0 {
		return false
	}
	after := value[pos+len(directive):]
	if len(after) == 0 {
		return true
	}
	switch after[0] {
	case 0, ' ', '\t', ',':
		return true
	case '=':
		return allowEquals
	default:
		return false
	}
}

// findDelimitedToken returns the offset of the first occurrence of token in value
// whose left edge is start-of-value, a comma, or whitespace, or -1 if none.
func findDelimitedToken(value, token []byte) int {
	offset := 0
	for {
		i := bytes.Index(value[offset:], token)
		if i < 0 {
			return -1
		}
		pos := offset + i
		if leftDelimited(value, pos) {
			return pos
		}
		offset = pos + 1
	}
}

func leftDelimited(value []byte, pos int) bool {
	if pos == 0 {
		return true
	}
	switch value[pos-1] {
	case ',', ' ', '\t':
		return true
	default:
		return false
	}
}

// parseUint32Saturating parses a run of leading ASCII digits as a non-negative
// base-10 integer, saturating at the uint32 maximum on overflow. Returns 0 if no
// digit is present.
func parseUint32Saturating(b []byte) uint32 {
	const maxUint32 = 1<<32 - 1
	i := 0
	var value uint64
	for i < len(b) && b[i] >= '0' && b[i] <= '9' {
		value = value*10 + uint64(b[i]-'0')
		if value > maxUint32 {
			value = maxUint32
		}
		i++
	}
	if i == 0 {
		return 0
	}
	return uint32(value)
}

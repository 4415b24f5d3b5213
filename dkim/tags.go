package dkim

import (
	"errors"
	"strings"
	"unicode"
)

var (
	errIllformedTagSpec = errors.New("dkim: illformed tag-value list")
	errDuplicateTag     = errors.New("dkim: duplicate tag")
)

// parseTagList parses a "tag=value; tag=value; ..." list per RFC 6376 §3.2,
// stripping folding whitespace around '=' and ';' and rejecting duplicate
// tag names.
//
// This generalizes the teacher's parseHeaderParams (which silently
// overwrote duplicates) to surface DUPLICATE_TAG, per spec §4.2.
func parseTagList(s string) (map[string]string, error) {
	params := make(map[string]string)

	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, errIllformedTagSpec
		}

		name := strings.TrimSpace(kv[0])
		if name == "" || !isValidTagName(name) {
			return nil, errIllformedTagSpec
		}

		if _, dup := params[name]; dup {
			return nil, errDuplicateTag
		}

		params[name] = strings.TrimSpace(kv[1])
	}

	return params, nil
}

func isValidTagName(s string) bool {
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// parseTagValueList splits a colon-separated tag value (h=, q=, s=, t=)
// into its components, stripping FWS from each.
func parseTagValueList(s string) []string {
	parts := strings.Split(s, ":")
	for i, p := range parts {
		parts[i] = stripWhitespace(p)
	}
	return parts
}

func stripWhitespace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

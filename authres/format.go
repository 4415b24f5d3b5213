package authres

import (
	"strconv"
	"strings"
)

// Format renders h back into an Authentication-Results field value (without
// the field name), in a canonical, always-quote-when-needed form.
//
// Format is a normalizing printer: Parse(Format(h)) is equal to h for any h
// produced by Parse, which is what makes parse a left inverse of print
// (testable property 6).
func Format(h *Header) string {
	var sb strings.Builder
	sb.WriteString(h.AuthservID)
	if h.Version != 0 {
		sb.WriteByte(' ')
		sb.WriteString(strconv.Itoa(h.Version))
	}

	if len(h.Results) == 0 {
		sb.WriteString("; none")
		return sb.String()
	}

	for _, r := range h.Results {
		sb.WriteString(";\r\n\t")
		sb.WriteString(r.Method)
		if r.MethodVersion != "" {
			sb.WriteByte('/')
			sb.WriteString(r.MethodVersion)
		}
		sb.WriteByte('=')
		sb.WriteString(r.Value)

		if r.Reason != "" {
			sb.WriteString(" reason=")
			sb.WriteString(quoteIfNeeded(r.Reason))
		}

		for _, p := range r.Props {
			sb.WriteByte(' ')
			sb.WriteString(p.Type)
			sb.WriteByte('.')
			sb.WriteString(p.Name)
			sb.WriteByte('=')
			sb.WriteString(quoteIfNeeded(p.Value))
		}
	}

	return sb.String()
}

// quoteIfNeeded quotes v if it contains any character that would not
// round-trip as a bare token.
func quoteIfNeeded(v string) string {
	if v == "" {
		return `""`
	}
	needsQuote := false
	for i := 0; i < len(v); i++ {
		if !isTokenChar(v[i]) || v[i] >= 0x80 {
			needsQuote = true
			break
		}
	}
	if !needsQuote {
		return v
	}

	var sb strings.Builder
	sb.WriteByte('"')
	for i := 0; i < len(v); i++ {
		c := v[i]
		if c == '"' || c == '\\' {
			sb.WriteByte('\\')
		}
		sb.WriteByte(c)
	}
	sb.WriteByte('"')
	return sb.String()
}

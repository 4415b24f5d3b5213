package dkim

import "encoding/base64"

// decodeBase64 decodes a base64 tag value after stripping any interleaved
// folding whitespace, matching the teacher's decodeBase64String.
func decodeBase64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(stripWhitespace(s))
}

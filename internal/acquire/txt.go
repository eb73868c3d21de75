package acquire

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// decodePlainText decodes UTF-8, falling back to Latin-1 and finally to a
// lossy UTF-8 decode with U+FFFD substitution.
func decodePlainText(b []byte) string {
	if utf8.Valid(b) {
		return strings.TrimPrefix(string(b), "\uFEFF")
	}
	if s, err := charmap.ISO8859_1.NewDecoder().Bytes(b); err == nil {
		return string(s)
	}
	return strings.ToValidUTF8(string(b), "\uFFFD")
}

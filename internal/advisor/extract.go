package advisor

import (
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
)

// stripFences removes a surrounding markdown code fence such as ```json ... ```.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// firstBalanced returns the first substring opened by open and closed by its matching close,
// skipping brackets inside JSON strings.
func firstBalanced(s string, open, close byte) (string, bool) {
	start := strings.IndexByte(s, open)
	if start < 0 {
		return "", false
	}

	var (
		depth    int
		inString bool
		escaped  bool
	)
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == open:
			depth++
		case c == close:
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// decodeFirst decodes the first balanced open..close span of s that is valid JSON for T. Prose
// around the answer may carry its own brackets, so a span that fails to decode is skipped and the
// search resumes at the next open.
func decodeFirst[T any](s string, open, close byte) (T, error) {
	var (
		zero T
		last error
	)
	for off := 0; off < len(s); {
		i := strings.IndexByte(s[off:], open)
		if i < 0 {
			break
		}
		off += i
		if raw, ok := firstBalanced(s[off:], open, close); ok {
			var v T
			err := sonic.ConfigStd.UnmarshalFromString(raw, &v)
			if err == nil {
				return v, nil
			}
			last = err
		}
		off++
	}
	if last != nil {
		return zero, fmt.Errorf("%w: %w", ErrUnparseable, last)
	}
	return zero, fmt.Errorf("%w: no JSON %c%c found", ErrUnparseable, open, close)
}

package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Args are the decoded arguments of an invocation.
type Args map[string]any

// String returns the trimmed argument as text. Numbers are formatted
// without exponent so phone numbers sent as JSON numbers keep their digits.
func (a Args) String(key string) string {
	v, ok := a[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

var ErrInvalidPhone = errors.New("tools: invalid phone number")

// NormalizePhone strips spaces, dashes, dots and parentheses, keeping a
// leading plus sign. The result must be digits only.
func NormalizePhone(s string) (string, error) {
	s = strings.TrimSpace(s)
	var b strings.Builder
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')':
		default:
			return "", fmt.Errorf("%w: unexpected %q", ErrInvalidPhone, r)
		}
	}
	out := b.String()
	if strings.TrimPrefix(out, "+") == "" {
		return "", fmt.Errorf("%w: no digits", ErrInvalidPhone)
	}
	return out, nil
}

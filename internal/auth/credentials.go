package auth

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedCredentials is returned when a credentials list cannot be
// parsed.
var ErrMalformedCredentials = errors.New("malformed credentials list")

// parsePairs parses "left:right,left:right" lists. Only the first colon
// separates the two halves so bcrypt hashes survive intact.
func parsePairs(raw string) (map[string]string, error) {
	pairs := make(map[string]string)

	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		left, right, ok := strings.Cut(entry, ":")
		left = strings.TrimSpace(left)
		right = strings.TrimSpace(right)
		if !ok || left == "" || right == "" {
			return nil, fmt.Errorf("%w: entry %q is not of the form a:b", ErrMalformedCredentials, redact(entry))
		}
		pairs[left] = right
	}

	if len(pairs) == 0 {
		return nil, fmt.Errorf("%w: no entries", ErrMalformedCredentials)
	}

	return pairs, nil
}

// redact keeps secrets out of error messages.
func redact(entry string) string {
	if len(entry) <= 4 {
		return "****"
	}
	return entry[:2] + "****"
}

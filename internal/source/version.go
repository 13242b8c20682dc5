package source

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrVersionUnsupported indicates a dependency older than the required minimum.
var ErrVersionUnsupported = errors.New("source: version below required minimum")

// CheckMinVersion compares dotted numeric versions such as "2.1.4" or
// "2.2.0rc3"; pre-release suffixes are ignored.
func CheckMinVersion(have, want string) error {
	if strings.TrimSpace(want) == "" {
		return nil
	}
	h, err := parseVersion(have)
	if err != nil {
		return err
	}
	w, err := parseVersion(want)
	if err != nil {
		return err
	}
	for i := 0; i < max(len(h), len(w)); i++ {
		var a, b int
		if i < len(h) {
			a = h[i]
		}
		if i < len(w) {
			b = w[i]
		}
		if a > b {
			return nil
		}
		if a < b {
			return fmt.Errorf("%w: have %s, need %s", ErrVersionUnsupported, have, want)
		}
	}
	return nil
}

func parseVersion(v string) ([]int, error) {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	parts := strings.Split(v, ".")
	out := make([]int, 0, len(parts))
	for _, part := range parts {
		digits := part
		if i := strings.IndexFunc(part, func(r rune) bool { return r < '0' || r > '9' }); i >= 0 {
			digits = part[:i]
		}
		if digits == "" {
			if len(out) == 0 {
				return nil, fmt.Errorf("%w: version %q", ErrProtocol, v)
			}
			break
		}
		n, err := strconv.Atoi(digits)
		if err != nil {
			return nil, fmt.Errorf("%w: version %q", ErrProtocol, v)
		}
		out = append(out, n)
		if len(digits) != len(part) {
			break
		}
	}
	return out, nil
}

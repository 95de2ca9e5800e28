package config

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseSize parses a human-readable byte size using binary multiples
// (e.g. "100MB" == 100*1024*1024, "1GB" == 1<<30). Bare digit strings
// are interpreted as bytes. Used for file.max_size and
// file.max_total_size.
func ParseSize(s string) (int64, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return 0, fmt.Errorf("empty size string")
	}

	upper := strings.ToUpper(trimmed)
	multipliers := []struct {
		suffix string
		factor int64
	}{
		{"GB", 1 << 30},
		{"MB", 1 << 20},
		{"KB", 1 << 10},
		{"B", 1},
	}

	for _, m := range multipliers {
		if strings.HasSuffix(upper, m.suffix) {
			numPart := strings.TrimSpace(upper[:len(upper)-len(m.suffix)])
			if numPart == "" {
				return 0, fmt.Errorf("invalid size string %q: missing number", s)
			}
			n, err := strconv.ParseFloat(numPart, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid size string %q: %w", s, err)
			}
			if n < 0 {
				return 0, fmt.Errorf("invalid size string %q: negative value", s)
			}
			return int64(n * float64(m.factor)), nil
		}
	}

	n, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size string %q: no recognised unit and not a bare integer", s)
	}
	return n, nil
}

package token

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var expiryRe = regexp.MustCompile(`^(\d+)\s*([a-z]+)$`)

var expiryUnits = map[string]time.Duration{
	"s": time.Second, "sec": time.Second, "secs": time.Second, "second": time.Second, "seconds": time.Second,
	"m": time.Minute, "min": time.Minute, "mins": time.Minute, "minute": time.Minute, "minutes": time.Minute,
	"h": time.Hour, "hr": time.Hour, "hrs": time.Hour, "hour": time.Hour, "hours": time.Hour,
	"d": 24 * time.Hour, "day": 24 * time.Hour, "days": 24 * time.Hour,
}

// ParseExpiry переводит человекочитаемый срок ("15m", "15 minutes", "7d",
// "7 days") в time.Duration. Дополнительно принимается формат time.ParseDuration
// ("1h30m"). Нулевые, отрицательные и нераспознанные значения дают ErrInvalidDuration.
func ParseExpiry(s string) (time.Duration, error) {
	const op = "token.ParseExpiry"

	raw := strings.ToLower(strings.TrimSpace(s))

	if m := expiryRe.FindStringSubmatch(raw); m != nil {
		unit, ok := expiryUnits[m[2]]
		if !ok {
			return 0, fmt.Errorf("%s: %q: %w", op, s, ErrInvalidDuration)
		}

		n, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil || n <= 0 || n > math.MaxInt64/int64(unit) {
			return 0, fmt.Errorf("%s: %q: %w", op, s, ErrInvalidDuration)
		}

		return time.Duration(n) * unit, nil
	}

	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d, nil
	}

	return 0, fmt.Errorf("%s: %q: %w", op, s, ErrInvalidDuration)
}

package parse

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var durationRe = regexp.MustCompile(`^(?:(\d+)d)?(?:(\d+)(?:hr|h))?(?:(\d+)m)?(?:(\d+)s)?$`)

// ParseDuration reads strings like "1d3h", "90m" or "2hr 30m" and returns the
// summed duration together with ref+duration as a unix timestamp. An empty
// string yields a zero duration; callers reject zero where it is meaningless.
func ParseDuration(text string, ref time.Time) (time.Duration, int64, error) {
	s := strings.ToLower(strings.Join(strings.Fields(text), ""))
	m := durationRe.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, fmt.Errorf("%w: cannot understand duration %q", ErrParse, text)
	}

	var d time.Duration
	for i, unit := range []time.Duration{24 * time.Hour, time.Hour, time.Minute, time.Second} {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.ParseInt(m[i+1], 10, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("%w: cannot understand duration %q", ErrParse, text)
		}
		if n > int64(math.MaxInt64/unit) {
			return 0, 0, fmt.Errorf("%w: duration %q is too long", ErrParse, text)
		}
		v := time.Duration(n) * unit
		if v > math.MaxInt64-d {
			return 0, 0, fmt.Errorf("%w: duration %q is too long", ErrParse, text)
		}
		d += v
	}
	return d, ref.Add(d).Unix(), nil
}

// FormatDuration renders d as "1d 3h 5m" for user-facing messages.
func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return "0m"
	}
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	d -= minutes * time.Minute
	seconds := d / time.Second

	var parts []string
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	if seconds > 0 {
		parts = append(parts, fmt.Sprintf("%ds", seconds))
	}
	return strings.Join(parts, " ")
}

// FormatAmount renders n with thousands separators, e.g. 1500000 -> "1,500,000".
func FormatAmount(n int64) string {
	neg := n < 0
	if neg {
		n = -n
	}
	s := strconv.FormatInt(n, 10)
	var b strings.Builder
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
	}
	for i := pre; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}

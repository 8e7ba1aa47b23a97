package parse

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// ErrParse is returned for malformed numeric or duration input.
var ErrParse = errors.New("parse error")

// abbreviatedRe matches "<millions>m<thousands>k<ones>", every component optional.
var abbreviatedRe = regexp.MustCompile(`^(?:(\d+\.?\d*)m)?(?:(\d+\.?\d*)k)?(\d*\.?\d*)$`)

// StripSeparators removes thousands separators and surrounding whitespace so
// that "1,500,000" and " 300K " can be handed to ParseAbbreviatedNumber.
func StripSeparators(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, " ", "")
	return strings.ToLower(s)
}

// ParseAbbreviatedNumber turns inputs such as "1.5m", "300k", "2500" or
// "1.2m300k" into an integer. Components are summed; fractional results are
// truncated toward zero. Comma separators must already be stripped.
func ParseAbbreviatedNumber(text string) (int64, error) {
	s := strings.ToLower(strings.TrimSpace(text))
	if s == "" {
		return 0, fmt.Errorf("%w: empty number", ErrParse)
	}
	m := abbreviatedRe.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("%w: cannot understand number %q", ErrParse, text)
	}

	var total int64
	for i, mult := range []int64{1_000_000, 1_000, 1} {
		group := m[i+1]
		if group == "" {
			continue
		}
		v, err := scaleDecimal(group, mult)
		if err != nil {
			return 0, fmt.Errorf("%w: cannot understand number %q", ErrParse, text)
		}
		if v > math.MaxInt64-total {
			return 0, fmt.Errorf("%w: number %q is too large", ErrParse, text)
		}
		total += v
	}
	return total, nil
}

// scaleDecimal multiplies a non-negative decimal string by mult without going
// through floating point, truncating digits below one unit.
func scaleDecimal(s string, mult int64) (int64, error) {
	intPart, fracPart, _ := strings.Cut(s, ".")
	if intPart == "" && fracPart == "" {
		return 0, errors.New("no digits")
	}

	var whole int64
	if intPart != "" {
		n, err := strconv.ParseInt(intPart, 10, 64)
		if err != nil {
			return 0, err
		}
		if n > math.MaxInt64/mult {
			return 0, errors.New("overflow")
		}
		whole = n * mult
	}

	var frac int64
	scale := mult
	for _, r := range fracPart {
		scale /= 10
		if scale == 0 {
			break
		}
		frac += int64(r-'0') * scale
	}
	if whole > math.MaxInt64-frac {
		return 0, errors.New("overflow")
	}
	return whole + frac, nil
}

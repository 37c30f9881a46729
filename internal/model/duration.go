package model

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

var ErrISOFormat = errors.New("invalid ISO8601 duration")

// ParseISODuration parses the day and time components of an ISO-8601
// duration, like P1DT2H30M or PT1.5S. Years, months and weeks have no fixed
// length and are rejected.
func ParseISODuration(s string) (time.Duration, error) {
	rest, ok := strings.CutPrefix(s, "P")
	if !ok || rest == "" {
		return 0, ErrISOFormat
	}
	date, clock, hasT := strings.Cut(rest, "T")
	if hasT && clock == "" {
		return 0, ErrISOFormat
	}

	var ret time.Duration
	if date != "" {
		n, unit, tail, err := component(date)
		if err != nil || unit != 'D' || tail != "" || strings.ContainsAny(n, ".,") {
			return 0, ErrISOFormat
		}
		d, err := scale(n, 24*time.Hour)
		if err != nil {
			return 0, err
		}
		ret += d
	}

	units := "HMS"
	for clock != "" {
		n, unit, tail, err := component(clock)
		if err != nil {
			return 0, err
		}
		// units appear at most once and in order
		idx := strings.IndexRune(units, unit)
		if idx < 0 {
			return 0, ErrISOFormat
		}
		units = units[idx+1:]
		if unit != 'S' && strings.ContainsAny(n, ".,") {
			return 0, ErrISOFormat
		}
		d, err := scale(n, unitOf(unit))
		if err != nil {
			return 0, err
		}
		ret += d
		clock = tail
	}
	return ret, nil
}

// component splits "12H..." into "12", 'H' and the remainder.
func component(s string) (string, rune, string, error) {
	end := strings.IndexFunc(s, func(r rune) bool {
		return (r < '0' || r > '9') && r != '.' && r != ',' && r != '-' && r != '+'
	})
	if end <= 0 {
		return "", 0, "", ErrISOFormat
	}
	return s[:end], rune(s[end]), s[end+1:], nil
}

func unitOf(r rune) time.Duration {
	switch r {
	case 'H':
		return time.Hour
	case 'M':
		return time.Minute
	default:
		return time.Second
	}
}

func scale(n string, unit time.Duration) (time.Duration, error) {
	n = strings.Replace(n, ",", ".", 1)
	if _, frac, ok := strings.Cut(n, "."); ok && (frac == "" || len(frac) > 9) {
		return 0, ErrISOFormat
	}
	f, err := strconv.ParseFloat(n, 64)
	if err != nil {
		return 0, ErrISOFormat
	}
	return time.Duration(f * float64(unit)), nil
}

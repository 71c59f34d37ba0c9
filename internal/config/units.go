package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	dayPattern  = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*(d|w)$`)
	sizePattern = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*(b|kb|mb|gb)?$`)
)

// ParseDuration parses a human-readable duration. On top of the standard
// Go forms ("90m", "24h") it accepts day and week suffixes ("7d", "2w").
func ParseDuration(raw string) (time.Duration, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if m := dayPattern.FindStringSubmatch(s); m != nil {
		n, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return 0, fmt.Errorf("parse duration %q: %w", raw, err)
		}
		unit := 24 * time.Hour
		if m[2] == "w" {
			unit = 7 * 24 * time.Hour
		}
		return time.Duration(n * float64(unit)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", raw, err)
	}
	return d, nil
}

// ParseSize parses a byte count with an optional binary-multiple suffix:
// "1048576", "512kb", "10mb", "1gb".
func ParseSize(raw string) (int64, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	m := sizePattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("parse size %q", raw)
	}
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("parse size %q: %w", raw, err)
	}
	mult := float64(1)
	switch m[2] {
	case "kb":
		mult = 1 << 10
	case "mb":
		mult = 1 << 20
	case "gb":
		mult = 1 << 30
	}
	return int64(n * mult), nil
}

package model

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseDurationSeconds accepts "HH:MM:SS", "MM:SS" or a plain number of
// minutes and returns total seconds.
func ParseDurationSeconds(raw string) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, fmt.Errorf("duration is empty")
	}

	parts := strings.Split(trimmed, ":")
	switch len(parts) {
	case 1:
		minutes, err := parseComponent(parts[0], 0)
		if err != nil {
			return 0, err
		}
		return minutes * 60, nil
	case 2:
		minutes, err := parseComponent(parts[0], 0)
		if err != nil {
			return 0, err
		}
		seconds, err := parseComponent(parts[1], 59)
		if err != nil {
			return 0, err
		}
		return minutes*60 + seconds, nil
	case 3:
		hours, err := parseComponent(parts[0], 0)
		if err != nil {
			return 0, err
		}
		minutes, err := parseComponent(parts[1], 59)
		if err != nil {
			return 0, err
		}
		seconds, err := parseComponent(parts[2], 59)
		if err != nil {
			return 0, err
		}
		return hours*3600 + minutes*60 + seconds, nil
	default:
		return 0, fmt.Errorf("duration %q is not HH:MM:SS, MM:SS or minutes", raw)
	}
}

func parseComponent(raw string, max int) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("duration component %q is not a number", raw)
	}
	if value < 0 {
		return 0, fmt.Errorf("duration component %q is negative", raw)
	}
	if max > 0 && value > max {
		return 0, fmt.Errorf("duration component %q exceeds %d", raw, max)
	}
	return value, nil
}

// FormatDurationSeconds renders seconds as HH:MM:SS for display payloads.
func FormatDurationSeconds(total int) string {
	negative := total < 0
	if negative {
		total = -total
	}
	formatted := fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
	if negative {
		return "-" + formatted
	}
	return formatted
}

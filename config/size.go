package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var sizePattern = regexp.MustCompile(`^(?P<value>\d+)(?P<unit>[a-zA-Z]{0,2})$`)

// ParseSize reads sizes such as "600", "64KB" or "1GB". Units are decimal.
func ParseSize(s string) (int64, error) {
	submatch := sizePattern.FindStringSubmatch(strings.TrimSpace(s))
	if submatch == nil {
		return 0, fmt.Errorf("invalid size %q", s)
	}

	value, err := strconv.ParseInt(submatch[1], 10, 64)
	if err != nil {
		return 0, err
	}

	switch strings.ToLower(submatch[2]) {
	case "", "b":
		return value, nil
	case "kb":
		return value * 1e3, nil
	case "mb":
		return value * 1e6, nil
	case "gb":
		return value * 1e9, nil
	default:
		return 0, fmt.Errorf("unknown size unit %q", submatch[2])
	}
}

// SPDX-License-Identifier: AGPL-3.0-or-later

package runtime

import (
	"math"
	"strconv"
	"strings"
)

// ResolveTimeoutMs combines a statement timeout and a plts.max_runtime_ms
// cap into the single effective timeout a call is bounded by: the smaller
// of the two when both are set, whichever one is set when only one is, or
// unbounded (nil) when neither is.
func ResolveTimeoutMs(statementTimeoutMs, maxRuntimeMs *uint64) *uint64 {
	switch {
	case statementTimeoutMs != nil && maxRuntimeMs != nil:
		v := *statementTimeoutMs
		if *maxRuntimeMs < v {
			v = *maxRuntimeMs
		}
		return &v
	case statementTimeoutMs != nil:
		v := *statementTimeoutMs
		return &v
	case maxRuntimeMs != nil:
		v := *maxRuntimeMs
		return &v
	default:
		return nil
	}
}

// ParseStatementTimeoutMs parses a Postgres GUC-style duration string
// ("500ms", "2s", "1min", "0" or empty → unbounded) into milliseconds.
func ParseStatementTimeoutMs(raw string) (uint64, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || trimmed == "0" {
		return 0, false
	}

	magnitude, unit, ok := splitMagnitudeUnit(trimmed)
	if !ok {
		return 0, false
	}

	var multiplier float64
	switch strings.ToLower(unit) {
	case "", "ms", "msec", "msecs", "millisecond", "milliseconds":
		multiplier = 1
	case "s", "sec", "secs", "second", "seconds":
		multiplier = 1_000
	case "min", "mins", "minute", "minutes":
		multiplier = 60_000
	case "h", "hr", "hour", "hours":
		multiplier = 3_600_000
	case "d", "day", "days":
		multiplier = 86_400_000
	case "us", "usec", "usecs", "microsecond", "microseconds":
		multiplier = 0.001
	default:
		return 0, false
	}

	timeoutMs := math.Ceil(magnitude * multiplier)
	if !isFinitePositive(timeoutMs) {
		return 0, false
	}
	return uint64(timeoutMs), true
}

// ParseRuntimeHeapLimitBytes parses a size string ("64mb", "512kb", "1gb",
// "0" or empty → unbounded) into bytes.
func ParseRuntimeHeapLimitBytes(raw string) (uint64, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || trimmed == "0" {
		return 0, false
	}

	magnitude, unit, ok := splitMagnitudeUnit(trimmed)
	if !ok {
		return 0, false
	}

	var multiplier float64
	switch strings.ToLower(unit) {
	case "", "m", "mb", "mib", "megabyte", "megabytes":
		multiplier = 1_048_576
	case "k", "kb", "kib", "kilobyte", "kilobytes":
		multiplier = 1_024
	case "g", "gb", "gib", "gigabyte", "gigabytes":
		multiplier = 1_073_741_824
	case "b", "byte", "bytes":
		multiplier = 1
	default:
		return 0, false
	}

	bytes := math.Ceil(magnitude * multiplier)
	if !isFinitePositive(bytes) || bytes > math.MaxUint32 {
		return 0, false
	}
	return uint64(bytes), true
}

func splitMagnitudeUnit(trimmed string) (float64, string, bool) {
	unitStart := len(trimmed)
	for i, r := range trimmed {
		if !(r >= '0' && r <= '9') && r != '.' {
			unitStart = i
			break
		}
	}
	if unitStart == 0 {
		return 0, "", false
	}

	magnitude, err := strconv.ParseFloat(strings.TrimSpace(trimmed[:unitStart]), 64)
	if err != nil || !isFinitePositive(magnitude) {
		return 0, "", false
	}

	return magnitude, strings.TrimSpace(trimmed[unitStart:]), true
}

func isFinitePositive(v float64) bool {
	return !math.IsInf(v, 0) && !math.IsNaN(v) && v > 0
}

// Package version parses and compares the version and edition strings reported by a graph database.
package version

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// EnterpriseEdition is the edition string reported by enterprise servers.
	EnterpriseEdition = "enterprise"
	// CommunityEdition is the edition string reported by community servers.
	CommunityEdition = "community"

	maxSegments = 3
	maxMinor    = 99
)

// FormatError is returned when a version tag cannot be parsed.
type FormatError struct {
	Tag    string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("malformed version tag %q: %s", e.Tag, e.Reason)
}

// ParseTag converts a dotted version tag into a comparable integer. Each of up to three segments
// is weighted by a power of 100, so "5.7.1" becomes 50701 and "5" becomes 50000. A hyphenated
// suffix on a segment is ignored ("5.14-aura" becomes 51400). Minor and patch segments must be
// below 100; the major segment is unbounded so calendar versions such as "2025.01.0" still order
// after 5.x.
func ParseTag(tag string) (int, error) {
	trimmed := strings.TrimSpace(tag)
	if trimmed == "" {
		return 0, &FormatError{Tag: tag, Reason: "no segments"}
	}

	segments := strings.Split(trimmed, ".")
	if len(segments) > maxSegments {
		return 0, &FormatError{Tag: tag, Reason: fmt.Sprintf("expected at most %d segments, got %d", maxSegments, len(segments))}
	}

	num := 0
	for i := 0; i < maxSegments; i++ {
		num *= 100
		if i >= len(segments) {
			continue
		}

		segment := segments[i]
		if idx := strings.Index(segment, "-"); idx >= 0 {
			segment = segment[:idx]
		}

		value, err := strconv.Atoi(segment)
		if err != nil || value < 0 {
			return 0, &FormatError{Tag: tag, Reason: fmt.Sprintf("segment %d (%q) is not numeric", i+1, segments[i])}
		}
		if i > 0 && value > maxMinor {
			return 0, &FormatError{Tag: tag, Reason: fmt.Sprintf("segment %d (%q) is above %d", i+1, segments[i], maxMinor)}
		}
		num += value
	}
	return num, nil
}

// MustParseTag is like ParseTag but panics on malformed tags. Use it for literal tags only.
func MustParseTag(tag string) int {
	num, err := ParseTag(tag)
	if err != nil {
		panic(err)
	}
	return num
}

// IsHigherThan reports whether current is strictly newer than reference. Partial references such
// as "5" or "5.7" compare at coarse granularity since missing segments count as zero.
func IsHigherThan(current, reference string) (bool, error) {
	c, r, err := parsePair(current, reference)
	if err != nil {
		return false, err
	}
	return c > r, nil
}

// IsAtLeast reports whether current is the same as or newer than reference.
func IsAtLeast(current, reference string) (bool, error) {
	c, r, err := parsePair(current, reference)
	if err != nil {
		return false, err
	}
	return c >= r, nil
}

// IsEnterpriseEdition reports whether edition names the enterprise edition. The comparison is
// case-sensitive.
func IsEnterpriseEdition(edition string) bool {
	return edition == EnterpriseEdition
}

func parsePair(current, reference string) (int, int, error) {
	c, err := ParseTag(current)
	if err != nil {
		return 0, 0, err
	}
	r, err := ParseTag(reference)
	if err != nil {
		return 0, 0, err
	}
	return c, r, nil
}

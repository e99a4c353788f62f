package feed

import (
	"fmt"
	"strconv"
	"strings"
)

// ParsePosition splits a stream position into its millisecond and sequence
// parts. Positions are treated as opaque everywhere except ordering checks.
func ParsePosition(position string) (ms uint64, seq uint64, err error) {
	position = strings.TrimSpace(position)
	left, right, found := strings.Cut(position, "-")
	if !found {
		return 0, 0, fmt.Errorf("malformed position %q", position)
	}
	ms, err = strconv.ParseUint(left, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed position %q: %w", position, err)
	}
	seq, err = strconv.ParseUint(right, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed position %q: %w", position, err)
	}
	return ms, seq, nil
}

// ComparePositions orders two stream positions. It returns a negative value
// when a precedes b, zero when equal, and a positive value when a follows b.
// Lexicographic comparison is wrong for stream IDs ("9-1" vs "10-0"), so the
// parts are compared numerically.
func ComparePositions(a, b string) (int, error) {
	aMs, aSeq, err := ParsePosition(a)
	if err != nil {
		return 0, err
	}
	bMs, bSeq, err := ParsePosition(b)
	if err != nil {
		return 0, err
	}
	switch {
	case aMs != bMs:
		if aMs < bMs {
			return -1, nil
		}
		return 1, nil
	case aSeq != bSeq:
		if aSeq < bSeq {
			return -1, nil
		}
		return 1, nil
	}
	return 0, nil
}

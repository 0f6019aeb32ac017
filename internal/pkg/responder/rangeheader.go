package responder

import (
	"errors"
	"math"
	"strconv"
	"strings"
)

// ParseRange resolves a Range header value against a file of size bytes
// and returns the inclusive span to serve.
//
// The parse is literal. A value without "bytes=" or without a
// dash selects the whole file. An empty start means offset 0 rather than a
// suffix length, so "bytes=-5" serves [0, 5]. Both bounds are clamped to
// size-1 and a start beyond the end is pulled down to the end. Bounds without
// leading digits are treated as absent. size must be positive.
func ParseRange(value string, size int64) (start, end int64) {
	last := size - 1
	i := strings.Index(value, "bytes=")
	if i < 0 {
		return 0, last
	}
	rng := value[i+len("bytes="):]
	startStr, endStr, ok := strings.Cut(rng, "-")
	if !ok {
		return 0, last
	}

	start, end = 0, last
	if n, ok := parseBound(startStr); ok {
		start = n
	}
	if n, ok := parseBound(endStr); ok {
		end = n
	}

	if start > last {
		start = last
	}
	if end > last {
		end = last
	}
	if start > end {
		start = end
	}
	return start, end
}

// parseBound reads the leading decimal digits of s after optional
// whitespace, so "100, 200-300" yields 100. Values past int64 saturate.
func parseBound(s string) (int64, bool) {
	s = strings.TrimLeft(s, " \t")
	s = strings.TrimPrefix(s, "+")
	n := 0
	for n < len(s) && s[n] >= '0' && s[n] <= '9' {
		n++
	}
	if n == 0 {
		return 0, false
	}
	v, err := strconv.ParseInt(s[:n], 10, 64)
	if err != nil {
		if errors.Is(err, strconv.ErrRange) {
			return math.MaxInt64, true
		}
		return 0, false
	}
	return v, true
}

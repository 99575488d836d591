package syncx

import (
	"fmt"
	"strconv"
	"time"
)

// ParseCursor parses a client-supplied pull cursor. The cursor is the highest
// change sequence the client has applied; empty means "from the beginning".
func ParseCursor(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("cursor must be a non-negative integer: %q", s)
	}
	if n < 0 {
		return 0, fmt.Errorf("cursor must be a non-negative integer: %q", s)
	}
	return n, nil
}

// NowMs returns the current Unix milliseconds timestamp (UTC).
func NowMs() int64 {
	return time.Now().UTC().UnixMilli()
}

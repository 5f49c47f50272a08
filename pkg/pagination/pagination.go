// Package pagination pages run logs with opaque keyset cursors.
package pagination

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultLimit is the number of runs returned when no limit is given.
	DefaultLimit = 20
	// MaxLimit caps the runs any single page can hold.
	MaxLimit = 100
)

// Params are the paging inputs shared by the HTTP and CLI log readers.
type Params struct {
	Limit  int
	Cursor string
}

// PageSize clamps the requested limit into 1..MaxLimit.
func (p Params) PageSize() int {
	switch {
	case p.Limit <= 0:
		return DefaultLimit
	case p.Limit > MaxLimit:
		return MaxLimit
	}
	return p.Limit
}

// Fetch is the row count to query; the extra row reveals a following page.
func (p Params) Fetch() int {
	return p.PageSize() + 1
}

// RunCursor points at the head row (sequence 1) of the last run on a page.
// The next page continues strictly after it in (started_at, head id) order.
type RunCursor struct {
	StartedAt time.Time
	HeadID    uuid.UUID
}

// Encode renders the cursor as a URL-safe token.
func (c RunCursor) Encode() string {
	raw := strconv.FormatInt(c.StartedAt.UnixNano(), 36) + "." + c.HeadID.String()
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeRunCursor parses a token produced by Encode. An empty token means
// the first page and yields nil.
func DecodeRunCursor(token string) (*RunCursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("decode run cursor: %w", err)
	}
	stamp, id, ok := strings.Cut(string(raw), ".")
	if !ok {
		return nil, fmt.Errorf("malformed run cursor")
	}
	nanos, err := strconv.ParseInt(stamp, 36, 64)
	if err != nil {
		return nil, fmt.Errorf("run cursor timestamp: %w", err)
	}
	headID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("run cursor id: %w", err)
	}
	return &RunCursor{StartedAt: time.Unix(0, nanos).UTC(), HeadID: headID}, nil
}

// Trim cuts rows fetched with Fetch down to the page size and reports
// whether another page follows.
func Trim[T any](rows []T, p Params) ([]T, bool) {
	size := p.PageSize()
	if len(rows) <= size {
		return rows, false
	}
	return rows[:size], true
}

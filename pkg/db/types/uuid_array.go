package dbtypes

import (
	"database/sql/driver"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// UUIDArray maps a postgres uuid[] column. The array literal is encoded and
// decoded by lib/pq; sqlite stores the same literal as text.
type UUIDArray []uuid.UUID

func (a *UUIDArray) Scan(src any) error {
	if src == nil {
		*a = UUIDArray{}
		return nil
	}
	switch src.(type) {
	case string, []byte:
	default:
		return fmt.Errorf("UUIDArray: unsupported Scan type %T", src)
	}

	var raw pq.StringArray
	if err := raw.Scan(src); err != nil {
		return fmt.Errorf("UUIDArray: %w", err)
	}
	out := make(UUIDArray, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return fmt.Errorf("UUIDArray: parse %q: %w", s, err)
		}
		out = append(out, id)
	}
	*a = out
	return nil
}

func (a UUIDArray) Value() (driver.Value, error) {
	raw := make(pq.StringArray, 0, len(a))
	for _, id := range a {
		raw = append(raw, id.String())
	}
	return raw.Value()
}

// Contains reports whether id is part of the array.
func (a UUIDArray) Contains(id uuid.UUID) bool {
	for _, candidate := range a {
		if candidate == id {
			return true
		}
	}
	return false
}

package validators

import (
	"net/http"
	"strconv"
	"strings"

	pkgerrors "github.com/angelmondragon/jobrouter/pkg/errors"
	"github.com/angelmondragon/jobrouter/pkg/pagination"
)

// maxCursorLen is well past any token RunCursor.Encode produces.
const maxCursorLen = 128

// ParsePage reads the limit and cursor query parameters of a run log
// listing. A missing limit means pagination.DefaultLimit; one outside
// 1..pagination.MaxLimit is rejected rather than clamped so callers learn
// the bound. The cursor is checked here so a bad token fails before the
// store is touched.
func ParsePage(r *http.Request) (pagination.Params, error) {
	query := r.URL.Query()
	params := pagination.Params{Limit: pagination.DefaultLimit}

	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return pagination.Params{}, pkgerrors.New(pkgerrors.CodeValidation, "limit must be numeric").
				WithDetails(map[string]any{"field": "limit"})
		}
		if limit < 1 || limit > pagination.MaxLimit {
			return pagination.Params{}, pkgerrors.New(pkgerrors.CodeValidation, "limit out of range").
				WithDetails(map[string]any{"field": "limit", "min": 1, "max": pagination.MaxLimit})
		}
		params.Limit = limit
	}

	cursor := strings.TrimSpace(query.Get("cursor"))
	if len(cursor) > maxCursorLen {
		return pagination.Params{}, pkgerrors.New(pkgerrors.CodeValidation, "invalid cursor").
			WithDetails(map[string]any{"field": "cursor"})
	}
	if _, err := pagination.DecodeRunCursor(cursor); err != nil {
		return pagination.Params{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor").
			WithDetails(map[string]any{"field": "cursor"})
	}
	params.Cursor = cursor
	return params, nil
}

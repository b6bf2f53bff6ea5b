package api

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"concierge/internal/document"
	"concierge/internal/model"
)

type entityCreateRequest struct {
	ID   string        `json:"id"`
	Type string        `json:"type"`
	Doc  *document.Doc `json:"doc"`
}

type curationCreateRequest struct {
	ID       string        `json:"id"`
	EntityID string        `json:"entity_id"`
	Doc      *document.Doc `json:"doc"`
}

// updateRequest is a PATCH body: a merge patch plus the optional version.
type updateRequest struct {
	Doc     *document.Doc `json:"doc"`
	Version any           `json:"version"`
}

// ListParams is the parsed limit/offset pair of list endpoints.
type ListParams struct {
	Limit  int
	Offset int
}

// parseListParams reads limit/_limit and offset/_offset. Values outside
// [1,maxLimit] or below zero are rejected rather than clamped.
func parseListParams(q url.Values, defaultLimit, maxLimit int) (ListParams, []model.FieldError) {
	p := ListParams{Limit: defaultLimit}
	var errs []model.FieldError

	lv := q.Get("_limit")
	if lv == "" {
		lv = q.Get("limit")
	}
	if lv != "" {
		n, err := strconv.Atoi(strings.TrimSpace(lv))
		if err != nil || n < 1 || n > maxLimit {
			errs = append(errs, model.NewFieldError(model.CodeInvalid, "limit",
				"limit must be an integer between 1 and "+strconv.Itoa(maxLimit)))
		} else {
			p.Limit = n
		}
	}

	ov := q.Get("_offset")
	if ov == "" {
		ov = q.Get("offset")
	}
	if ov != "" {
		n, err := strconv.Atoi(strings.TrimSpace(ov))
		if err != nil || n < 0 {
			errs = append(errs, model.NewFieldError(model.CodeInvalid, "offset",
				"offset must be a non-negative integer"))
		} else {
			p.Offset = n
		}
	}
	return p, errs
}

// parseVersion accepts 3, "3", "\"3\"" and W/"3".
func parseVersion(raw string) (int64, bool) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "W/")
	s = strings.Trim(s, `"'`)
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || v < 1 {
		return 0, false
	}
	return v, true
}

// readExpectedVersion returns the version precondition of a PATCH. The body
// field wins over If-Match when both are given. A present but unreadable
// value is a validation error, not "no precondition".
func readExpectedVersion(c *gin.Context, body any) (*int64, *model.FieldError) {
	if body != nil {
		var (
			v  int64
			ok bool
		)
		switch t := body.(type) {
		case float64:
			if t == float64(int64(t)) && t >= 1 {
				v, ok = int64(t), true
			}
		case string:
			v, ok = parseVersion(t)
		}
		if !ok {
			fe := model.NewFieldError(model.CodeTypeMismatch, "version", "version must be a positive integer")
			return nil, &fe
		}
		return &v, nil
	}

	ifMatch := strings.TrimSpace(c.GetHeader("If-Match"))
	if ifMatch == "" || ifMatch == "*" {
		return nil, nil
	}
	v, ok := parseVersion(ifMatch)
	if !ok {
		fe := model.NewFieldError(model.CodeTypeMismatch, "If-Match", "If-Match must carry a version number")
		return nil, &fe
	}
	return &v, nil
}

func etag(version int64) string {
	return `"` + strconv.FormatInt(version, 10) + `"`
}

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 10000
)

// Pagination is the limit/offset pair of a list request.
type Pagination struct {
	Limit  int
	Offset int
}

// ParsePagination reads ?limit= and ?offset=. A zero or absent limit means
// defaultPageLimit.
func ParsePagination(r *http.Request) (Pagination, error) {
	limit, err := queryInt(r, "limit", defaultPageLimit, maxPageLimit)
	if err != nil {
		return Pagination{}, err
	}
	if limit == 0 {
		limit = defaultPageLimit
	}
	offset, err := queryInt(r, "offset", 0, -1)
	if err != nil {
		return Pagination{}, err
	}
	return Pagination{Limit: limit, Offset: offset}, nil
}

// queryInt parses a non-negative integer query parameter. max < 0 means no
// upper bound.
func queryInt(r *http.Request, name string, def, max int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s: must be a non-negative integer", name)
	}
	if max >= 0 && n > max {
		return 0, fmt.Errorf("%s: must be <= %d", name, max)
	}
	return n, nil
}

type requestBodyTooLargeError struct {
	Limit int64
}

func (e *requestBodyTooLargeError) Error() string {
	return fmt.Sprintf("request body too large (max %d bytes)", e.Limit)
}

// DecodeBody decodes a single JSON object from the request body into v,
// rejecting unknown fields and trailing data. An empty body leaves v as is,
// so action endpoints can be called without one.
func DecodeBody(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	err := dec.Decode(v)
	switch {
	case errors.Is(err, io.EOF):
		return nil
	case err != nil:
		return bodyError(err, fmt.Errorf("invalid request body: %w", err))
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return bodyError(err, errors.New("invalid request body: must contain a single JSON value"))
	}
	return nil
}

// bodyError reports a MaxBytesReader failure as requestBodyTooLargeError and
// anything else as fallback.
func bodyError(err, fallback error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return &requestBodyTooLargeError{Limit: maxErr.Limit}
	}
	return fallback
}

// PathParam returns a ServeMux wildcard such as {id}.
func PathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// ValidateUUID accepts only lowercase canonical UUIDs, the form run ids are
// stored in.
func ValidateUUID(s string) bool {
	id, err := uuid.Parse(s)
	return err == nil && s == id.String()
}

package pagination

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	// DefaultPageSize applies when the client omits pageSize.
	DefaultPageSize = 20
	// DefaultMaxPageSize caps pageSize.
	DefaultMaxPageSize = 100
)

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid pageSize")
	ErrInvalidPageToken = errors.New("pagination: invalid pageToken")
)

// Params are the list parameters accepted by collection endpoints.
type Params struct {
	PageSize  int
	PageToken string
	// Statuses holds every status value, from repeated or comma separated "status" parameters.
	Statuses []string
}

// Options bound Parse.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
}

// Parse reads pageSize, pageToken and status from values. Oversized pages are clamped, not rejected.
func Parse(values url.Values, opts Options) (Params, error) {
	maxSize := opts.MaxPageSize
	if maxSize <= 0 {
		maxSize = DefaultMaxPageSize
	}
	size := opts.DefaultPageSize
	if size <= 0 {
		size = DefaultPageSize
	}
	size = min(size, maxSize)

	if raw := strings.TrimSpace(values.Get("pageSize")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil {
			return Params{}, fmt.Errorf("%w: must be an integer", ErrInvalidPageSize)
		}
		if value <= 0 {
			return Params{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidPageSize)
		}
		size = min(value, maxSize)
	}

	params := Params{PageSize: size, PageToken: strings.TrimSpace(values.Get("pageToken"))}
	if params.PageToken != "" {
		if _, err := DecodeToken(params.PageToken); err != nil {
			return Params{}, err
		}
	}
	for _, raw := range values["status"] {
		for _, status := range strings.Split(raw, ",") {
			if status = strings.TrimSpace(status); status != "" {
				params.Statuses = append(params.Statuses, status)
			}
		}
	}
	return params, nil
}

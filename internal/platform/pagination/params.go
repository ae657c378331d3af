// Package pagination parses list query parameters and encodes the keyset cursors behind page
// tokens.
package pagination

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	domain "github.com/acai-shop/api/internal/domain"
)

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid pageSize")
	ErrInvalidPageToken = errors.New("pagination: invalid pageToken")
)

// Parse reads pageSize and pageToken from a list query. A missing pageSize means defaultSize and
// larger values are clamped to maxSize. The token is validated here so a tampered token is a 400
// before any repository runs.
func Parse(values url.Values, defaultSize, maxSize int) (domain.Pagination, error) {
	if maxSize <= 0 {
		maxSize = 100
	}
	if defaultSize <= 0 || defaultSize > maxSize {
		defaultSize = maxSize
	}

	page := domain.Pagination{PageSize: defaultSize}
	if raw := strings.TrimSpace(values.Get("pageSize")); raw != "" {
		size, err := strconv.Atoi(raw)
		switch {
		case err != nil:
			return domain.Pagination{}, fmt.Errorf("%w: must be an integer", ErrInvalidPageSize)
		case size <= 0:
			return domain.Pagination{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidPageSize)
		case size > maxSize:
			size = maxSize
		}
		page.PageSize = size
	}

	if token := strings.TrimSpace(values.Get("pageToken")); token != "" {
		if _, err := DecodeToken(token); err != nil {
			return domain.Pagination{}, err
		}
		page.PageToken = token
	}
	return page, nil
}

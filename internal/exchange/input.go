package exchange

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/tjfontaine/mme-broker/internal/core/domain"
)

// ParseTimeout reads whole seconds. Empty means the configured default.
func ParseTimeout(raw string) (time.Duration, *domain.APIError) {
	if raw == "" {
		return 0, nil
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs <= 0 {
		return 0, domain.ErrInvalidRequest("timeout must be a positive integer number of seconds")
	}
	return time.Duration(secs) * time.Second, nil
}

// ReadBody drains r. A reader capped by http.MaxBytesReader that overflows
// yields 413.
func ReadBody(r io.Reader) ([]byte, *domain.APIError) {
	if r == nil {
		return nil, nil
	}
	body, err := io.ReadAll(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, domain.ErrInvalidRequest("Request body too large").
				WithStatusCode(http.StatusRequestEntityTooLarge).WithCause(err)
		}
		return nil, domain.ErrInvalidRequest("Could not read request body").WithCause(err)
	}
	return body, nil
}

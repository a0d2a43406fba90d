package engine

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// retryAfter reads the Retry-After header as delta seconds or an HTTP date.
func retryAfter(resp *http.Response, now time.Time) *time.Time {
	if resp == nil || resp.Header == nil {
		return nil
	}

	value := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if value == "" {
		return nil
	}

	if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
		at := now.Add(time.Duration(seconds) * time.Second)
		return &at
	}
	if parsed, err := http.ParseTime(value); err == nil {
		at := parsed.UTC()
		return &at
	}

	return nil
}

package core

import (
	"fmt"
	"time"
)

// ErrorKind classifies failures returned by the gateway.
type ErrorKind string

const (
	KindConfiguration     ErrorKind = "configuration_error"
	KindAdmissionDenied   ErrorKind = "admission_denied"
	KindRequestValidation ErrorKind = "request_validation"
	KindVendorTransport   ErrorKind = "vendor_transport_error"
	KindParse             ErrorKind = "parse_error"
	KindStorage           ErrorKind = "storage_error"
)

// Metadata keys attached to results.
const (
	MetaSource     = "source"
	MetaRetryAfter = "retry_after"
	MetaGateReason = "gate_reason"
	MetaFetchedAt  = "fetched_at"

	SourceLive  = "live"
	SourceCache = "cache"
)

// Failure carries the failure side of an ApiResult.
type Failure struct {
	Kind        ErrorKind  `json:"kind"`
	Error       string     `json:"error"`
	VendorError string     `json:"vendor_error,omitempty"`
	StatusCode  int        `json:"status_code,omitempty"`
	RetryAfter  *time.Time `json:"retry_after,omitempty"`
}

func (f Failure) String() string {
	if f.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d)", f.Kind, f.Error, f.StatusCode)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Error)
}

// ApiResult is a tagged success/failure value. Exactly one of Data or Failure is meaningful,
// selected by Success; use Ok and Fail to construct it.
type ApiResult[T any] struct {
	Success  bool           `json:"success"`
	Data     T              `json:"data,omitempty"`
	Failure  *Failure       `json:"failure,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Ok wraps data as a successful result.
func Ok[T any](data T) ApiResult[T] {
	return ApiResult[T]{Success: true, Data: data}
}

// Fail builds a failed result.
func Fail[T any](kind ErrorKind, message string) ApiResult[T] {
	return ApiResult[T]{Failure: &Failure{Kind: kind, Error: message}}
}

// FailWith builds a failed result from a complete Failure.
func FailWith[T any](failure Failure) ApiResult[T] {
	return ApiResult[T]{Failure: &failure}
}

// WithMeta returns a copy of r with key set in its metadata.
func (r ApiResult[T]) WithMeta(key string, value any) ApiResult[T] {
	meta := make(map[string]any, len(r.Metadata)+1)
	for k, v := range r.Metadata {
		meta[k] = v
	}
	meta[key] = value
	r.Metadata = meta
	return r
}

// Err returns the failure message, or "" on success.
func (r ApiResult[T]) Err() string {
	if r.Success || r.Failure == nil {
		return ""
	}
	return r.Failure.Error
}

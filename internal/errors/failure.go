package errors

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/errors"

	"github.com/marketgate/marketgate/internal/core"
)

const (
	detailKind       = "kind"
	detailVendor     = "vendor_error"
	detailStatus     = "vendor_status"
	detailRetryAfter = "retry_after"
	detailRetrySecs  = "retry_after_seconds"
)

// FromFailure maps a gateway failure to an error envelope carrying the request's correlation ID.
func FromFailure(ctx context.Context, failure core.Failure) *errors.ErrorEnvelope {
	return fromFailureAt(ctx, failure, time.Now())
}

func fromFailureAt(ctx context.Context, failure core.Failure, now time.Time) *errors.ErrorEnvelope {
	id := correlationID(ctx)
	envelope := errors.NewErrorEnvelope(CodeForFailure(failure), failure.Error).
		WithCorrelationID(id).
		WithTraceID(id)

	details := map[string]interface{}{
		detailKind: string(failure.Kind),
	}
	if failure.VendorError != "" {
		details[detailVendor] = failure.VendorError
	}
	if failure.StatusCode != 0 {
		details[detailStatus] = failure.StatusCode
	}
	if failure.RetryAfter != nil {
		details[detailRetryAfter] = failure.RetryAfter.UTC().Format(time.RFC3339)
		seconds := int(math.Ceil(failure.RetryAfter.Sub(now).Seconds()))
		if seconds < 0 {
			seconds = 0
		}
		details[detailRetrySecs] = seconds
	}
	envelope = envelope.WithDetails(details)

	if failure.Kind == core.KindStorage || (failure.Kind == core.KindConfiguration && !isLookupMiss(failure)) {
		envelope, _ = envelope.WithSeverity(errors.SeverityHigh)
	} else {
		envelope, _ = envelope.WithSeverity(errors.SeverityMedium)
	}
	return envelope
}

// CodeForFailure picks the envelope code for a failure kind.
func CodeForFailure(failure core.Failure) string {
	switch failure.Kind {
	case core.KindConfiguration:
		if isLookupMiss(failure) {
			return CodeNotFound
		}
		return CodeConfigInvalid
	case core.KindAdmissionDenied:
		return CodeRateLimited
	case core.KindRequestValidation:
		return CodeValidationFailed
	case core.KindVendorTransport:
		if strings.Contains(failure.Error, "timeout") {
			return CodeTimeout
		}
		return CodeExternalService
	case core.KindParse:
		return CodeDataProcessing
	case core.KindStorage:
		return CodeDatabase
	default:
		return CodeInternal
	}
}

// isLookupMiss reports configuration failures caused by an unknown vendor, endpoint or category.
func isLookupMiss(failure core.Failure) bool {
	message := strings.ToLower(failure.Error)
	return strings.Contains(message, "not found") ||
		strings.Contains(message, "unknown vendor") ||
		strings.Contains(message, "unknown category")
}

func retryAfterSeconds(envelope *errors.ErrorEnvelope) (int, bool) {
	if envelope == nil || envelope.Details == nil {
		return 0, false
	}
	switch value := envelope.Details[detailRetrySecs].(type) {
	case int:
		return value, true
	case float64:
		return int(value), true
	default:
		return 0, false
	}
}

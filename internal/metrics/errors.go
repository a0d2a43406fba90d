package metrics

import "strconv"

// Error metric names
const (
	ErrorsTotalName      = "errors_total"
	PanicsTotalName      = "panics_total"
	ErrorsByEndpointName = "errors_by_endpoint"
)

// RecordError counts an error envelope by code and HTTP status.
func RecordError(errorCode string, httpStatus int) {
	counter(ErrorsTotalName, map[string]string{
		"error_code":  errorCode,
		"http_status": strconv.Itoa(httpStatus),
	})
}

// RecordPanic counts a recovered handler panic.
func RecordPanic() {
	counter(PanicsTotalName, nil)
}

// RecordErrorByEndpoint counts an error by route pattern. Callers pass the
// pattern, not the raw path, so vendor and identifier do not become labels.
func RecordErrorByEndpoint(endpoint string, errorCode string) {
	counter(ErrorsByEndpointName, map[string]string{
		"endpoint":   endpoint,
		"error_code": errorCode,
	})
}

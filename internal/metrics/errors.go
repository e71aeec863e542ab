package metrics

import "strconv"

const (
	ErrorsTotalName      = "errors_total"
	PanicsTotalName      = "panics_total"
	ErrorsByEndpointName = "errors_by_endpoint"
)

// RecordError counts an error envelope written to a client.
func RecordError(errorCode string, httpStatus int) {
	inc(ErrorsTotalName, map[string]string{
		"error_code":  errorCode,
		"http_status": strconv.Itoa(httpStatus),
	})
}

// RecordPanic counts a handler panic caught by the recovery middleware.
func RecordPanic() {
	inc(PanicsTotalName, nil)
}

// RecordErrorByEndpoint counts an error envelope by route pattern. Callers
// pass the pattern, not the raw path.
func RecordErrorByEndpoint(endpoint string, errorCode string) {
	inc(ErrorsByEndpointName, map[string]string{"endpoint": endpoint, "error_code": errorCode})
}

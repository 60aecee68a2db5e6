package cloud

import "fmt"

// TransportError is returned when the request never produced an HTTP response
// (dial failure, TLS, timeout).
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("request to %s failed: %s", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// HTTPError carries a non-2xx status from the API.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("soliscloud http %d", e.StatusCode)
	}
	return fmt.Sprintf("soliscloud http %d: %s", e.StatusCode, e.Body)
}

package nativeadapters

import "bytes"

// httpBody wraps a JSON payload as an io.Reader for http.NewRequestWithContext.
func httpBody(b []byte) *bytes.Reader {
	return bytes.NewReader(b)
}

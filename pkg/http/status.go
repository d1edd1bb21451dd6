package xhttp

import "net/http"

const (
	StatusNotFound            = http.StatusNotFound
	StatusRequestTimeout      = http.StatusRequestTimeout
	StatusInternalServerError = http.StatusInternalServerError
)

// StatusText returns the standard reason phrase for a status code.
func StatusText(code int) string {
	return http.StatusText(code)
}

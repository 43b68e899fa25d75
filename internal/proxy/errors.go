package proxy

import (
	"net/http"
)

// Static error pages synthesized when no backend can serve a request,
// mirroring the custom 50x pages the deployment serves from Nginx. No
// internal detail (backend addresses, error chains) is ever leaked here.
const (
	errorPage502 = `<!DOCTYPE html>
<html>
<head><title>502 Bad Gateway</title></head>
<body>
<h1>502 Bad Gateway</h1>
<p>The upstream service returned an invalid response. Please try again shortly.</p>
</body>
</html>
`

	errorPage503 = `<!DOCTYPE html>
<html>
<head><title>503 Service Unavailable</title></head>
<body>
<h1>503 Service Unavailable</h1>
<p>The service is temporarily unavailable. Please try again shortly.</p>
</body>
</html>
`

	errorPage504 = `<!DOCTYPE html>
<html>
<head><title>504 Gateway Timeout</title></head>
<body>
<h1>504 Gateway Timeout</h1>
<p>The upstream service did not respond in time. Please try again shortly.</p>
</body>
</html>
`
)

// writeErrorPage sends the fixed error body for a synthesized failure status
func writeErrorPage(w http.ResponseWriter, status int) {
	var body string
	switch status {
	case http.StatusBadGateway:
		body = errorPage502
	case http.StatusGatewayTimeout:
		body = errorPage504
	default:
		status = http.StatusServiceUnavailable
		body = errorPage503
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	w.Write([]byte(body))
}

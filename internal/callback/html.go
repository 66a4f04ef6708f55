package callback

import "net/http"

// writeHTML sends a minimal HTML body. Errors writing to w are not actionable here -- the client
// either already has what it needs or has gone away.
func writeHTML(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

const freshTokenBody = `<!DOCTYPE html><html><head><title>pizauth</title></head>
<body><p>This authorization link has expired or does not match a pending request. Request a fresh token and try again.</p></body></html>`

const processingBody = `<!DOCTYPE html><html><head><title>pizauth</title></head>
<body><p>Processing&hellip; you may close this page.</p></body></html>`

const authErrorBody = `<!DOCTYPE html><html><head><title>pizauth</title></head>
<body><p>Authorization failed: %s</p></body></html>`

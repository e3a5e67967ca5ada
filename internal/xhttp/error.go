package xhttp

import (
	"html/template"
	"net/http"
)

func Error(w http.ResponseWriter, status int) {
	http.Error(w, http.StatusText(status), status)
}

var retryPage = template.Must(template.New("retry").Parse(`<!doctype html>
<html lang="en">
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body>
<main>
<h1>{{.Title}}</h1>
<p>{{.Message}}</p>
</main>
</body>
</html>
`))

type retryPageData struct {
	Title   string
	Message string
}

const (
	friendlyRetryTitle   = "Please wait a moment"
	friendlyRetryMessage = "Too many attempts. Please wait a few minutes before trying again."
)

// WriteFriendlyRetry renders the human-facing throttle page. It carries no
// rate-limit headers or counters.
func WriteFriendlyRetry(w http.ResponseWriter) {
	SetHeaderContentTypeTextHTML(w)
	w.WriteHeader(http.StatusTooManyRequests)
	_ = retryPage.Execute(w, retryPageData{
		Title:   friendlyRetryTitle,
		Message: friendlyRetryMessage,
	})
}

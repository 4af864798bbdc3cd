package api

import (
	"net/http"
	"strings"
)

const welcomePage = `<!DOCTYPE html>
<html>
<head><title>Hub</title></head>
<body>
<h1>Hub</h1>
<p>This is an Atom/RSS hub implementing the publish/subscribe protocol.</p>
<ul>
<li><a href="/subscribe">Subscribe</a>: subscriber requests</li>
<li><a href="/publish">Publish</a>: publisher pings</li>
</ul>
</body>
</html>
`

// handleGetWelcome responds to GET / with a short welcome page.
func handleGetWelcome(c *Context, w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(welcomePage))
}

// handleHub multiplexes subscribe and publish events on the same URL, keyed
// by hub.mode.
func handleHub(c *Context, w http.ResponseWriter, r *http.Request) {
	switch strings.ToLower(r.FormValue("hub.mode")) {
	case "publish":
		handlePublish(c, w, r)
	case "subscribe", "unsubscribe":
		handleSubscribe(c, w, r)
	default:
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("hub.mode is invalid"))
	}
}

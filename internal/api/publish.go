package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/pushhub/pushhub/model"
)

const publishDebugPage = `<!DOCTYPE html>
<html>
<head><title>Publish</title></head>
<body>
<h1>Publish</h1>
<form action="/publish" method="post">
<input type="hidden" name="hub.mode" value="publish">
<p>Topic: <input type="text" name="hub.url" size="60"></p>
<p><input type="submit"></p>
</form>
</body>
</html>
`

// handleGetPublishDebug responds to GET /publish with a form for issuing
// publish pings by hand.
func handleGetPublishDebug(c *Context, w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(publishDebugPage))
}

// handlePublish responds to POST /publish, accepting notification that feeds
// have new content.
func handlePublish(c *Context, w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")

	if strings.ToLower(r.FormValue("hub.mode")) != "publish" {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`hub.mode MUST be "publish"`))
		return
	}

	seen := make(map[string]bool)
	var urls []string
	for _, url := range r.PostForm["hub.url"] {
		if !seen[url] {
			seen[url] = true
			urls = append(urls, url)
		}
	}
	if len(urls) == 0 {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("MUST supply at least one hub.url parameter"))
		return
	}

	c.Logger.Infof("Publish event for %d URLs", len(urls))
	c.Metrics.PublishRequestsTotal.Inc()

	for _, url := range urls {
		if !model.IsValidURL(url, c.DevMode) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(fmt.Sprintf("hub.url invalid: %s", url)))
			return
		}
	}

	// Only queue fetches for feeds known to have had subscribers. The pull
	// worker double-checks subscribers again before fetching.
	knownURLs, err := c.Store.CheckKnownFeeds(urls)
	if err != nil {
		c.Logger.WithError(err).Error("Failed to check known feeds")
		transientError(w)
		return
	}
	c.Logger.Infof("%d topics have known subscribers", len(knownURLs))

	err = c.Store.InsertFeedsToFetch(knownURLs)
	if err != nil {
		c.Logger.WithError(err).Error("Failed to queue feeds to fetch")
		transientError(w)
		return
	}

	_ = c.Workers.FeedPull.Do()
	w.WriteHeader(http.StatusNoContent)
}

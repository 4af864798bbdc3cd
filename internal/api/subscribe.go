package api

import (
	"fmt"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/pushhub/pushhub/model"
)

const subscribeDebugPage = `<!DOCTYPE html>
<html>
<head><title>Subscribe</title></head>
<body>
<h1>Subscribe</h1>
<form action="/subscribe" method="post">
<p>Callback: <input type="text" name="hub.callback" size="60"></p>
<p>Topic: <input type="text" name="hub.topic" size="60"></p>
<p>Mode:
<select name="hub.mode">
<option value="subscribe">subscribe</option>
<option value="unsubscribe">unsubscribe</option>
</select></p>
<p>Verify type: <input type="text" name="hub.verify" value="sync"></p>
<p>Verify token: <input type="text" name="hub.verify_token"></p>
<p><input type="submit"></p>
</form>
</body>
</html>
`

// handleGetSubscribeDebug responds to GET /subscribe with a form for issuing
// subscription requests by hand.
func handleGetSubscribeDebug(c *Context, w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(subscribeDebugPage))
}

// handleSubscribe responds to POST /subscribe, accepting subscribe and
// unsubscribe requests from subscribers.
func handleSubscribe(c *Context, w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")

	callback := r.FormValue("hub.callback")
	topic := r.FormValue("hub.topic")
	verifyType := strings.ToLower(r.FormValue("hub.verify"))
	if verifyType == "" {
		verifyType = "sync"
	}
	verifyToken := r.FormValue("hub.verify_token")
	mode := strings.ToLower(r.FormValue("hub.mode"))

	var errorMessage string
	if callback == "" || !model.IsValidURL(callback, c.DevMode) {
		errorMessage = "Invalid parameter: hub.callback"
	}
	if topic == "" || !model.IsValidURL(topic, c.DevMode) {
		errorMessage = "Invalid parameter: hub.topic"
	}
	switch verifyType {
	case "sync", "async", "sync,async", "async,sync":
	default:
		errorMessage = fmt.Sprintf("Invalid value for hub.verify: %s", verifyType)
	}
	if verifyToken == "" {
		errorMessage = "Invalid parameter: hub.verify_token"
	}
	if mode != "subscribe" && mode != "unsubscribe" {
		errorMessage = fmt.Sprintf("Invalid value for hub.mode: %s", mode)
	}

	logger := c.Logger.WithFields(log.Fields{
		"mode":     mode,
		"topic":    topic,
		"callback": callback,
	})

	if errorMessage != "" {
		logger.Infof("Bad subscription request: %s", errorMessage)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(errorMessage))
		return
	}

	c.Metrics.SubscriptionRequestsTotal.WithLabelValues(mode).Inc()

	subscription, err := c.Store.GetSubscription(model.SubscriptionKey(callback, topic))
	if err != nil {
		logger.WithError(err).Error("Failed to look up subscription")
		transientError(w)
		return
	}

	// Deletions for non-existent subscriptions are ignored.
	if mode == "unsubscribe" && subscription == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	// Prefer synchronous confirmation.
	if strings.HasPrefix(verifyType, "sync") {
		if c.Verifier.ConfirmSubscription(mode, topic, callback, verifyToken) {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte("Error trying to confirm subscription"))
		return
	}

	if mode == "subscribe" {
		_, err = c.Store.RequestInsertSubscription(callback, topic, verifyToken)
	} else {
		_, err = c.Store.RequestRemoveSubscription(callback, topic, verifyToken)
	}
	if err != nil {
		logger.WithError(err).Error("Failed to queue subscription request")
		transientError(w)
		return
	}

	logger.Infof("Queued %s request", mode)
	_ = c.Workers.SubscriptionConfirm.Do()
	w.WriteHeader(http.StatusAccepted)
}

// transientError asks the client to retry later.
func transientError(w http.ResponseWriter) {
	w.Header().Set("Retry-After", "120")
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("Transient error; please try again later"))
}

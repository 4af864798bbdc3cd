package api

import (
	"net/http"
)

// workQueueOnly gates the work endpoints, which drive the background jobs and
// must not be open to the public. Requests are allowed from the internal cron
// runner, from callers holding the worker token, or unconditionally in dev
// mode.
func workQueueOnly(c *Context, w http.ResponseWriter, r *http.Request) bool {
	if c.DevMode {
		return true
	}
	if r.Header.Get("X-Hub-Cron") == "true" {
		return true
	}
	if c.WorkerToken != "" && r.Header.Get("Authorization") == "Bearer "+c.WorkerToken {
		return true
	}

	c.Logger.Warn("Rejected request to work endpoint")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte("Handler only accessible for work queues"))
	return false
}

func handleWork(c *Context, w http.ResponseWriter, r *http.Request, worker Supervisor) {
	if !workQueueOnly(c, w, r) {
		return
	}

	err := worker.Do()
	if err != nil {
		c.Logger.WithError(err).Error("Worker run failed")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// handleWorkSubscriptions responds to GET /work/subscriptions, running a pass
// of the subscription confirmation worker.
func handleWorkSubscriptions(c *Context, w http.ResponseWriter, r *http.Request) {
	handleWork(c, w, r, c.Workers.SubscriptionConfirm)
}

// handleWorkPullFeeds responds to GET /work/pull_feeds, running a pass of the
// feed pull worker.
func handleWorkPullFeeds(c *Context, w http.ResponseWriter, r *http.Request) {
	handleWork(c, w, r, c.Workers.FeedPull)
}

// handleWorkPushEvents responds to GET /work/push_events, running a pass of
// the event delivery worker.
func handleWorkPushEvents(c *Context, w http.ResponseWriter, r *http.Request) {
	handleWork(c, w, r, c.Workers.PushEvent)
}

// handleWorkPollBootstrap responds to GET /work/poll_bootstrap, advancing the
// bootstrap polling cycle.
func handleWorkPollBootstrap(c *Context, w http.ResponseWriter, r *http.Request) {
	handleWork(c, w, r, c.Workers.PollBootstrap)
}

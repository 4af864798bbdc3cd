package api

import "github.com/gorilla/mux"

// Register registers the API endpoints on the given router.
func Register(rootRouter *mux.Router, context *Context) {
	addContext := func(handler contextHandlerFunc) *contextHandler {
		return newContextHandler(context, handler)
	}

	rootRouter.Handle("/", addContext(handleGetWelcome)).Methods("GET")
	rootRouter.Handle("/", addContext(handleHub)).Methods("POST")

	rootRouter.Handle("/publish", addContext(handleGetPublishDebug)).Methods("GET")
	rootRouter.Handle("/publish", addContext(handlePublish)).Methods("POST")

	rootRouter.Handle("/subscribe", addContext(handleGetSubscribeDebug)).Methods("GET")
	rootRouter.Handle("/subscribe", addContext(handleSubscribe)).Methods("POST")

	workRouter := rootRouter.PathPrefix("/work").Subrouter()
	workRouter.Handle("/subscriptions", addContext(handleWorkSubscriptions)).Methods("GET")
	workRouter.Handle("/pull_feeds", addContext(handleWorkPullFeeds)).Methods("GET")
	workRouter.Handle("/push_events", addContext(handleWorkPushEvents)).Methods("GET")
	workRouter.Handle("/poll_bootstrap", addContext(handleWorkPollBootstrap)).Methods("GET")
}

// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package supervisor

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushhub/pushhub/internal/metrics"
	"github.com/pushhub/pushhub/internal/store"
	"github.com/pushhub/pushhub/internal/testlib"
	"github.com/pushhub/pushhub/model"
)

func TestConfirmSubscription(t *testing.T) {
	const topic = "http://example.com/topic"

	t.Run("subscribe confirmed", func(t *testing.T) {
		logger := testlib.MakeLogger(t)
		sqlStore := store.MakeTestSQLStore(t, logger)

		var request *http.Request
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			request = r
			w.WriteHeader(http.StatusNoContent)
		}))
		defer server.Close()

		callback := server.URL + "/callback?extra=kept"
		verifier := NewSubscriptionVerifier(sqlStore, metrics.New(), logger)
		require.True(t, verifier.ConfirmSubscription(SubscribeMode, topic, callback, "token"))

		require.NotNil(t, request)
		query := request.URL.Query()
		assert.Equal(t, "subscribe", query.Get("hub.mode"))
		assert.Equal(t, topic, query.Get("hub.topic"))
		assert.Equal(t, "token", query.Get("hub.verify_token"))
		assert.Equal(t, "kept", query.Get("extra"))

		subscription, err := sqlStore.GetSubscription(model.SubscriptionKey(callback, topic))
		require.NoError(t, err)
		require.NotNil(t, subscription)
		assert.Equal(t, model.SubscriptionStateVerified, subscription.State)

		known, err := sqlStore.CheckKnownFeeds([]string{topic})
		require.NoError(t, err)
		assert.Equal(t, []string{topic}, known)
	})

	t.Run("unsubscribe confirmed", func(t *testing.T) {
		logger := testlib.MakeLogger(t)
		sqlStore := store.MakeTestSQLStore(t, logger)

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))
		defer server.Close()

		callback := server.URL + "/callback"
		_, err := sqlStore.InsertSubscription(callback, topic)
		require.NoError(t, err)

		verifier := NewSubscriptionVerifier(sqlStore, metrics.New(), logger)
		require.True(t, verifier.ConfirmSubscription(UnsubscribeMode, topic, callback, "token"))

		subscription, err := sqlStore.GetSubscription(model.SubscriptionKey(callback, topic))
		require.NoError(t, err)
		require.Nil(t, subscription)
	})

	t.Run("only 204 confirms", func(t *testing.T) {
		logger := testlib.MakeLogger(t)
		sqlStore := store.MakeTestSQLStore(t, logger)

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		verifier := NewSubscriptionVerifier(sqlStore, metrics.New(), logger)
		require.False(t, verifier.ConfirmSubscription(SubscribeMode, topic, server.URL, "token"))
	})

	t.Run("redirects are not followed", func(t *testing.T) {
		logger := testlib.MakeLogger(t)
		sqlStore := store.MakeTestSQLStore(t, logger)

		var target *httptest.Server
		target = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/ok" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			http.Redirect(w, r, target.URL+"/ok", http.StatusFound)
		}))
		defer target.Close()

		verifier := NewSubscriptionVerifier(sqlStore, metrics.New(), logger)
		require.False(t, verifier.ConfirmSubscription(SubscribeMode, topic, target.URL, "token"))
	})

	t.Run("unreachable callback", func(t *testing.T) {
		logger := testlib.MakeLogger(t)
		sqlStore := store.MakeTestSQLStore(t, logger)

		verifier := NewSubscriptionVerifier(sqlStore, metrics.New(), logger)
		require.False(t, verifier.ConfirmSubscription(SubscribeMode, topic, "http://127.0.0.1:1/callback", "token"))
	})
}

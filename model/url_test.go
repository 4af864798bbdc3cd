// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsValidURL(t *testing.T) {
	testCases := []struct {
		url   string
		dev   bool
		valid bool
	}{
		{"http://example.com/feed", false, true},
		{"https://example.com/feed", false, true},
		{"http://example.com:80/feed", false, true},
		{"https://example.com:443/feed", false, true},
		{"http://example.com:8080/feed", false, false},
		{"http://example.com:8080/feed", true, true},
		{"ftp://example.com/feed", false, false},
		{"http://example.com/feed#frag", false, false},
		{"", false, false},
		{"://bad", false, false},
	}

	for _, tc := range testCases {
		t.Run(tc.url, func(t *testing.T) {
			require.Equal(t, tc.valid, IsValidURL(tc.url, tc.dev))
		})
	}
}

func TestSubscriptionKey(t *testing.T) {
	key := SubscriptionKey("http://sub.example.com/cb", "http://example.com/feed")
	require.Equal(t, SubscriptionKey("http://sub.example.com/cb", "http://example.com/feed"), key)
	require.NotEqual(t, SubscriptionKey("http://sub.example.com/cb2", "http://example.com/feed"), key)
	require.Contains(t, key, "hash_")
}

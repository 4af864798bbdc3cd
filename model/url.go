// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package model

import (
	"net/url"

	"github.com/sirupsen/logrus"
)

// IsValidURL returns true if the supplied URL is acceptable as a topic or
// callback URL.
//
// The scheme must be http or https, the URL must not carry a fragment, and
// non-default ports are only allowed in a development environment.
func IsValidURL(raw string, devEnv bool) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		logrus.WithField("url", raw).Info("URL failed to parse")
		return false
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		logrus.WithField("url", raw).Info("URL scheme is invalid")
		return false
	}

	if port := parsed.Port(); port != "" && !devEnv && port != "80" && port != "443" {
		logrus.WithField("url", raw).Info("URL port is invalid")
		return false
	}

	if parsed.Fragment != "" {
		logrus.WithField("url", raw).Info("URL includes fragment")
		return false
	}

	return true
}

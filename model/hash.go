// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package model

import (
	"crypto/sha1"
	"encoding/hex"
)

// SHA1Hash returns the sha1 hash of the supplied value as lowercase hex.
func SHA1Hash(value string) string {
	sum := sha1.Sum([]byte(value))
	return hex.EncodeToString(sum[:])
}

// HashKey returns a deterministic entity key derived from the supplied value.
//
// Keys derive from domain values so that re-insertion of the same logical
// entity collapses onto a single row.
func HashKey(value string) string {
	return "hash_" + SHA1Hash(value)
}

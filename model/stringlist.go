// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package model

import (
	"database/sql/driver"
	"encoding/json"

	"github.com/pkg/errors"
)

// StringList is an ordered list of strings stored as a JSON column.
type StringList []string

// Value implements driver.Valuer for StringList.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		l = StringList{}
	}

	b, err := json.Marshal(l)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal string list")
	}

	return string(b), nil
}

// Scan implements sql.Scanner for StringList.
func (l *StringList) Scan(src interface{}) error {
	if src == nil {
		*l = nil
		return nil
	}

	switch t := src.(type) {
	case []byte:
		return json.Unmarshal(t, l)
	case string:
		return json.Unmarshal([]byte(t), l)
	default:
		return errors.Errorf("could not scan string list from type %T", src)
	}
}

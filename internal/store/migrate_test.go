// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package store

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pushhub/pushhub/internal/testlib"
)

func TestMigrate(t *testing.T) {
	logger := testlib.MakeLogger(t)
	sqlStore := makeUnmigratedTestSQLStore(t, logger)

	err := sqlStore.Migrate()
	require.NoError(t, err)

	version, err := sqlStore.GetCurrentVersion()
	require.NoError(t, err)
	require.Equal(t, LatestVersion(), version)

	// Migrating an up-to-date database is a no-op.
	err = sqlStore.Migrate()
	require.NoError(t, err)

	again, err := sqlStore.GetCurrentVersion()
	require.NoError(t, err)
	require.Equal(t, version, again)
}

// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package main

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"

	"github.com/pushhub/pushhub/internal/store"
)

func init() {
	schemaCmd.AddCommand(schemaMigrateCmd)
	schemaCmd.PersistentFlags().String("database", "sqlite://pushhub.db", "The database backing the hub.")
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Manipulate the schema used by the hub.",
}

func sqlStore(database string) (*store.SQLStore, error) {
	var sqlStore *store.SQLStore

	// Retry briefly, primarily to ride out a database that is still starting
	// alongside the hub.
	connectBackoff := backoff.NewExponentialBackOff()
	connectBackoff.MaxElapsedTime = 30 * time.Second

	err := backoff.Retry(func() error {
		var err error
		sqlStore, err = store.New(database, logger)
		if err != nil {
			logger.WithError(err).Warn("Failed to connect to database; retrying")
		}
		return err
	}, connectBackoff)
	if err != nil {
		return nil, err
	}

	return sqlStore, nil
}

var schemaMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Migrate the schema to the latest supported version.",
	RunE: func(command *cobra.Command, args []string) error {
		command.SilenceUsage = true

		database, _ := command.Flags().GetString("database")
		sqlStore, err := sqlStore(database)
		if err != nil {
			return err
		}

		return sqlStore.Migrate()
	},
}

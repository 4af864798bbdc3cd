// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

// Package main is the entry point to the hub server and CLI.
package main

import (
	"os"

	"github.com/pushhub/pushhub/model"
	"github.com/spf13/cobra"
)

var instanceID string

var rootCmd = &cobra.Command{
	Use:   "pushhub",
	Short: "Pushhub is a hub relaying Atom and RSS feed updates to subscribers.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serverCmd.RunE(cmd, args)
	},
	// SilenceErrors allows us to explicitly log the error returned from rootCmd below.
	SilenceErrors: true,
}

func init() {
	instanceID = model.NewID()

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(schemaCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.WithError(err).Error("command failed")
		os.Exit(1)
	}
}

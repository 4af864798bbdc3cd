// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	logrus "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/vrischmann/envconfig"

	"github.com/pushhub/pushhub/internal/api"
	"github.com/pushhub/pushhub/internal/lease"
	"github.com/pushhub/pushhub/internal/metrics"
	"github.com/pushhub/pushhub/internal/store"
	"github.com/pushhub/pushhub/internal/supervisor"
)

// lockCapacity bounds the number of in-flight work item leases.
const lockCapacity = 16384

// serverEnvironment holds settings that may be supplied via PUSHHUB_*
// environment variables instead of flags, keeping secrets out of the process
// arguments.
type serverEnvironment struct {
	Database    string `envconfig:"optional"`
	Listen      string `envconfig:"optional"`
	WorkerToken string `envconfig:"optional"`
}

func init() {
	serverCmd.PersistentFlags().String("database", "sqlite://pushhub.db", "The database backing the hub.")
	serverCmd.PersistentFlags().String("listen", ":8080", "The interface and port on which to listen.")
	serverCmd.PersistentFlags().Bool("confirm-supervisor", true, "Whether this server will run a subscription confirmation supervisor or not.")
	serverCmd.PersistentFlags().Bool("pull-supervisor", true, "Whether this server will run a feed pull supervisor or not.")
	serverCmd.PersistentFlags().Bool("push-supervisor", true, "Whether this server will run an event delivery supervisor or not.")
	serverCmd.PersistentFlags().Int("poll", 30, "The interval in seconds to poll for background work.")
	serverCmd.PersistentFlags().Int("confirm-workers", 10, "The number of subscription confirmations to process per pass.")
	serverCmd.PersistentFlags().Int("pull-workers", 10, "The number of feed pulls to process per pass.")
	serverCmd.PersistentFlags().Int("push-workers", 10, "The number of event deliveries to process per pass.")
	serverCmd.PersistentFlags().String("bootstrap-schedule", "@every 1h", "The cron schedule on which to advance the polling bootstrap.")
	serverCmd.PersistentFlags().String("worker-token", "", "The bearer token granting access to the work endpoints.")
	serverCmd.PersistentFlags().Bool("auto-migrate", true, "Whether to migrate the schema on startup or not.")
	serverCmd.PersistentFlags().Bool("debug", false, "Whether to output debug logs.")
	serverCmd.PersistentFlags().Bool("machine-readable-logs", false, "Output the logs in machine readable format.")
	serverCmd.PersistentFlags().Bool("dev", false, "Set sane defaults for development")
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the hub server.",
	RunE: func(command *cobra.Command, args []string) error {
		command.SilenceUsage = true

		debug, _ := command.Flags().GetBool("debug")
		dev, _ := command.Flags().GetBool("dev")
		if dev && !command.Flags().Changed("debug") {
			debug = true
		}
		if debug {
			logger.SetLevel(logrus.DebugLevel)
		}

		machineLogs, _ := command.Flags().GetBool("machine-readable-logs")
		if machineLogs {
			logger.SetFormatter(&logrus.JSONFormatter{})
		}
		enableLogStacktrace()

		var environment serverEnvironment
		err := envconfig.InitWithPrefix(&environment, "PUSHHUB")
		if err != nil {
			return errors.Wrap(err, "failed to read environment")
		}

		database, _ := command.Flags().GetString("database")
		if !command.Flags().Changed("database") && environment.Database != "" {
			database = environment.Database
		}
		listen, _ := command.Flags().GetString("listen")
		if !command.Flags().Changed("listen") && environment.Listen != "" {
			listen = environment.Listen
		}
		workerToken, _ := command.Flags().GetString("worker-token")
		if !command.Flags().Changed("worker-token") && environment.WorkerToken != "" {
			workerToken = environment.WorkerToken
		}

		logger := logger.WithField("instance", instanceID)

		sqlStore, err := sqlStore(database)
		if err != nil {
			return err
		}
		defer sqlStore.Close()

		autoMigrate, _ := command.Flags().GetBool("auto-migrate")
		if autoMigrate {
			err = sqlStore.Migrate()
			if err != nil {
				return errors.Wrap(err, "failed to migrate schema")
			}
		}

		currentVersion, err := sqlStore.GetCurrentVersion()
		if err != nil {
			return err
		}
		serverVersion := store.LatestVersion()

		// Require the schema to be at least the server version, and also the same major
		// version.
		if currentVersion.LT(serverVersion) || currentVersion.Major != serverVersion.Major {
			return errors.Errorf("server requires at least schema %s, current is %s", serverVersion, currentVersion)
		}

		confirmSupervisor, _ := command.Flags().GetBool("confirm-supervisor")
		pullSupervisor, _ := command.Flags().GetBool("pull-supervisor")
		pushSupervisor, _ := command.Flags().GetBool("push-supervisor")
		if !confirmSupervisor && !pullSupervisor && !pushSupervisor {
			logger.Warn("Server will be running with no supervisors. Only API functionality will work.")
		}

		confirmWorkers, _ := command.Flags().GetInt("confirm-workers")
		pullWorkers, _ := command.Flags().GetInt("pull-workers")
		pushWorkers, _ := command.Flags().GetInt("push-workers")

		logger.WithFields(logrus.Fields{
			"confirm-supervisor": confirmSupervisor,
			"pull-supervisor":    pullSupervisor,
			"push-supervisor":    pushSupervisor,
			"store-version":      currentVersion,
			"debug":              debug,
			"dev-mode":           dev,
		}).Info("Starting hub server")

		locks, err := lease.NewLocks(lockCapacity)
		if err != nil {
			return errors.Wrap(err, "failed to initialize work item leases")
		}
		defer locks.Close()

		hubMetrics := metrics.New()
		verifier := supervisor.NewSubscriptionVerifier(sqlStore, hubMetrics, logger)

		var multiDoer supervisor.MultiDoer
		if confirmSupervisor {
			multiDoer = append(multiDoer, supervisor.NewSubscriptionConfirmSupervisor(sqlStore, verifier, locks, instanceID, confirmWorkers, logger))
		}
		if pullSupervisor {
			multiDoer = append(multiDoer, supervisor.NewFeedPullSupervisor(sqlStore, locks, instanceID, pullWorkers, hubMetrics, logger))
		}
		if pushSupervisor {
			multiDoer = append(multiDoer, supervisor.NewPushEventSupervisor(sqlStore, locks, instanceID, pushWorkers, hubMetrics, logger))
		}

		// Setup the supervisor to effect any requested changes. It is wrapped in a
		// scheduler to trigger it periodically in addition to being poked by the API
		// layer.
		poll, _ := command.Flags().GetInt("poll")
		if poll == 0 {
			logger.WithField("poll", poll).Info("Scheduler is disabled")
		}

		scheduler := supervisor.NewScheduler(multiDoer, time.Duration(poll)*time.Second)
		defer scheduler.Close()

		// The polling bootstrap runs on its own cron schedule. Each pass is
		// gated on the stored marker, so firing more often than the polling
		// period is harmless.
		pollBootstrap := supervisor.NewPollBootstrapSupervisor(sqlStore, logger)

		bootstrapSchedule, _ := command.Flags().GetString("bootstrap-schedule")
		cronRunner := cron.New()
		_, err = cronRunner.AddFunc(bootstrapSchedule, func() {
			err := pollBootstrap.Do()
			if err != nil {
				logger.WithError(err).Error("Failed to advance polling bootstrap")
			}
		})
		if err != nil {
			return errors.Wrap(err, "failed to parse bootstrap schedule")
		}
		cronRunner.Start()
		defer cronRunner.Stop()

		router := mux.NewRouter()

		api.Register(router, &api.Context{
			Store:    sqlStore,
			Verifier: verifier,
			Workers: &api.Workers{
				SubscriptionConfirm: scheduler,
				FeedPull:            scheduler,
				PushEvent:           scheduler,
				PollBootstrap:       pollBootstrap,
			},
			Metrics:     hubMetrics,
			DevMode:     dev,
			WorkerToken: workerToken,
			Logger:      logger,
		})

		router.Handle("/metrics", hubMetrics.Handler()).Methods("GET")

		srv := &http.Server{
			Addr:           listen,
			Handler:        router,
			ReadTimeout:    180 * time.Second,
			WriteTimeout:   180 * time.Second,
			IdleTimeout:    time.Second * 180,
			MaxHeaderBytes: 1 << 20,
			ErrorLog:       log.New(&logrusWriter{logger}, "", 0),
		}

		go func() {
			logger.WithField("addr", srv.Addr).Info("Listening")
			err := srv.ListenAndServe()
			if err != nil && err != http.ErrServerClosed {
				logger.WithError(err).Error("Failed to listen and serve")
			}
		}()

		c := make(chan os.Signal, 1)
		// We'll accept graceful shutdowns when quit via SIGINT (Ctrl+C) or SIGTERM.
		// SIGKILL or SIGQUIT will not be caught.
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)

		// Block until we receive our signal.
		<-c
		logger.Info("Shutting down")

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)

		return nil
	},
}

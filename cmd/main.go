/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/midnight-artisan/artisan"
	"github.com/midnight-artisan/artisan/config"
	"github.com/midnight-artisan/artisan/database"
	"github.com/midnight-artisan/artisan/internal/cache"
	redlock "github.com/midnight-artisan/artisan/internal/lock"
	"github.com/midnight-artisan/artisan/internal/mail"
	"github.com/midnight-artisan/artisan/internal/notification"
	redis_db "github.com/midnight-artisan/artisan/internal/redis-db"
)

// Artisan represents the CLI application, encapsulating the root Cobra command.
type Artisan struct {
	cmd *cobra.Command
}

// artisanInstance holds the service and its dependencies once a command has bootstrapped them.
type artisanInstance struct {
	artisan *artisan.Artisan
	cnf     *config.Configuration
	queue   *artisan.Queue
	redis   *redis_db.Redis
	slack   *notification.Slack
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration. Services are built by the commands that need them.
func preRun(app *artisanInstance, configFile *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := config.InitConfig(*configFile); err != nil {
			return fmt.Errorf("error loading config: %w", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}
		app.cnf = cnf
		app.slack = notification.NewSlack(cnf.Notification.Slack.WebhookUrl, logrus.WithField("component", "slack"))
		return nil
	}
}

// bootstrap connects Redis, Postgres, the task queue and the mail transport and builds the service.
func (a *artisanInstance) bootstrap(ctx context.Context) error {
	cnf := a.cnf

	redisClient, err := redis_db.NewRedisClient([]string{cnf.Redis.Dns}, cnf.Redis.SkipTLSVerify)
	if err != nil {
		return fmt.Errorf("error connecting to redis: %v", err)
	}

	db, err := database.NewDataSource(cnf, cache.NewCache(redisClient.Client(), cache.Options{}))
	if err != nil {
		return fmt.Errorf("error getting datasource: %v", err)
	}

	queue, err := artisan.NewQueue(cnf)
	if err != nil {
		return fmt.Errorf("error creating task queue: %v", err)
	}

	transport, err := mail.New(ctx, cnf.Mail, logrus.WithField("component", "mail"))
	if err != nil {
		return fmt.Errorf("error creating mail transport: %v", err)
	}

	a.redis = redisClient
	a.queue = queue
	a.artisan = artisan.NewArtisan(db, queue, artisan.Options{
		Transport:   transport,
		MailTimeout: cnf.Mail.Timeout(),
		Policy:      artisan.RetryPolicyFromConfig(cnf.Invoice),
		Locker:      redlock.NewAttemptLocker(redisClient.Client(), time.Duration(cnf.Invoice.TaskLockSec)*time.Second),
		Reporter:    artisan.NewEventReporter(queue, a.slack, logrus.WithField("component", "events")),
		Logger:      logrus.StandardLogger(),
	})
	return nil
}

// mustBootstrap is bootstrap for long-running commands: failures alert Slack and exit.
func (a *artisanInstance) mustBootstrap(ctx context.Context) {
	if err := a.bootstrap(ctx); err != nil {
		if a.slack.Enabled() {
			_ = a.slack.Notify(ctx, "Artisan failed to start", err, map[string]string{"project": a.cnf.ProjectName})
		}
		logrus.Fatal(err)
	}
}

func NewCLI() *Artisan {
	var configFile string
	a := &artisanInstance{}

	var rootCmd = &cobra.Command{
		Use:   "artisan",
		Short: "Order backend with asynchronous invoice delivery",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./artisan.json", "Configuration file")
	rootCmd.PersistentPreRunE = preRun(a, &configFile)

	rootCmd.AddCommand(serverCommands(a))
	rootCmd.AddCommand(workerCommands(a))
	rootCmd.AddCommand(migrateCommands(a))
	rootCmd.AddCommand(requeueCommands(a))
	rootCmd.AddCommand(configCommands(a))

	return &Artisan{cmd: rootCmd}
}

func (w Artisan) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}

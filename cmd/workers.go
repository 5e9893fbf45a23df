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
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/midnight-artisan/artisan"
	"github.com/midnight-artisan/artisan/config"
	redis_db "github.com/midnight-artisan/artisan/internal/redis-db"
)

// initializeQueues gives invoice delivery priority over webhook notifications.
func initializeQueues(conf *config.Configuration) map[string]int {
	return map[string]int{
		conf.Queue.InvoiceQueue: 3,
		conf.Queue.WebhookQueue: 1,
	}
}

func initializeWorkerServer(conf *config.Configuration, queues map[string]int) (*asynq.Server, error) {
	opt, err := redis_db.AsynqClientOpt(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	return asynq.NewServer(opt, asynq.Config{
		Concurrency: conf.Queue.Concurrency,
		Queues:      queues,
		Logger:      logrus.WithField("component", "asynq"),
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logrus.WithError(err).WithField("type", task.Type()).Error("task failed")
		}),
	}), nil
}

func initializeTaskHandlers(a *artisanInstance, mux *asynq.ServeMux) {
	mux.Handle(a.cnf.Queue.InvoiceQueue, artisan.NewInvoiceTaskHandler(a.artisan.Scheduler()))
	mux.HandleFunc(a.cnf.Queue.WebhookQueue, artisan.ProcessWebhook)
}

func startMonitoring(conf *config.Configuration) {
	opt, err := redis_db.AsynqClientOpt(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		log.Printf("monitoring disabled: %v", err)
		return
	}
	h := asynqmon.New(asynqmon.Options{
		RootPath:     "/monitoring",
		RedisConnOpt: opt,
	})

	go func() {
		monitoringAddr := fmt.Sprintf(":%s", conf.Queue.MonitoringPort)
		log.Printf("Asynqmon server listening on %s/monitoring", monitoringAddr)
		if err := http.ListenAndServe(monitoringAddr, h); err != nil {
			log.Printf("could not start asynqmon server: %v", err)
		}
	}()
}

// workerCommands defines the "workers" command. The workers run invoice attempts and deliver webhooks.
func workerCommands(a *artisanInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start artisan workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a.mustBootstrap(ctx)
			defer a.queue.Close()

			srv, err := initializeWorkerServer(a.cnf, initializeQueues(a.cnf))
			if err != nil {
				log.Fatal(err)
			}

			mux := asynq.NewServeMux()
			initializeTaskHandlers(a, mux)

			startMonitoring(a.cnf)

			if a.cnf.Invoice.RecoveryIntervalSec > 0 {
				recovery := artisan.NewInvoiceRecoveryProcessor(a.artisan, a.cnf.Invoice)
				recovery.Start(ctx)
				defer recovery.Stop()
			}

			if err := srv.Start(mux); err != nil {
				log.Fatalf("could not run server: %v", err)
			}
			<-ctx.Done()
			srv.Shutdown()
		},
	}

	return cmd
}

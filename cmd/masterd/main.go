/*
 * Copyright 2025 Canonical Ltd.
 * See LICENSE file for licensing details.
 *
 * Package main starts the build master daemon.
 *
 * The daemon tracks build requests through their lifecycle in an in-memory
 * store, consumes command messages from the broker, publishes lifecycle
 * events, and provides observability via Prometheus metrics and
 * OpenTelemetry tracing.
 */

package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/p12tic/buildbot/internal/buildrequests"
	"github.com/p12tic/buildbot/internal/builders"
	"github.com/p12tic/buildbot/internal/buildsets"
	"github.com/p12tic/buildbot/internal/config"
	"github.com/p12tic/buildbot/internal/events"
	"github.com/p12tic/buildbot/internal/master"
	"github.com/p12tic/buildbot/internal/queue"
	"github.com/p12tic/buildbot/internal/telemetry"
	"github.com/p12tic/buildbot/internal/version"
)

const (
	rabbitMQUriEnvVar = "RABBITMQ_CONNECT_STRING"
	masterIDEnvVar    = "MASTER_ID"
	fixtureEnvVar     = "MASTER_FIXTURE_PATH"
	serviceName       = "buildbot-master"
	shutdownTimeout   = 30 * time.Second
)

type appConfig struct {
	rabbitMQURI string
	masterID    int
	fixturePath string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := telemetry.Start(ctx, serviceName, version.String())
	if err != nil {
		log.Fatalf("failed to start telemetry: %v", err)
	}

	cfg := loadConfig()

	builderRegistry := builders.NewRegistry()
	buildsetRegistry := buildsets.NewRegistry()
	if cfg.fixturePath != "" {
		fixture, err := config.Load(cfg.fixturePath)
		if err != nil {
			log.Fatalln("failed to load fixture:", err)
		}
		fixture.Apply(builderRegistry, buildsetRegistry)
	}

	queueConfig := queue.DefaultConfig()
	producer := queue.NewAmqpProducer(cfg.rabbitMQURI, queueConfig.EventExchange)
	notifier := events.NewNotifier(producer)

	store := buildrequests.NewStore(builderRegistry, buildsetRegistry, notifier)
	metrics := master.NewMetrics(store)

	amqpConsumer := queue.NewAmqpConsumer(cfg.rabbitMQURI, queueConfig)
	consumer := master.NewConsumer(amqpConsumer, store, buildsetRegistry, cfg.masterID, metrics)

	var consumerWg sync.WaitGroup
	consumerWg.Add(1)
	go func() {
		defer consumerWg.Done()
		if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Fatalf("AMQP consumer error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutdown signal received, starting graceful shutdown...")

	shutdown(consumer, &consumerWg, producer)
	log.Println("Graceful shutdown complete")
}

func loadConfig() appConfig {
	cfg := appConfig{}
	var found bool

	cfg.rabbitMQURI, found = os.LookupEnv(rabbitMQUriEnvVar)
	if !found {
		log.Fatalln(rabbitMQUriEnvVar, "environment variable not set.")
	}

	masterID, found := os.LookupEnv(masterIDEnvVar)
	if !found {
		log.Fatalln(masterIDEnvVar, "environment variable not set.")
	}
	id, err := strconv.Atoi(masterID)
	if err != nil || id <= 0 {
		log.Fatalln(masterIDEnvVar, "must be a positive integer.")
	}
	cfg.masterID = id

	// The fixture is optional; without it the daemon starts with empty
	// registries and relies on new-buildset commands.
	cfg.fixturePath = os.Getenv(fixtureEnvVar)

	return cfg
}

func shutdown(consumer *master.Consumer, consumerWg *sync.WaitGroup, producer *queue.AmqpProducer) {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	log.Println("Waiting for AMQP consumer to stop...")
	consumerWg.Wait()

	log.Println("Closing AMQP connections...")
	if err := consumer.Close(); err != nil {
		log.Printf("failed to close AMQP consumer: %v", err)
	}
	if err := producer.Close(); err != nil {
		log.Printf("failed to close AMQP producer: %v", err)
	}

	log.Println("Shutting down telemetry...")
	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		log.Printf("failed to shutdown telemetry: %v", err)
	}
}

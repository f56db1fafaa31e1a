package main

import (
	"context"
	"expvar"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	echoapi "github.com/liceojbh/intranet/apps/api/echo"
	"github.com/liceojbh/intranet/apps/di"
	"github.com/liceojbh/intranet/core"
	"github.com/liceojbh/intranet/core/user"
	logsvc "github.com/liceojbh/intranet/services/logger"
	"github.com/liceojbh/intranet/storage/database"
)

// read notifications older than this are purged every night
const notificationMaxAge = 30 * 24 * time.Hour

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	dbLogger := logger.Named("db")

	if err := database.CreateIfNotExist(conf); err != nil {
		dbLogger.Fatal(fmt.Sprintf("creating database: %v", err), err)
	}
	db, err := database.Open(conf)
	if err != nil {
		dbLogger.Fatal(fmt.Sprintf("opening database: %v", err), err)
	}
	defer func() {
		if err = db.Close(); err != nil {
			dbLogger.Error("Failed to close", err)
		}
	}()
	if err = database.Migrate(db.DB, false); err != nil {
		dbLogger.Fatal(fmt.Sprintf("migrating database: %v", err), err)
	}

	backend, err := di.NewPostgresBackend(context.Background(), conf, logger, db)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up backend: %v", err), err)
	}
	defer func() { _ = backend.Close() }()

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	core.ParseEmailTemplates(conf, logger)
	user.LoadCommonPasswords(logger)

	container := di.New(conf, logger, backend.Backend)

	// =========================================================================
	// Start Background Jobs

	jobs := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)))
	if backend.Reaper != nil {
		_, _ = jobs.AddFunc("@every 10m", func() {
			if _, err := backend.Reaper.Reap(context.Background()); err != nil {
				logger.Error("reaping rate limit windows", err)
			}
		})
	}
	_, _ = jobs.AddFunc("0 3 * * *", func() {
		n, err := container.NotificationSvc.Purge(context.Background(), notificationMaxAge)
		if err != nil {
			logger.Error("purging notifications", err)
			return
		}
		logger.Info(fmt.Sprintf("purged %d read notifications", n))
	})
	jobs.Start()
	defer jobs.Stop()

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.
	// /metrics - Prometheus scrape endpoint.

	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start API Service

	server := echoapi.NewServer(echoapi.DepsFromContainer(container, registry))

	go func() {
		server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err = <-server.Errors():
		logger.Fatal(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		// asking listener to shutdown and shed load
		if err = server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Fatal(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
	}
}

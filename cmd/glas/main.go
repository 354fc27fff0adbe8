// Command glas runs the lab workflow orchestrator: it loads the node and
// workflow registries from JSON configuration, starts the watchdog and
// HTTP surface, and blocks until SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"

	"github.com/swisscatplus/glas/internal/config"
	"github.com/swisscatplus/glas/internal/core/eventbus"
	"github.com/swisscatplus/glas/internal/core/logging"
	"github.com/swisscatplus/glas/internal/core/otelinit"
	"github.com/swisscatplus/glas/internal/core/resilience"
	"github.com/swisscatplus/glas/internal/httpapi"
	"github.com/swisscatplus/glas/internal/orchestrator"
	"github.com/swisscatplus/glas/internal/store"
	"github.com/swisscatplus/glas/internal/task"
	"github.com/swisscatplus/glas/internal/watchdog"
)

const serviceName = "glas"

var rootCmd = &cobra.Command{
	Use:   "glas",
	Short: "Scheduler to automate the lab's workflows",
	Run:   run,
}

func init() {
	viper.SetDefault("port", 8000)
	viper.SetDefault("nodes", "./config/nodes.json")
	viper.SetDefault("workflows", "./config/workflows.json")

	flags := rootCmd.Flags()
	flags.IntP("port", "p", 8000, "port of the scheduler to communicate with")
	flags.StringP("nodes", "n", "./config/nodes.json", "file path of the node descriptions")
	flags.StringP("workflows", "w", "./config/workflows.json", "file path of the workflow descriptions")
	flags.BoolP("verbose", "v", false, "verbose mode")
	flags.BoolP("logs", "l", false, "store the logs in the database in addition to stdout")
	flags.BoolP("emulate", "e", false, "print the emulation-mode banner (node kinds still come from each node's type in the nodes file)")
	flags.BoolP("debug", "d", false, "debug mode (sets the log level to debug)")

	for _, name := range []string{"port", "nodes", "workflows", "verbose", "logs", "emulate", "debug"} {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) {
	if viper.GetBool("verbose") || viper.GetBool("debug") {
		os.Setenv("GLAS_LOG_LEVEL", "debug")
	}
	logger := logging.Init(serviceName)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTrace := otelinit.InitTracer(ctx, serviceName)
	shutdownMetrics, metrics := otelinit.InitMetrics(ctx, serviceName)
	defer func() {
		ctxSd, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		otelinit.Flush(ctxSd, shutdownTrace)
		_ = shutdownMetrics(ctxSd)
	}()

	env := config.LoadEnvironment()
	db := store.New(env.Database)

	if viper.GetBool("logs") {
		logger = logging.WithDBSink(logger, logging.NewDBSink(db, serviceName))
		slog.SetDefault(logger)
	}

	bus := eventbus.Connect(os.Getenv("NATS_URL"), logger)
	defer bus.Close()

	nodeFactory := config.NewNodeFactory(config.NodeBuilderDeps{
		Store:      db,
		Events:     bus,
		Logger:     logger,
		GateWaitMS: metrics.GateWaitMS,
		CallOK:     metrics.NodeCallSuccess,
		CallErr:    metrics.NodeCallError,
	})
	workflowFactory := config.NewWorkflowFactory()

	taskDeps := func(uuid string) task.Deps {
		return task.Deps{Store: db, Events: bus, Logger: logger.With("task", uuid)}
	}

	orch := orchestrator.New(orchestrator.Config{
		Logger:        logger,
		Emulate:       viper.GetBool("emulate"),
		NodesPath:     viper.GetString("nodes"),
		WorkflowsPath: viper.GetString("workflows"),
		LoadNodes:     nodeFactory,
		LoadWorkflows: workflowFactory,
		TaskDeps:      taskDeps,
		Store:         db,
	})

	wd, err := watchdogFor(logger)
	if err != nil {
		logger.Error("could not start watchdog", "error", err)
		os.Exit(1)
	}
	orch.RegisterStartCallback(func() {
		if err := wd.WatchAll(ctx, orch); err != nil {
			logger.Error("could not register nodes with watchdog", "error", err)
		}
		wd.Start()
	})
	orch.RegisterStopCallback(func() {
		wd.Stop(ctx)
	})

	if code := orch.Start(ctx); code != orchestrator.OK {
		logger.Error("orchestrator failed to start", "code", code.String())
		os.Exit(1)
	}

	taskRateLimiter := resilience.NewHybridRateLimiter(10, 2.0, 20, 50*time.Millisecond)
	defer taskRateLimiter.Stop()

	api := httpapi.New(httpapi.Deps{
		Orchestrator:  orch,
		Store:         db,
		Logger:        logger,
		JWTSecret:     []byte(env.JWTSecret),
		AuthorizedIPs: env.AuthorizedIPs,
		RateLimiter:   taskRateLimiter,
	})
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", viper.GetInt("port")),
		Handler: api.Handler(),
	}

	tokenSrv := httpapi.NewTokenServer(httpapi.Deps{JWTSecret: []byte(env.JWTSecret), Logger: logger})
	tokenListener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		logger.Error("could not bind localhost-only listener", "error", err)
		os.Exit(1)
	}

	go func() {
		logger.Info("http surface listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http surface error", "error", err)
			cancel()
		}
	}()
	go func() {
		logger.Info("localhost-only token/pprof surface listening", "addr", tokenListener.Addr().String())
		if err := tokenSrv.Serve(tokenListener); err != nil && err != http.ErrServerClosed {
			logger.Error("token surface error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Warn("shutdown initiated")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	_ = tokenSrv.Shutdown(shutdownCtx)
	orch.Stop(shutdownCtx)

	logger.Warn("shutdown complete")
}

func watchdogFor(logger *slog.Logger) (*watchdog.Watchdog, error) {
	cadencePath := os.Getenv("GLAS_WATCHDOG_DB")
	if cadencePath == "" {
		cadencePath = "./config/watchdog.db"
	}
	cadence, err := watchdog.OpenCadenceStore(cadencePath)
	if err != nil {
		return nil, err
	}
	meter := otel.GetMeterProvider().Meter("glas-watchdog")
	return watchdog.New(watchdog.Deps{Logger: logger, Cadence: cadence, Meter: meter})
}

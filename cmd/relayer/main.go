// File: cmd/relayer/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ecochain/eco-relayer/internal/auth"
	"github.com/ecochain/eco-relayer/internal/chain"
	"github.com/ecochain/eco-relayer/internal/config"
	"github.com/ecochain/eco-relayer/internal/impact"
	"github.com/ecochain/eco-relayer/internal/ledger"
	"github.com/ecochain/eco-relayer/internal/metrics"
	"github.com/ecochain/eco-relayer/internal/queue"
	"github.com/ecochain/eco-relayer/internal/relay"
	"github.com/ecochain/eco-relayer/internal/server"
	"github.com/ecochain/eco-relayer/internal/storage"
	"github.com/ecochain/eco-relayer/internal/timeline"
	"github.com/ecochain/eco-relayer/pkg/utils"
)

// AppVersion contains the application version
const AppVersion = "1.0.0"

// Application wires the relay components together
type Application struct {
	config       *config.Config
	logger       *logrus.Logger
	metrics      *metrics.Manager
	connection   *chain.Connection
	storage      storage.Storage
	queue        queue.Queue
	ledger       *ledger.Ledger
	orchestrator *relay.Orchestrator
	drainer      *relay.Drainer
	sweeper      *relay.Sweeper
	worker       *relay.Worker
	server       *server.HTTPServer
	ctx          context.Context
	cancel       context.CancelFunc
}

// NewApplication creates a new application instance
func NewApplication(cfg *config.Config) (*Application, error) {
	ctx, cancel := context.WithCancel(context.Background())

	app := &Application{
		config:  cfg,
		metrics: metrics.NewManager(),
		ctx:     ctx,
		cancel:  cancel,
	}

	if err := app.initializeLogger(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := app.initializeComponents(); err != nil {
		app.Stop()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	return app, nil
}

// initializeLogger initializes the application logger
func (app *Application) initializeLogger() error {
	logCfg := app.config.Logging
	if level := viper.GetString("log-level"); level != "" && viper.IsSet("log-level") {
		logCfg.Level = level
	}

	if err := utils.InitLogger(logCfg.Level, logCfg.Format, logCfg.Output, logCfg.File); err != nil {
		return err
	}

	app.logger = utils.GetLogger()
	app.logger.WithFields(logrus.Fields{
		"level":  logCfg.Level,
		"format": logCfg.Format,
		"output": logCfg.Output,
	}).Info("Logger initialized")

	return nil
}

// initializeComponents initializes all application components
func (app *Application) initializeComponents() error {
	app.logger.Info("Initializing application components")

	if err := app.initializeConnection(); err != nil {
		return fmt.Errorf("failed to initialize connection: %w", err)
	}

	if err := app.initializeStorage(); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	if err := app.initializeQueue(); err != nil {
		return fmt.Errorf("failed to initialize queue: %w", err)
	}

	if err := app.initializeRelay(); err != nil {
		return fmt.Errorf("failed to initialize relay: %w", err)
	}

	app.logger.Info("All components initialized successfully")
	return nil
}

// initializeConnection dials the RPC endpoint and checks the chain id
func (app *Application) initializeConnection() error {
	app.logger.Info("Initializing chain connection")

	app.connection = chain.NewConnection(&app.config.Chain)
	if err := app.connection.Connect(app.ctx); err != nil {
		return fmt.Errorf("failed to connect to chain: %w", err)
	}

	app.logger.Info("Chain connection initialized successfully")
	return nil
}

// initializeStorage initializes the ledger store
func (app *Application) initializeStorage() error {
	app.logger.Info("Initializing storage layer")

	store, err := storage.NewStorage(&app.config.Storage)
	if err != nil {
		return fmt.Errorf("failed to create storage: %w", err)
	}

	if err := store.Connect(); err != nil {
		return fmt.Errorf("failed to connect to storage: %w", err)
	}

	if err := store.Migrate(); err != nil {
		store.Close()
		return fmt.Errorf("failed to run storage migrations: %w", err)
	}

	app.storage = storage.NewStorageWithMetrics(store, app.metrics)
	app.logger.Info("Storage layer initialized successfully")
	return nil
}

// initializeQueue selects the queue backend once
func (app *Application) initializeQueue() error {
	q, err := queue.New(app.config.Queue)
	if err != nil {
		return err
	}
	app.queue = queue.WithMetrics(q, app.metrics.GetPrometheusMetrics())

	app.logger.WithField("backend", app.queue.Name()).Info("Mint job queue initialized")
	return nil
}

// initializeRelay builds the gateway, ledger and orchestrator
func (app *Application) initializeRelay() error {
	pm := app.metrics.GetPrometheusMetrics()

	gateway, err := chain.NewEVMGateway(app.connection, &app.config.Chain, pm)
	if err != nil {
		return fmt.Errorf("failed to create chain gateway: %w", err)
	}
	app.logger.WithField("relayer", gateway.From().Hex()).Info("Chain gateway initialized")

	recorder := timeline.NewRecorder(app.storage)
	app.ledger = ledger.New(app.storage, recorder)

	app.orchestrator = relay.NewOrchestrator(gateway, app.queue, app.ledger, recorder, pm, app.config.Queue.PopTimeout)
	app.orchestrator.EnableDeferredRetry(app.config.Relay.EnqueueOnInlineFailure)

	app.drainer = relay.NewDrainer(app.orchestrator, app.config.Relay.JobsPerSecond, pm)
	app.sweeper = relay.NewSweeper(app.storage, app.orchestrator, app.drainer, app.config.Relay)
	return nil
}

// initializeServer initializes the HTTP server
func (app *Application) initializeServer() error {
	app.logger.Info("Initializing HTTP server")

	var err error
	app.server, err = server.NewHTTPServer(&app.config.Server, server.Dependencies{
		Storage:        app.storage,
		Ledger:         app.ledger,
		Orchestrator:   app.orchestrator,
		Sweeper:        app.sweeper,
		Auth:           auth.NewAuthenticator(app.config.Auth.JWTSecret, auth.DefaultTokenTTL),
		Impact:         impact.NewService(app.storage),
		Chain:          app.connection,
		QueueName:      app.queue.Name(),
		CronSecret:     app.config.Auth.CronSecret,
		Version:        AppVersion,
		MetricsManager: app.metrics,
	})
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	app.logger.Info("HTTP server initialized successfully")
	return nil
}

// StartWorker starts the queue consumer
func (app *Application) StartWorker() error {
	app.worker = relay.NewWorker(app.orchestrator, app.config.Relay.WorkerBackoff)
	return app.worker.Start(app.ctx)
}

// Stop stops the application gracefully
func (app *Application) Stop() error {
	app.logger.Info("Stopping relayer")

	app.cancel()

	if app.server != nil {
		if err := app.server.Stop(); err != nil {
			app.logger.WithError(err).Error("Failed to stop HTTP server")
		}
	}

	if app.worker != nil {
		if err := app.worker.Stop(); err != nil {
			app.logger.WithError(err).Error("Failed to stop worker")
		}
	}

	if app.queue != nil {
		if err := app.queue.Close(); err != nil {
			app.logger.WithError(err).Error("Failed to close queue")
		}
	}

	if app.storage != nil {
		if err := app.storage.Close(); err != nil {
			app.logger.WithError(err).Error("Failed to close storage")
		}
	}

	if app.connection != nil {
		if err := app.connection.Close(); err != nil {
			app.logger.WithError(err).Error("Failed to close connection")
		}
	}

	app.logger.Info("Relayer stopped")
	return nil
}

// CLI Commands

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "eco-relayer",
	Short:   "Eco credit relayer",
	Long:    `Turns verified waste disposals into on-chain attestations and minted eco credits.`,
	Version: AppVersion,
	RunE:    runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

// loadApplication loads and validates configuration, then builds the application
func loadApplication() (*Application, error) {
	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return NewApplication(cfg)
}

func waitForSignal() {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	<-signalChan
	fmt.Println("\nReceived shutdown signal, stopping relayer...")
}

// runServe runs the HTTP API, optionally with the queue worker in the same process
func runServe(cmd *cobra.Command, args []string) error {
	app, err := loadApplication()
	if err != nil {
		return err
	}
	defer app.Stop()

	if err := app.initializeServer(); err != nil {
		return err
	}
	if err := app.server.Start(); err != nil {
		return err
	}

	withWorker, _ := cmd.Flags().GetBool("with-worker")
	if withWorker {
		if err := app.StartWorker(); err != nil {
			return fmt.Errorf("failed to start worker: %w", err)
		}
	}

	app.logger.WithFields(logrus.Fields{
		"version":        AppVersion,
		"environment":    app.config.App.Environment,
		"server_address": fmt.Sprintf("%s:%d", app.config.Server.Host, app.config.Server.Port),
		"queue":          app.queue.Name(),
		"worker":         withWorker,
	}).Info("Relayer started successfully")

	waitForSignal()
	return nil
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume the mint job queue until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := loadApplication()
		if err != nil {
			return err
		}
		defer app.Stop()

		if err := app.StartWorker(); err != nil {
			return fmt.Errorf("failed to start worker: %w", err)
		}

		waitForSignal()
		return nil
	},
}

var drainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Process queued mint jobs once and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := loadApplication()
		if err != nil {
			return err
		}
		defer app.Stop()

		maxJobs, _ := cmd.Flags().GetInt("max")
		if maxJobs <= 0 {
			maxJobs = app.config.Relay.DrainMaxJobs
		}

		result, err := app.drainer.Drain(app.ctx, maxJobs, "cli")
		if result != nil {
			printJSON(result)
		}
		return err
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run the daily maintenance tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := loadApplication()
		if err != nil {
			return err
		}
		defer app.Stop()

		summary, err := app.sweeper.Run(app.ctx)
		if err != nil {
			return err
		}
		printJSON(summary)
		if !summary.Success {
			return fmt.Errorf("%s", summary.Message)
		}
		return nil
	},
}

// tokenCmd issues a session token, for operators calling the order routes by hand
var tokenCmd = &cobra.Command{
	Use:   "token <user-id> <address>",
	Short: "Issue an API token",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(viper.GetString("config"))
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if cfg.Auth.JWTSecret == "" {
			return fmt.Errorf("JWT secret is required")
		}
		if !utils.IsValidAddress(args[1]) {
			return fmt.Errorf("invalid address: %s", args[1])
		}

		ttl, _ := cmd.Flags().GetDuration("ttl")
		token, err := auth.NewAuthenticator(cfg.Auth.JWTSecret, ttl).Issue(args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Eco Relayer %s\n", AppVersion)
	},
}

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

// validateConfigCmd validates the configuration
var validateConfigCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(viper.GetString("config"))
		if err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}

		fmt.Printf("Configuration is valid!\n")
		fmt.Printf("Environment: %s\n", cfg.App.Environment)
		fmt.Printf("Chain: %s (id %d)\n", utils.MaskSecret(cfg.Chain.RPCURL), cfg.Chain.ChainID)
		fmt.Printf("Database: %s\n", cfg.Storage.Type)
		fmt.Printf("Queue: %s\n", cfg.Queue.QueueBackend())

		return nil
	},
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		utils.GetLogger().WithError(err).Error("Failed to encode output")
	}
}

// init initializes the CLI commands
func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")

	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.Flags().Bool("with-worker", false, "also consume the mint job queue")
	serveCmd.Flags().Bool("with-worker", false, "also consume the mint job queue")
	drainCmd.Flags().Int("max", relay.DefaultDrainMax, "maximum number of jobs to process")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(drainCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(validateConfigCmd)
}

// main is the entry point
func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

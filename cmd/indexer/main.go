// File: cmd/indexer/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/silk-labs/silk-indexer/internal/auth"
	"github.com/silk-labs/silk-indexer/internal/chain"
	"github.com/silk-labs/silk-indexer/internal/config"
	"github.com/silk-labs/silk-indexer/internal/feed"
	"github.com/silk-labs/silk-indexer/internal/indexer"
	"github.com/silk-labs/silk-indexer/internal/metrics"
	"github.com/silk-labs/silk-indexer/internal/notify"
	"github.com/silk-labs/silk-indexer/internal/server"
	"github.com/silk-labs/silk-indexer/internal/storage"
	"github.com/silk-labs/silk-indexer/pkg/utils"
)

// AppVersion contains the application version
const AppVersion = "1.0.0"

// Application wires all indexer components together
type Application struct {
	config         *config.Config
	logger         *logrus.Logger
	connection     *chain.ConnectionManager
	storage        storage.Storage
	reconciler     *indexer.Reconciler
	notifier       *notify.Manager
	poller         *feed.Poller
	auth           *auth.Service
	server         *server.HTTPServer
	metricsManager *metrics.Manager
	ctx            context.Context
	cancel         context.CancelFunc
}

// NewApplication creates a new application instance
func NewApplication(cfg *config.Config) (*Application, error) {
	ctx, cancel := context.WithCancel(context.Background())

	app := &Application{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	if err := app.initializeLogger(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	if err := app.initializeComponents(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}
	return app, nil
}

func (app *Application) initializeLogger() error {
	logCfg := app.config.Logging
	if err := utils.InitLogger(logCfg.Level, logCfg.Format, logCfg.Output, logCfg.File); err != nil {
		return err
	}
	app.logger = utils.GetLogger()
	app.logger.WithFields(logrus.Fields{
		"level":  logCfg.Level,
		"format": logCfg.Format,
	}).Info("Logger initialized")
	return nil
}

func (app *Application) initializeComponents() error {
	app.logger.Info("Initializing application components")

	app.metricsManager = metrics.NewManager()

	app.connection = chain.NewConnectionManager(&app.config.Chain)
	app.connection.SetMetrics(app.metricsManager.GetPrometheusMetrics())

	store, err := storage.NewStorage(&storage.StorageConfig{
		Type:             app.config.Storage.Type,
		ConnectionString: app.config.Storage.ConnectionString,
		MaxConnections:   app.config.Storage.MaxConnections,
		MaxIdleTime:      app.config.Storage.MaxIdleTime,
	})
	if err != nil {
		return err
	}
	if err := store.Connect(); err != nil {
		return fmt.Errorf("failed to connect to storage: %w", err)
	}
	if err := store.Migrate(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	app.storage = store

	app.auth = auth.NewService(app.storage)

	prom := app.metricsManager.GetPrometheusMetrics()
	app.reconciler = indexer.NewReconciler(app.storage, app.connection, app.config.Chain.ProgramID, prom)

	if app.config.Notifications.Enabled {
		var sinks []notify.Sink
		if app.config.Notifications.WebhookURL != "" {
			webhook, err := notify.NewWebhookSink(&app.config.Notifications)
			if err != nil {
				return err
			}
			sinks = append(sinks, webhook)
		} else {
			sinks = append(sinks, notify.NewLogSink())
		}
		app.notifier = notify.NewManager(&app.config.Notifications, sinks...)
		app.reconciler.SetNotifier(app.notifier)
	}

	if app.config.Feed.Enabled {
		app.poller = feed.NewPoller(&app.config.Feed, app.config.Chain.ProgramID,
			app.connection, app.storage, app.reconciler, prom)
	}

	app.server = server.NewHTTPServer(&app.config.Server, app.storage, app.connection,
		app.poller, app.auth, app.metricsManager, AppVersion)

	app.logger.Info("All components initialized successfully")
	return nil
}

// Start starts the application
func (app *Application) Start() error {
	app.logger.WithFields(logrus.Fields{
		"version":     AppVersion,
		"environment": app.config.App.Environment,
	}).Info("Starting Silk indexer")

	if err := app.server.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	if app.notifier != nil {
		if err := app.notifier.Start(app.ctx); err != nil {
			return fmt.Errorf("failed to start notification manager: %w", err)
		}
	}

	if app.poller != nil {
		if err := app.poller.Start(app.ctx); err != nil {
			return fmt.Errorf("failed to start feed poller: %w", err)
		}
	}

	app.metricsManager.StartPeriodicUpdates(30 * time.Second)

	app.logger.WithFields(logrus.Fields{
		"server_address": fmt.Sprintf("%s:%d", app.config.Server.Host, app.config.Server.Port),
		"rpc_url":        app.config.Chain.RPCURL,
		"program_id":     app.config.Chain.ProgramID,
		"feed_enabled":   app.config.Feed.Enabled,
	}).Info("Silk indexer started successfully")
	return nil
}

// Stop stops the application gracefully
func (app *Application) Stop() error {
	app.logger.Info("Stopping Silk indexer")

	app.cancel()

	if app.server != nil {
		if err := app.server.Stop(); err != nil {
			app.logger.WithError(err).Error("Failed to stop HTTP server")
		}
	}
	if app.poller != nil {
		if err := app.poller.Stop(); err != nil {
			app.logger.WithError(err).Error("Failed to stop feed poller")
		}
	}
	if app.notifier != nil {
		if err := app.notifier.Stop(); err != nil {
			app.logger.WithError(err).Error("Failed to stop notification manager")
		}
	}
	if app.metricsManager != nil {
		app.metricsManager.Stop()
	}
	if app.storage != nil {
		if err := app.storage.Close(); err != nil {
			app.logger.WithError(err).Error("Failed to close storage")
		}
	}

	app.logger.Info("Silk indexer stopped successfully")
	return nil
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "silk-indexer",
	Short:   "Silk managed-account indexer",
	Long:    "Mirrors Silk managed accounts, their operators, and an append-only audit trail from chain history into a local relational store.",
	Version: AppVersion,
	RunE:    runIndexer,
}

func runIndexer(cmd *cobra.Command, args []string) error {
	configPath := viper.GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	app, err := NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	if err := app.Start(); err != nil {
		return fmt.Errorf("failed to start application: %w", err)
	}

	<-signalChan
	fmt.Println("\nReceived shutdown signal, stopping application...")

	if err := app.Stop(); err != nil {
		return fmt.Errorf("failed to stop application: %w", err)
	}
	return nil
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("silk-indexer version %s\n", AppVersion)
	},
}

// configCmd groups configuration management commands
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

var validateConfigCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := viper.GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("configuration is invalid: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("configuration is invalid: %w", err)
		}
		fmt.Printf("Configuration is valid\n")
		fmt.Printf("  RPC URL:    %s\n", cfg.Chain.RPCURL)
		fmt.Printf("  Program ID: %s\n", cfg.Chain.ProgramID)
		fmt.Printf("  Storage:    %s\n", cfg.Storage.Type)
		return nil
	},
}

// testCmd checks connectivity with the configured RPC endpoint and storage
var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Test connectivity and configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := viper.GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		if err := utils.InitLogger("error", "text", "stdout", ""); err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		connection := chain.NewConnectionManager(&cfg.Chain)
		if err := connection.HealthCheck(ctx); err != nil {
			return fmt.Errorf("chain RPC check failed: %w", err)
		}
		fmt.Printf("Chain RPC reachable at %s\n", cfg.Chain.RPCURL)

		store, err := storage.NewStorage(&storage.StorageConfig{
			Type:             cfg.Storage.Type,
			ConnectionString: cfg.Storage.ConnectionString,
			MaxConnections:   cfg.Storage.MaxConnections,
			MaxIdleTime:      cfg.Storage.MaxIdleTime,
		})
		if err != nil {
			return err
		}
		if err := store.Connect(); err != nil {
			return fmt.Errorf("storage check failed: %w", err)
		}
		defer store.Close()
		fmt.Printf("Storage reachable (%s)\n", cfg.Storage.Type)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")

	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(testCmd)
	configCmd.AddCommand(validateConfigCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

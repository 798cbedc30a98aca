package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/marmos91/forgefs/internal/logger"
	"github.com/marmos91/forgefs/pkg/config"
	"github.com/marmos91/forgefs/pkg/server"
	"github.com/spf13/cobra"
)

var (
	serveListen   string
	serveExport   string
	serveReadOnly bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the NFS server",
	Long: `Start the forgefs NFS server in the foreground.

Configuration is read from --config, or from $XDG_CONFIG_HOME/forgefs/config.yaml
when present, otherwise defaults are used. Flags override the file.

Examples:
  # Serve with the default configuration
  forgefs serve

  # Serve on a private loopback address picked from 127.88.0.0/16
  forgefs serve --listen auto:2049

  # Serve a read-only mirror
  forgefs serve --config /etc/forgefs/config.yaml --read-only

  # Use environment variable overrides
  FORGEFS_LOGGING_LEVEL=DEBUG forgefs serve`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "NFS listen address, host:port or auto:port (overrides adapters.nfs.listen)")
	serveCmd.Flags().StringVar(&serveExport, "export", "", "Export name clients mount (overrides export.name)")
	serveCmd.Flags().BoolVar(&serveReadOnly, "read-only", false, "Reject every mutating request (overrides export.read_only)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadServeConfig(cmd)
	if err != nil {
		return err
	}

	if err := logger.Configure(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("forgefs %s starting (log level %s)", Version, cfg.Logging.Level)
	logger.Info("Configuration loaded from %s", getConfigSource(GetConfigFile()))

	// Metrics come first so the content store is instrumented.
	metricsResult := config.InitializeMetrics(cfg)

	backend, err := config.CreateBackend(ctx, cfg, metricsResult.ContentMetrics)
	if err != nil {
		return err
	}
	defer func() {
		if err := backend.Close(); err != nil {
			logger.Error("Failed to close backend: %v", err)
		}
	}()

	nfsAdapter, err := config.CreateNFSAdapter(cfg, backend.FileSystem, metricsResult.NFSMetrics)
	if err != nil {
		return err
	}

	srv := server.New(cfg.Server.ShutdownTimeout)
	if err := srv.AddAdapter(nfsAdapter); err != nil {
		return err
	}

	if opsServer := config.CreateMetricsServer(cfg, nfsAdapter); opsServer != nil {
		if err := srv.AddService(opsServer); err != nil {
			return err
		}
	} else {
		logger.Info("Metrics collection disabled")
	}

	return srv.Serve(ctx)
}

func loadServeConfig(cmd *cobra.Command) (*config.Config, error) {
	configFile := GetConfigFile()
	if configFile != "" {
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s (create it with: forgefs init --config %s)", configFile, configFile)
		}
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("listen") {
		cfg.Adapters.NFS.Listen = serveListen
	}
	if flags.Changed("export") {
		cfg.Export.Name = serveExport
	}
	if flags.Changed("read-only") {
		cfg.Export.ReadOnly = serveReadOnly
	}

	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// getConfigSource returns a description of where the config was loaded from
func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.ConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}

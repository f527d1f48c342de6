package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"SSHSpectra/internal/api"
	"SSHSpectra/internal/classifier"
	"SSHSpectra/internal/config"
	"SSHSpectra/internal/emit"
	"SSHSpectra/internal/engine/pipeline"
	"SSHSpectra/internal/ingest"
	"SSHSpectra/internal/logging"
)

const version = "1.0.0"

var cli = &cobra.Command{
	Use:          "ssh-classifier",
	Short:        "Classify SSH sessions from flow records",
	Long:         "Reads flow records with per-packet metadata and reports the authentication result, method, timing and traffic category of every SSH session.",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

var cliOptionVersion = &cobra.Command{
	Use:   "version",
	Short: "Print the version.",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ssh-classifier %s\n", version)
	},
}

func init() {
	cli.AddCommand(cliOptionVersion)

	flags := cli.Flags()

	flags.StringP("config", "c", "configs/config.yaml", "Path to the YAML configuration")
	viper.BindPFlag("config", flags.Lookup("config"))

	flags.Bool("stdout", false, "Also print results to stdout")
	viper.BindPFlag("stdout", flags.Lookup("stdout"))

	flags.Bool("debug", false, "Add per-packet sequences to the results and log flow attributes")
	viper.BindPFlag("debug", flags.Lookup("debug"))

	flags.String("mac-classifier-path", "", "Forest model used to predict MAC categories")
	viper.BindPFlag("mac_classifier_path", flags.Lookup("mac-classifier-path"))

	flags.Duration("recv-timeout", 10*time.Second, "Longest wait for one batch of flow records")
	viper.BindPFlag("recv_timeout", flags.Lookup("recv-timeout"))

	flags.Int("recv-messages", 10000, "Largest number of flow records per batch")
	viper.BindPFlag("recv_messages", flags.Lookup("recv-messages"))

	flags.Int("max-queue-size", 1, "Batches buffered between receiving and classifying")
	viper.BindPFlag("max_queue_size", flags.Lookup("max-queue-size"))

	flags.BoolP("verbose", "v", false, "Enable verbose")
	viper.BindPFlag("verbose", flags.Lookup("verbose"))
}

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the configuration file and applies the flags and
// SSHSPECTRA_* environment variables over it.
func loadConfig(v *viper.Viper) (*config.Config, error) {
	cfg, err := config.LoadConfig(v.GetString("config"))
	if err != nil {
		return nil, err
	}
	applyOverrides(cfg, v)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyOverrides(cfg *config.Config, v *viper.Viper) {
	if v.GetBool("stdout") {
		hasStdout := false
		for _, s := range cfg.Emit.Sinks {
			hasStdout = hasStdout || s.Type == "stdout"
		}
		if !hasStdout {
			cfg.Emit.Sinks = append(cfg.Emit.Sinks, config.SinkConfig{Type: "stdout"})
		}
	}
	if v.GetBool("debug") {
		cfg.Pipeline.Debug = true
	}
	if path := v.GetString("mac_classifier_path"); path != "" {
		cfg.Classifier.Type = "forest"
		cfg.Classifier.ModelPath = path
	}
	if v.IsSet("recv_timeout") {
		cfg.Ingest.RecvTimeout = v.GetDuration("recv_timeout")
	}
	if v.IsSet("recv_messages") {
		cfg.Ingest.BatchSize = v.GetInt("recv_messages")
	}
	if v.IsSet("max_queue_size") {
		cfg.Pipeline.QueueCapacity = v.GetInt("max_queue_size")
	}
	if v.GetBool("verbose") {
		cfg.Log.Level = "debug"
	}
}

func run(ctx context.Context) error {
	// SSHSPECTRA_RECV_TIMEOUT=30s
	viper.SetEnvPrefix("sshspectra")
	viper.AutomaticEnv()

	// 1. Load configuration
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	logger.Infof("Starting ssh-classifier %s...", version)

	// 2. Build the source, the classifier and the sinks
	source, err := ingest.New(cfg.Ingest, logger)
	if err != nil {
		return fmt.Errorf("failed to create flow source: %w", err)
	}
	defer source.Close()

	clf, closeClassifier, err := classifier.New(cfg.Classifier, logger)
	if err != nil {
		return fmt.Errorf("failed to create MAC classifier: %w", err)
	}
	defer closeClassifier()

	sinks, err := emit.New(cfg.Emit, emit.Options{Debug: cfg.Pipeline.Debug, Logger: logger})
	if err != nil {
		return fmt.Errorf("failed to create sinks: %w", err)
	}
	defer emit.CloseAll(sinks, logger)

	p := pipeline.New(cfg, source, clf, sinks, logger)

	// 3. Serve the status API
	var server *api.Server
	if cfg.API.ListenAddr != "" {
		server = api.NewServer(cfg.API.ListenAddr, p.Stats(), logger)
		server.Start()
	}

	// 4. Run until the stream ends or a shutdown signal arrives
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := p.Run(ctx)
	if runErr != nil {
		logger.WithError(runErr).Error("Pipeline stopped with an error")
	}

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("API server forced to shutdown")
		}
	}

	snap := p.Stats().Snapshot()
	logger.WithFields(log.Fields{
		"batches":    snap.Batches,
		"received":   snap.Received,
		"classified": snap.Classified,
		"emitted":    snap.Emitted,
	}).Info("Shutdown complete.")
	return runErr
}

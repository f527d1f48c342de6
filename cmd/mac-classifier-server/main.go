package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"SSHSpectra/internal/classifier"
	"SSHSpectra/internal/config"
	"SSHSpectra/internal/logging"
	"SSHSpectra/internal/model"
)

var (
	configFile string
	listenAddr string
	modelPath  string
)

var cli = &cobra.Command{
	Use:          "mac-classifier-server",
	Short:        "Serve MAC category predictions over gRPC",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func init() {
	flags := cli.Flags()
	flags.StringVarP(&configFile, "config", "c", "configs/config.yaml", "Path to the YAML configuration")
	flags.StringVar(&listenAddr, "listen", "", "Listen address, defaults to classifier.grpc.addr")
	flags.StringVar(&modelPath, "model", "", "Forest model, defaults to classifier.model_path")
}

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}

	clf, err := newClassifier(cfg.Classifier, modelPath, logger)
	if err != nil {
		return err
	}

	addr := listenAddr
	if addr == "" {
		addr = cfg.Classifier.GRPC.Addr
	}
	if addr == "" {
		return fmt.Errorf("no listen address, set --listen or classifier.grpc.addr")
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	s := grpc.NewServer()
	classifier.RegisterServer(s, clf)

	go func() {
		logger.Infof("MAC classifier gRPC server starting on %s", addr)
		if err := s.Serve(lis); err != nil {
			logger.WithError(err).Error("Failed to serve gRPC")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Server shutting down...")

	s.GracefulStop()
	return nil
}

// newClassifier loads the forest the server answers with, memoized when the
// cache is enabled.
func newClassifier(cfg config.ClassifierConfig, path string, logger log.FieldLogger) (model.MacClassifier, error) {
	if path == "" {
		path = cfg.ModelPath
	}
	if path == "" {
		return nil, fmt.Errorf("no model, set --model or classifier.model_path")
	}
	forest, err := classifier.LoadForest(path)
	if err != nil {
		return nil, err
	}
	logger.WithField("classes", len(forest.Classes())).Infof("Loaded forest model from %s", path)
	if cfg.Cache.Enabled {
		return classifier.NewCached(forest, cfg.Cache.Expiration, cfg.Cache.Cleanup), nil
	}
	return forest, nil
}

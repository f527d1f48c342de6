package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb"
	"github.com/vbauerster/mpb/decor"

	"SSHSpectra/internal/codec"
	"SSHSpectra/internal/config"
	"SSHSpectra/internal/ingest"
	"SSHSpectra/internal/logging"
	"SSHSpectra/internal/model"
	"SSHSpectra/pkg/pcap"
)

var (
	configFile string
	verbose    bool
)

var cli = &cobra.Command{
	Use:          "flow-probe",
	Short:        "Publish flow records from a capture and watch classification results",
	SilenceUsage: true,
}

var pubCmd = &cobra.Command{
	Use:   "pub <capture.pcap>",
	Short: "Assemble the flows of a capture and publish them to NATS",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		return runProbe(cfg, args[0], logger)
	},
}

var subCmd = &cobra.Command{
	Use:   "sub",
	Short: "Print the results published by the NATS sink",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		return runSubscriber(cmd.Context(), resultSubject(cfg), cfg.Ingest.NATS.URL, logger)
	},
}

func init() {
	cli.PersistentFlags().StringVarP(&configFile, "config", "c", "configs/config.yaml", "Path to the YAML configuration")
	cli.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose")
	cli.AddCommand(pubCmd, subCmd)
}

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}

func setup() (*config.Config, *log.Logger, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, nil, err
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

const defaultResultSubject = "sshspectra.results"

// resultSubject returns the subject of the first NATS sink.
func resultSubject(cfg *config.Config) string {
	for _, s := range cfg.Emit.Sinks {
		if s.Type == "nats" {
			return s.NATS.Subject
		}
	}
	return defaultResultSubject
}

// runProbe publishes every flow of a capture to the ingest subject.
func runProbe(cfg *config.Config, path string, logger log.FieldLogger) error {
	logger.Infof("Probe: reading flows from %s", path)

	reader, err := pcap.NewReader(path)
	if err != nil {
		return err
	}
	defer reader.Close()

	records, err := reader.ReadFlows(pcap.AssemblerConfig{
		Ports:        cfg.Ingest.PCAP.Ports,
		MaxPackets:   cfg.Ingest.PCAP.MaxPackets,
		ContentBytes: cfg.Ingest.PCAP.ContentBytes,
	})
	if err != nil {
		return fmt.Errorf("failed to read flows: %w", err)
	}

	pub, err := ingest.NewPublisher(cfg.Ingest.NATS, logger)
	if err != nil {
		return err
	}
	defer pub.Close()

	p := mpb.New(mpb.WithWidth(20), mpb.WithOutput(os.Stderr))
	bar := p.AddBar(int64(len(records)),
		mpb.PrependDecorators(
			decor.Name("[-] Publishing flows:", decor.WC{W: 24, C: decor.DidentRight}),
			decor.CountersNoUnit(" %d / %d ", decor.WCSyncWidth),
		),
		mpb.AppendDecorators(decor.Percentage()),
	)

	published := 0
	for _, rec := range records {
		start := time.Now()
		if err := pub.Publish(rec); err != nil {
			logger.WithError(err).WithField("flow", rec.String()).Warn("Probe: failed to publish flow")
		} else {
			published++
		}
		bar.IncrBy(1, time.Since(start))
	}
	p.Wait()
	logger.WithFields(log.Fields{
		"flows":     len(records),
		"published": published,
		"skipped":   reader.Skipped,
	}).Info("Probe: capture published")
	return nil
}

// runSubscriber prints results until interrupted.
func runSubscriber(ctx context.Context, subject, url string, logger log.FieldLogger) error {
	nc, err := nats.Connect(url)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()

	sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
		res, err := codec.DecodeResult(msg.Data)
		if err != nil {
			logger.WithError(err).Warn("Probe: failed to decode result")
			return
		}
		logger.WithFields(resultFields(res)).Info("Probe: result")
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	defer sub.Unsubscribe()
	logger.Infof("Probe: subscribed to '%s'. Waiting for messages...", subject)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	logger.Info("Probe: shutdown signal received, cleaning up...")
	return nil
}

func resultFields(res *model.Result) log.Fields {
	return log.Fields{
		"flow":    res.Flow.String(),
		"auth":    res.Auth.String(),
		"method":  res.Method.String(),
		"timing":  res.Timing.String(),
		"traffic": res.Traffic.String(),
	}
}

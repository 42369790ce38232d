package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/chriscow/empathic-go/internal/bridge"
	"github.com/chriscow/empathic-go/pkg/metrics"
	"github.com/chriscow/empathic-go/pkg/sink"
	"github.com/chriscow/empathic-go/pkg/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a session behind a local HTTP and websocket bridge",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := setupLogger()
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		warnProblems(cfg, logger)

		timeout, _ := cmd.Flags().GetDuration("connect-timeout")

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m := metrics.New(reg)

		pub := sink.New(sink.Config{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
			Metrics: m,
			Logger:  logger,
		})
		defer pub.Close()

		hub := bridge.NewHub(logger)
		sess, err := newSession(cmd, cfg, m, hub, logger)
		if err != nil {
			return err
		}

		srv, err := bridge.New(bridge.Config{
			Session:        sess,
			Hub:            hub,
			Gatherer:       reg,
			Tap:            pub.Listener(sess.ID()),
			ConnectTimeout: timeout,
			Logger:         logger,
		})
		if err != nil {
			return err
		}

		logger.Info("Starting bridge",
			slog.String("service", version.Name),
			slog.String("version", version.Version),
			slog.String("addr", cfg.BridgeAddr))

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		errc := make(chan error, 1)
		go func() { errc <- srv.Start(cfg.BridgeAddr) }()

		select {
		case err := <-errc:
			sess.Cleanup()
			return err
		case <-ctx.Done():
		}

		logger.Info("Bridge shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	addSessionFlags(serveCmd)
	serveCmd.Flags().String("addr", "127.0.0.1:8765", "Listen address")
	serveCmd.Flags().Duration("connect-timeout", bridge.DefaultConnectTimeout, "Connect timeout for session start requests")
	serveCmd.Flags().StringSlice("kafka-brokers", nil, "Kafka brokers for transcript publishing")
	serveCmd.Flags().String("kafka-topic", sink.DefaultTopic, "Kafka topic for transcripts")
}

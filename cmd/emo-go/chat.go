package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/chriscow/empathic-go/internal/config"
	"github.com/chriscow/empathic-go/pkg/embed"
	"github.com/chriscow/empathic-go/pkg/emotion"
	"github.com/chriscow/empathic-go/pkg/metrics"
	"github.com/chriscow/empathic-go/pkg/session"
	"github.com/chriscow/empathic-go/pkg/sink"
	"github.com/chriscow/empathic-go/pkg/version"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the voice service from a local audio source",
	Long: `chat opens a voice session, streams the selected input, plays replies, and
prints each speech turn as a JSON line. Lines typed on stdin are sent as
text messages.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := setupLogger()
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		warnProblems(cfg, logger)

		timeout, _ := cmd.Flags().GetDuration("connect-timeout")
		logger.Info("Starting chat",
			slog.String("service", version.Name),
			slog.String("version", version.Version),
			slog.String("config_id", cfg.ConfigID))

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		return runChat(ctx, cmd, cfg, timeout, logger)
	},
}

func runChat(ctx context.Context, cmd *cobra.Command, cfg config.Config, timeout time.Duration, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := metrics.New(prometheus.NewRegistry())
	pub := sink.New(sink.Config{
		Brokers: cfg.KafkaBrokers,
		Topic:   cfg.KafkaTopic,
		Metrics: m,
		Logger:  logger,
	})
	defer pub.Close()

	// A channel close that exhausted reconnects ends the chat.
	notifier := session.NotifierFunc(func(err error) {
		logger.Error("Session error", slog.String("error", err.Error()))
		var connErr *session.ConnectionError
		if errors.As(err, &connErr) {
			cancel()
		}
	})

	sess, err := newSession(cmd, cfg, m, notifier, logger)
	if err != nil {
		return err
	}

	out := &printer{enc: jsonStdout()}
	publish := pub.Listener(sess.ID())
	sess.SetTranscriptListener(func(text string) {
		logger.Debug("Transcript", slog.String("text", text))
	})
	sess.SetFrameListener(func(scores []emotion.Score) {
		out.print(map[string]any{"type": "frame", "emotions": emotion.Rank(scores, len(scores))})
	})

	host := embed.NewHost(embed.SessionFactory(sess, timeout), true, logger)
	host.OnMessage(func(turn session.Turn) {
		out.print(turn)
		publish(turn)
	})
	host.OnClose(cancel)

	if err := host.Mount(); err != nil {
		host.Unmount()
		return err
	}
	defer host.Unmount()

	go readLines(ctx, os.Stdin, func(line string) {
		if err := sess.SendText(ctx, line); err != nil {
			logger.Warn("Text not sent", slog.String("error", err.Error()))
		}
	})

	<-ctx.Done()
	logger.Info("Chat ended", slog.String("chat_group_id", sess.ChatGroupID()))
	return nil
}

func jsonStdout() *json.Encoder {
	return json.NewEncoder(os.Stdout)
}

// printer serializes JSON lines from concurrent listeners.
type printer struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func (p *printer) print(v any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enc.Encode(v); err != nil {
		slog.Default().Warn("Failed to print", slog.String("error", err.Error()))
	}
}

// readLines calls fn with each non-empty line of f until EOF or ctx ends.
func readLines(ctx context.Context, f *os.File, fn func(string)) {
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			fn(line)
		}
	}
}

func init() {
	addSessionFlags(chatCmd)
	chatCmd.Flags().Duration("connect-timeout", 15*time.Second, "Connect timeout")
	chatCmd.Flags().StringSlice("kafka-brokers", nil, "Kafka brokers for transcript publishing")
	chatCmd.Flags().String("kafka-topic", sink.DefaultTopic, "Kafka topic for transcripts")
}

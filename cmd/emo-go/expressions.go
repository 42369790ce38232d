package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chriscow/empathic-go/pkg/capture"
	"github.com/chriscow/empathic-go/pkg/emotion"
	"github.com/chriscow/empathic-go/pkg/expression"
)

var expressionsCmd = &cobra.Command{
	Use:   "expressions",
	Short: "Measure emotions in a directory of images or a changing text file",
	RunE: func(cmd *cobra.Command, args []string) error {
		framesDir, _ := cmd.Flags().GetString("frames")
		textFile, _ := cmd.Flags().GetString("text-file")
		interval, _ := cmd.Flags().GetDuration("interval")
		top, _ := cmd.Flags().GetInt("top")

		if (framesDir == "") == (textFile == "") {
			return errors.New("exactly one of --frames or --text-file is required")
		}

		logger := setupLogger()
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		stream := expression.New(expression.Config{
			APIKey:  cfg.APIKey,
			TopN:    top,
			Backoff: backoff(cfg),
			Logger:  logger,
		})
		out := &printer{enc: jsonStdout()}
		stream.SetListener(func(scores []emotion.Score) {
			out.print(emotion.Rank(scores, len(scores)))
		})

		if err := stream.Start(ctx); err != nil {
			return err
		}
		defer stream.Stop()

		if textFile != "" {
			logger.Info("Watching text", slog.String("file", textFile), slog.Duration("interval", interval))
			err := stream.Watch(ctx, fileText(textFile), interval)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		src := capture.NewSource(capture.NewStillDevice(framesDir), capture.Config{
			Video:         true,
			VideoInterval: interval,
			Logger:        logger,
		}, func(ctx context.Context, chunk capture.Chunk) {
			if chunk.Kind != capture.KindVideo {
				return
			}
			if err := stream.SendFrame(ctx, chunk.Data); err != nil {
				logger.Warn("Frame not sent", slog.String("error", err.Error()))
			}
		})
		if err := src.Start(ctx); err != nil {
			return err
		}
		defer src.Stop()

		logger.Info("Streaming frames", slog.String("dir", framesDir), slog.Duration("interval", interval))
		<-ctx.Done()
		return nil
	},
}

// fileText reads the whole file on each poll.
func fileText(path string) expression.TextSource {
	return func(ctx context.Context) (string, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(data)), nil
	}
}

func init() {
	expressionsCmd.Flags().String("frames", "", "Directory of images to analyze in turn")
	expressionsCmd.Flags().String("text-file", "", "Text file to analyze whenever it changes")
	expressionsCmd.Flags().Duration("interval", expression.DefaultWatchInterval, "Sampling interval")
	expressionsCmd.Flags().Int("top", expression.DefaultTopN, "Emotions reported per result")
}

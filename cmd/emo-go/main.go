package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/chriscow/empathic-go/internal/config"
	"github.com/chriscow/empathic-go/pkg/version"
)

var rootCmd = &cobra.Command{
	Use:   "emo-go",
	Short: "Stream voice conversations and emotion measurements",
	Long: `emo-go connects a local audio source to an empathic voice service, plays
the assistant's replies, and reports transcripts annotated with the
speaker's top emotions.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.GetVersionInfo())
	},
}

var (
	configFile string
	envFile    string
)

// flagKeys maps command-line flags onto settings keys.
var flagKeys = map[string]string{
	"config-id":          config.KeyConfigID,
	"chat-group":         config.KeyChatGroupID,
	"resume":             config.KeyResumeChats,
	"mute-while-playing": config.KeyMuteWhilePlaying,
	"max-reconnects":     config.KeyMaxReconnects,
	"kafka-brokers":      config.KeyKafkaBrokers,
	"kafka-topic":        config.KeyKafkaTopic,
	"addr":               config.KeyBridgeAddr,
}

func setupLogger() *slog.Logger {
	logFormat := os.Getenv("EMO_LOG_FORMAT")
	logLevel := os.Getenv("EMO_LOG_LEVEL")

	opts := &slog.HandlerOptions{}
	switch logLevel {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	// Stdout carries transcripts, so logs go to stderr.
	var handler slog.Handler
	if logFormat == "console" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// loadConfig resolves settings from changed flags, the environment and the
// settings file, in that order.
func loadConfig(cmd *cobra.Command) (config.Config, *config.FileStore, error) {
	if err := config.LoadDotEnv(envFile); err != nil {
		return config.Config{}, nil, err
	}

	file, err := config.OpenFileStore(configFile)
	if err != nil {
		return config.Config{}, nil, err
	}

	flags := config.MapStore{}
	cmd.Flags().Visit(func(f *pflag.Flag) {
		if key, ok := flagKeys[f.Name]; ok {
			value := f.Value.String()
			if sv, ok := f.Value.(pflag.SliceValue); ok {
				value = strings.Join(sv.GetSlice(), ",")
			}
			flags[key] = value
		}
	})

	cfg, err := config.Load(flags, config.NewEnvStore(config.EnvPrefix), file)
	if err != nil {
		return cfg, file, err
	}
	return cfg, file, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config-file", config.DefaultFilePath(), "Settings file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file loaded before reading settings")

	rootCmd.AddCommand(versionCmd, chatCmd, serveCmd, expressionsCmd, classifyCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

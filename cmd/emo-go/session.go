package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/chriscow/empathic-go/internal/config"
	"github.com/chriscow/empathic-go/pkg/capture"
	"github.com/chriscow/empathic-go/pkg/expression"
	"github.com/chriscow/empathic-go/pkg/metrics"
	"github.com/chriscow/empathic-go/pkg/playback"
	"github.com/chriscow/empathic-go/pkg/session"
	"github.com/chriscow/empathic-go/pkg/transport"
)

// addSessionFlags registers the flags shared by commands that run a session.
func addSessionFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("config-id", "", "Voice configuration ID")
	f.String("chat-group", "", "Chat group ID to resume")
	f.Bool("resume", true, "Keep the chat group across sessions")
	f.Bool("mute-while-playing", false, "Withhold microphone audio while the assistant speaks")
	f.Int("max-reconnects", 1, "Reconnect attempts after the channel drops (negative disables)")

	f.String("wav", "", "WAV file used as the microphone")
	f.Bool("loop", false, "Loop the WAV file")
	f.String("room-url", "", "LiveKit URL to take microphone audio from")
	f.String("room-token", "", "LiveKit access token")
	f.String("participant", "", "Only take audio from this participant identity")
	f.String("stills", "", "Directory of images used as the camera")

	f.String("player", "ffplay", "Audio output: ffplay or dir")
	f.String("out-dir", "replies", "Directory for the dir player")
	f.Bool("pace", true, "Pace the dir player at real time")
}

// buildDevice picks the input device from the flags. It returns nil when no
// input was requested.
func buildDevice(cmd *cobra.Command, logger *slog.Logger) (capture.Device, error) {
	wavPath, _ := cmd.Flags().GetString("wav")
	loop, _ := cmd.Flags().GetBool("loop")
	roomURL, _ := cmd.Flags().GetString("room-url")
	roomToken, _ := cmd.Flags().GetString("room-token")
	participant, _ := cmd.Flags().GetString("participant")
	stills, _ := cmd.Flags().GetString("stills")

	if wavPath != "" && roomURL != "" {
		return nil, errors.New("--wav and --room-url are mutually exclusive")
	}

	var audio capture.Device
	switch {
	case wavPath != "":
		audio = capture.NewWAVDevice(wavPath, loop)
	case roomURL != "":
		room, err := capture.NewRoomDevice(capture.RoomConfig{
			URL:         roomURL,
			Token:       roomToken,
			Participant: participant,
			Logger:      logger,
		})
		if err != nil {
			return nil, err
		}
		audio = room
	}

	switch {
	case stills == "":
		return audio, nil
	case audio == nil:
		return capture.NewStillDevice(stills), nil
	default:
		return capture.Compose(audio, capture.NewStillDevice(stills)), nil
	}
}

func buildPlayer(cmd *cobra.Command, logger *slog.Logger) (playback.Player, error) {
	kind, _ := cmd.Flags().GetString("player")
	switch kind {
	case "ffplay":
		return playback.NewFFPlayPlayer(logger), nil
	case "dir":
		dir, _ := cmd.Flags().GetString("out-dir")
		pace, _ := cmd.Flags().GetBool("pace")
		return playback.NewDirPlayer(dir, pace, logger)
	default:
		return nil, fmt.Errorf("unknown player %q", kind)
	}
}

func backoff(cfg config.Config) transport.Backoff {
	return transport.Backoff{Base: cfg.ReconnectBackoff, Max: 10 * cfg.ReconnectBackoff}
}

// newSession builds a session from resolved settings. Video frames are
// analyzed only when a stills directory was given.
func newSession(cmd *cobra.Command, cfg config.Config, m *metrics.Metrics, notifier session.Notifier, logger *slog.Logger) (*session.Session, error) {
	device, err := buildDevice(cmd, logger)
	if err != nil {
		return nil, err
	}
	player, err := buildPlayer(cmd, logger)
	if err != nil {
		return nil, err
	}

	var analyzer session.FrameAnalyzer
	if stills, _ := cmd.Flags().GetString("stills"); stills != "" {
		analyzer = expression.New(expression.Config{
			APIKey:  cfg.APIKey,
			Backoff: backoff(cfg),
			Logger:  logger,
		})
	}

	return session.New(session.Config{
		Dialer: transport.NewEVIDialer(transport.EVIDialerConfig{
			Credentials: transport.Credentials{APIKey: cfg.APIKey, SecretKey: cfg.SecretKey},
			Logger:      logger,
		}),
		Device:           device,
		Player:           player,
		ConfigID:         cfg.ConfigID,
		ChatGroupID:      cfg.ChatGroupID,
		Resume:           cfg.ResumeChats,
		AudioInterval:    cfg.AudioInterval,
		VideoInterval:    cfg.VideoInterval,
		DedupTTL:         cfg.DedupTTL,
		DedupBucket:      cfg.DedupBucket,
		MaxReconnects:    cfg.MaxReconnects,
		Backoff:          backoff(cfg),
		MuteWhilePlaying: cfg.MuteWhilePlaying,
		Analyzer:         analyzer,
		Notifier:         notifier,
		Metrics:          m,
		Logger:           logger,
	})
}

// warnProblems logs settings that will keep a session from working.
func warnProblems(cfg config.Config, logger *slog.Logger) {
	for _, p := range cfg.Problems() {
		logger.Warn("Configuration problem", slog.String("problem", p))
	}
}

func stderrf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format, args...)
}

package main

import (
	"bufio"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/chriscow/empathic-go/pkg/classify"
	"github.com/chriscow/empathic-go/pkg/session"
)

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Classify voice-channel messages read as JSON lines from stdin",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := setupLogger()
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		c := classify.New(classify.Config{
			DedupTTL:    cfg.DedupTTL,
			DedupBucket: cfg.DedupBucket,
			Logger:      logger,
		})
		out := &printer{enc: jsonStdout()}

		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			ev, err := c.Classify(line, time.Now())
			switch {
			case err != nil:
				out.print(map[string]any{"error": err.Error()})
			case ev == nil:
				out.print(map[string]any{"kind": "ignored"})
			default:
				out.print(describe(ev))
			}
		}
		return scanner.Err()
	},
}

// describe renders an event for display. Audio payloads are summarized.
func describe(ev classify.Event) map[string]any {
	out := map[string]any{"kind": ev.Kind().String()}
	switch e := ev.(type) {
	case classify.Metadata:
		out["chat_group_id"] = e.ChatGroupID
		out["chat_id"] = e.ChatID
	case classify.SpeechTurn:
		out["turn"] = session.NewTurn(e)
	case classify.AudioChunk:
		out["id"] = e.ID
		out["mime_type"] = e.MimeType
		out["bytes"] = len(e.Data)
	case classify.TransportError:
		out["code"] = e.Code
		out["message"] = e.Message
	}
	return out
}

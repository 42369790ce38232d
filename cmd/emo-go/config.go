package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chriscow/empathic-go/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and edit persisted settings",
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Resolve settings and report problems",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := jsonStdout().Encode(cfg.Redacted()); err != nil {
			return err
		}

		problems := cfg.Problems()
		for _, p := range problems {
			stderrf("problem: %s\n", p)
		}
		if cfg.APIKey == "" {
			return fmt.Errorf("%d problem(s) found", len(problems))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set KEY VALUE",
	Short: "Persist a setting, for example: config set configId abc",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if !knownKey(key) {
			return fmt.Errorf("unknown key %q (known: %s)", key, strings.Join(settingKeys, ", "))
		}

		file, err := config.OpenFileStore(configFile)
		if err != nil {
			return err
		}
		// Reject values Load would fail on.
		if _, err := config.Load(config.MapStore{key: value}); err != nil {
			return err
		}
		return file.Set(key, value)
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset KEY",
	Short: "Remove a persisted setting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, err := config.OpenFileStore(configFile)
		if err != nil {
			return err
		}
		return file.Delete(args[0])
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "List persisted settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		file, err := config.OpenFileStore(configFile)
		if err != nil {
			return err
		}
		for _, key := range file.Keys() {
			value, _ := file.Get(key)
			if key == config.KeyAPIKey || key == config.KeySecretKey {
				value = "(set)"
			}
			fmt.Printf("%s=%s\n", key, value)
		}
		return nil
	},
}

var settingKeys = []string{
	config.KeyAPIKey, config.KeySecretKey, config.KeyConfigID, config.KeyResumeChats,
	config.KeyChatGroupID, config.KeyAudioInterval, config.KeyVideoInterval,
	config.KeyDedupTTL, config.KeyDedupBucket, config.KeyMaxReconnects,
	config.KeyReconnectBackoff, config.KeyMuteWhilePlaying, config.KeyKafkaBrokers,
	config.KeyKafkaTopic, config.KeyBridgeAddr,
}

func knownKey(key string) bool {
	for _, k := range settingKeys {
		if k == key {
			return true
		}
	}
	return false
}

func init() {
	configCmd.AddCommand(configCheckCmd, configSetCmd, configUnsetCmd, configShowCmd)
}

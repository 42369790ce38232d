// Package config resolves settings from layered key-value stores.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Keys, as persisted by the settings store.
const (
	KeyAPIKey           = "apiKey"
	KeySecretKey        = "secretKey"
	KeyConfigID         = "configId"
	KeyResumeChats      = "resumeChats"
	KeyChatGroupID      = "chatGroupId"
	KeyAudioInterval    = "audioInterval"
	KeyVideoInterval    = "videoInterval"
	KeyDedupTTL         = "dedupTtl"
	KeyDedupBucket      = "dedupBucket"
	KeyMaxReconnects    = "maxReconnects"
	KeyReconnectBackoff = "reconnectBackoff"
	KeyMuteWhilePlaying = "muteWhilePlaying"
	KeyKafkaBrokers     = "kafkaBrokers"
	KeyKafkaTopic       = "kafkaTopic"
	KeyBridgeAddr       = "bridgeAddr"
)

// EnvPrefix namespaces environment variables.
const EnvPrefix = "HUME_"

// ErrInvalid marks a value that could not be parsed.
var ErrInvalid = errors.New("invalid setting")

// Config is the resolved application configuration.
type Config struct {
	APIKey      string
	SecretKey   string
	ConfigID    string
	ResumeChats bool
	ChatGroupID string

	AudioInterval    time.Duration
	VideoInterval    time.Duration
	DedupTTL         time.Duration
	DedupBucket      time.Duration
	MaxReconnects    int
	ReconnectBackoff time.Duration
	MuteWhilePlaying bool

	KafkaBrokers []string
	KafkaTopic   string
	BridgeAddr   string
}

// Defaults returns the configuration used when no store sets a key.
func Defaults() Config {
	return Config{
		ResumeChats:   true,
		AudioInterval: 100 * time.Millisecond,
		VideoInterval: 7500 * time.Millisecond,
		DedupTTL:      5 * time.Second,
		DedupBucket:   time.Millisecond,
		MaxReconnects: 1,
		KafkaTopic:    "emo.transcripts",
		BridgeAddr:    "127.0.0.1:8765",
	}
}

// Load resolves each key from the first store that has it, falling back to
// Defaults.
func Load(stores ...Store) (Config, error) {
	l := loader{stores: stores}
	cfg := Defaults()

	l.str(KeyAPIKey, &cfg.APIKey)
	l.str(KeySecretKey, &cfg.SecretKey)
	l.str(KeyConfigID, &cfg.ConfigID)
	l.boolean(KeyResumeChats, &cfg.ResumeChats)
	l.str(KeyChatGroupID, &cfg.ChatGroupID)

	l.duration(KeyAudioInterval, &cfg.AudioInterval)
	l.duration(KeyVideoInterval, &cfg.VideoInterval)
	l.duration(KeyDedupTTL, &cfg.DedupTTL)
	l.duration(KeyDedupBucket, &cfg.DedupBucket)
	l.integer(KeyMaxReconnects, &cfg.MaxReconnects)
	l.duration(KeyReconnectBackoff, &cfg.ReconnectBackoff)
	l.boolean(KeyMuteWhilePlaying, &cfg.MuteWhilePlaying)

	var brokers string
	l.str(KeyKafkaBrokers, &brokers)
	cfg.KafkaBrokers = splitList(brokers)
	l.str(KeyKafkaTopic, &cfg.KafkaTopic)
	l.str(KeyBridgeAddr, &cfg.BridgeAddr)

	if len(l.errs) > 0 {
		return cfg, errors.Join(l.errs...)
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	var errs []error
	for name, d := range map[string]time.Duration{
		KeyAudioInterval: c.AudioInterval,
		KeyVideoInterval: c.VideoInterval,
		KeyDedupTTL:      c.DedupTTL,
		KeyDedupBucket:   c.DedupBucket,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%w: %s must be positive", ErrInvalid, name))
		}
	}
	if c.ReconnectBackoff < 0 {
		errs = append(errs, fmt.Errorf("%w: %s must not be negative", ErrInvalid, KeyReconnectBackoff))
	}
	return errors.Join(errs...)
}

// Problems lists settings that will prevent a session from working.
func (c Config) Problems() []string {
	var problems []string
	if c.APIKey == "" {
		problems = append(problems, "API key not set ("+EnvName(EnvPrefix, KeyAPIKey)+")")
	}
	if c.ConfigID == "" {
		problems = append(problems, "config ID not set; the service default voice configuration will be used")
	}
	return problems
}

// Redacted returns a printable copy with secrets masked.
func (c Config) Redacted() Config {
	c.APIKey = mask(c.APIKey)
	c.SecretKey = mask(c.SecretKey)
	return c
}

func mask(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-4)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

type loader struct {
	stores []Store
	errs   []error
}

func (l *loader) lookup(key string) (string, bool) {
	for _, s := range l.stores {
		if s == nil {
			continue
		}
		if v, ok := s.Get(key); ok {
			return v, true
		}
	}
	return "", false
}

func (l *loader) str(key string, dst *string) {
	if v, ok := l.lookup(key); ok {
		*dst = v
	}
}

func (l *loader) boolean(key string, dst *bool) {
	v, ok := l.lookup(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%w: %s=%q", ErrInvalid, key, v))
		return
	}
	*dst = b
}

func (l *loader) integer(key string, dst *int) {
	v, ok := l.lookup(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%w: %s=%q", ErrInvalid, key, v))
		return
	}
	*dst = n
}

func (l *loader) duration(key string, dst *time.Duration) {
	v, ok := l.lookup(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%w: %s=%q", ErrInvalid, key, v))
		return
	}
	*dst = d
}

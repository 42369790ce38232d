package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	DefaultChatURL  = "wss://api.hume.ai/v0/evi/chat"
	DefaultTokenURL = "https://api.hume.ai/oauth2-cc/token"
)

// ErrMissingCredentials is returned when no API key is configured.
var ErrMissingCredentials = errors.New("missing API key")

// Credentials authenticate against the voice service. With a secret key the
// pair is exchanged for a short-lived access token; otherwise the API key is
// sent directly.
type Credentials struct {
	APIKey    string
	SecretKey string
}

// Request parameterizes one chat connection.
type Request struct {
	ConfigID           string
	ResumedChatGroupID string
}

// Dialer opens chat channels.
type Dialer interface {
	Dial(ctx context.Context, req Request) (Channel, error)
}

// EVIDialerConfig configures an EVIDialer.
type EVIDialerConfig struct {
	Credentials Credentials
	ChatURL     string
	TokenURL    string
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

// EVIDialer dials the empathic voice chat endpoint.
type EVIDialer struct {
	cfg    EVIDialerConfig
	logger *slog.Logger

	mu     sync.Mutex
	tokens oauth2.TokenSource
}

// NewEVIDialer creates a dialer. Credentials are checked at dial time.
func NewEVIDialer(cfg EVIDialerConfig) *EVIDialer {
	if cfg.ChatURL == "" {
		cfg.ChatURL = DefaultChatURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &EVIDialer{cfg: cfg, logger: cfg.Logger}
}

func (d *EVIDialer) Dial(ctx context.Context, req Request) (Channel, error) {
	if d.cfg.Credentials.APIKey == "" {
		return nil, ErrMissingCredentials
	}

	u, err := url.Parse(d.cfg.ChatURL)
	if err != nil {
		return nil, fmt.Errorf("invalid chat URL: %w", err)
	}

	q := u.Query()
	if req.ConfigID != "" {
		q.Set("config_id", req.ConfigID)
	}
	if req.ResumedChatGroupID != "" {
		q.Set("resumed_chat_group_id", req.ResumedChatGroupID)
	}

	if d.cfg.Credentials.SecretKey != "" {
		token, err := d.token(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch access token: %w", err)
		}
		q.Set("access_token", token)
	} else {
		q.Set("api_key", d.cfg.Credentials.APIKey)
	}
	u.RawQuery = q.Encode()

	d.logger.Info("Dialing chat",
		slog.String("config_id", req.ConfigID),
		slog.String("resumed_chat_group_id", req.ResumedChatGroupID))

	return DialURL(ctx, u.String(), d.logger)
}

// token returns a cached access token, exchanging credentials when the
// cached one has expired.
func (d *EVIDialer) token(ctx context.Context) (string, error) {
	d.mu.Lock()
	if d.tokens == nil {
		cc := &clientcredentials.Config{
			ClientID:     d.cfg.Credentials.APIKey,
			ClientSecret: d.cfg.Credentials.SecretKey,
			TokenURL:     d.cfg.TokenURL,
			AuthStyle:    oauth2.AuthStyleInHeader,
		}
		tokenCtx := context.Background()
		if d.cfg.HTTPClient != nil {
			tokenCtx = context.WithValue(tokenCtx, oauth2.HTTPClient, d.cfg.HTTPClient)
		}
		d.tokens = cc.TokenSource(tokenCtx)
	}
	tokens := d.tokens
	d.mu.Unlock()

	type result struct {
		tok *oauth2.Token
		err error
	}
	done := make(chan result, 1)
	go func() {
		tok, err := tokens.Token()
		done <- result{tok, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return "", r.err
		}
		return r.tok.AccessToken, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

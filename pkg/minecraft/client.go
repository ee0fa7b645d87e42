package minecraft

import (
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/telekom/mcauth/pkg/system"
	"github.com/telekom/mcauth/pkg/transport"
)

const DefaultBaseURL = "https://api.minecraftservices.com"

const (
	loginPath        = "/authentication/login_with_xbox"
	profilePath      = "/minecraft/profile"
	entitlementsPath = "/entitlements/mcstore"
)

// Config holds the game services base URL. Empty uses DefaultBaseURL.
type Config struct {
	BaseURL string
}

// Client talks to the game services API.
type Client struct {
	baseURL   string
	transport *transport.Client
	log       *zap.SugaredLogger
	now       func() time.Time
}

// NewClient returns a game services client sending requests through tc.
func NewClient(cfg Config, tc *transport.Client, log *zap.SugaredLogger) (*Client, error) {
	if tc == nil {
		return nil, errors.New("transport is required")
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	return &Client{baseURL: base, transport: tc, log: system.OrNop(log), now: time.Now}, nil
}

func (c *Client) url(path string) string {
	return c.baseURL + path
}

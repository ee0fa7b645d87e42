package msa

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/telekom/mcauth/pkg/system"
	"github.com/telekom/mcauth/pkg/transport"
)

const (
	DefaultDeviceAuthURL = "https://login.microsoftonline.com/consumers/oauth2/v2.0/devicecode"
	DefaultTokenURL      = "https://login.microsoftonline.com/consumers/oauth2/v2.0/token"

	deviceCodeGrantType = "urn:ietf:params:oauth:grant-type:device_code"
)

// DefaultScopes grant Xbox Live sign-in plus a refresh token.
var DefaultScopes = []string{"XboxLive.signin", "offline_access"}

// Config selects the application and the Microsoft identity endpoints.
// Empty URLs and scopes fall back to the consumer-tenant defaults.
type Config struct {
	ClientID      string
	Scopes        []string
	DeviceAuthURL string
	TokenURL      string
}

// Client implements the device-code flow and the refresh-token grant.
type Client struct {
	oauth     oauth2.Config
	transport *transport.Client
	log       *zap.SugaredLogger
	now       func() time.Time
}

// NewClient builds a device-code and refresh client. ClientID is required.
func NewClient(cfg Config, tc *transport.Client, log *zap.SugaredLogger) (*Client, error) {
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, errors.New("client-id is required")
	}
	if tc == nil {
		return nil, errors.New("transport is required")
	}
	if cfg.DeviceAuthURL == "" {
		cfg.DeviceAuthURL = DefaultDeviceAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	return &Client{
		oauth: oauth2.Config{
			ClientID: cfg.ClientID,
			Scopes:   scopes,
			Endpoint: oauth2.Endpoint{
				DeviceAuthURL: cfg.DeviceAuthURL,
				TokenURL:      cfg.TokenURL,
				AuthStyle:     oauth2.AuthStyleInParams,
			},
		},
		transport: tc,
		log:       system.OrNop(log),
		now:       time.Now,
	}, nil
}

// oauthContext routes golang.org/x/oauth2 requests through our transport.
func (c *Client) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.transport.HTTPClient())
}

// isTransportError reports failures below HTTP: dial, TLS, reset, timeouts.
func isTransportError(err error) bool {
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

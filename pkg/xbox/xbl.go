package xbox

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/telekom/mcauth/pkg/autherr"
	"github.com/telekom/mcauth/pkg/metrics"
	"github.com/telekom/mcauth/pkg/system"
	"github.com/telekom/mcauth/pkg/transport"
)

// Config holds the Xbox Live endpoints. Empty fields use the defaults.
type Config struct {
	UserAuthURL string
	XSTSURL     string
	// TicketPrefix is prepended to the Microsoft access token in RpsTicket.
	TicketPrefix string
}

// Client performs the XBL and XSTS exchanges.
type Client struct {
	cfg       Config
	transport *transport.Client
	log       *zap.SugaredLogger
}

// NewClient returns an XBL and XSTS client sending requests through tc.
func NewClient(cfg Config, tc *transport.Client, log *zap.SugaredLogger) (*Client, error) {
	if tc == nil {
		return nil, errors.New("transport is required")
	}
	if cfg.UserAuthURL == "" {
		cfg.UserAuthURL = DefaultUserAuthURL
	}
	if cfg.XSTSURL == "" {
		cfg.XSTSURL = DefaultXSTSURL
	}
	if cfg.TicketPrefix == "" {
		cfg.TicketPrefix = DefaultTicketPrefix
	}
	return &Client{cfg: cfg, transport: tc, log: system.OrNop(log)}, nil
}

type userAuthRequest struct {
	Properties struct {
		AuthMethod string `json:"AuthMethod"`
		SiteName   string `json:"SiteName"`
		RpsTicket  string `json:"RpsTicket"`
	} `json:"Properties"`
	RelyingParty string `json:"RelyingParty"`
	TokenType    string `json:"TokenType"`
}

func (c *Client) userAuthPayload(accessToken string) userAuthRequest {
	var body userAuthRequest
	body.Properties.AuthMethod = "RPS"
	body.Properties.SiteName = xblSiteName
	body.Properties.RpsTicket = c.cfg.TicketPrefix + accessToken
	body.RelyingParty = xblRelyingParty
	body.TokenType = "JWT"
	return body
}

// Authenticate exchanges a Microsoft access token for an Xbox Live user token.
func (c *Client) Authenticate(ctx context.Context, accessToken string) (token *FederatedToken, err error) {
	const op = "xbl.authenticate"
	start := time.Now()
	defer func() { metrics.ObserveHop(metrics.HopXBL, metrics.Outcome(err), start) }()

	if accessToken == "" {
		return nil, autherr.Protocol(op, "", errors.New("access token is empty"))
	}
	resp, err := c.transport.Do(ctx, transport.Request{
		Op:     op,
		Method: http.MethodPost,
		URL:    c.cfg.UserAuthURL,
		Header: http.Header{contractVersionHeader: {"1"}},
		JSON:   c.userAuthPayload(accessToken),
	})
	if err != nil {
		return nil, err
	}

	switch {
	case resp.OK():
		var payload tokenResponse
		if err := resp.DecodeJSON(op, &payload); err != nil {
			return nil, err
		}
		token, err := payload.federated(xblRelyingParty)
		if err != nil {
			return nil, autherr.Protocol(op, string(resp.Body), err)
		}
		return token, nil
	case transport.IsServerError(resp.StatusCode):
		return nil, &autherr.Error{Kind: autherr.KindNetwork, Op: op, StatusCode: resp.StatusCode, Raw: string(resp.Body)}
	case resp.StatusCode == http.StatusBadRequest:
		// Xbox answers a malformed RpsTicket with a bare 400.
		return nil, &autherr.Error{Kind: autherr.KindProtocol, Op: op, StatusCode: resp.StatusCode, Raw: rawText(resp)}
	default:
		rejected := &autherr.Error{Kind: autherr.KindXblRejected, Op: op, StatusCode: resp.StatusCode, Raw: rawText(resp)}
		var body errorResponse
		if json.Unmarshal(resp.Body, &body) == nil {
			rejected.XErr = body.XErr
		}
		c.log.Warnw("Xbox Live rejected user authentication", "status", resp.StatusCode, "xerr", rejected.XErr)
		return nil, rejected
	}
}

// rawText is the provider's diagnostic text, or the status line when the body is empty.
func rawText(resp *transport.Response) string {
	if text := strings.TrimSpace(string(resp.Body)); text != "" {
		return text
	}
	return http.StatusText(resp.StatusCode)
}

package msa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"github.com/telekom/mcauth/pkg/autherr"
	"github.com/telekom/mcauth/pkg/metrics"
	"github.com/telekom/mcauth/pkg/transport"
)

// PollStatus is the outcome of a single token poll.
type PollStatus int

const (
	PollPending PollStatus = iota
	PollSlowDown
	PollAuthorized
	PollExpired
	PollDenied
)

func (s PollStatus) String() string {
	switch s {
	case PollPending:
		return "pending"
	case PollSlowDown:
		return "slow_down"
	case PollAuthorized:
		return "authorized"
	case PollExpired:
		return "expired"
	case PollDenied:
		return "denied"
	default:
		return "unknown"
	}
}

type PollResult struct {
	Status PollStatus
	// Tokens is set only for PollAuthorized.
	Tokens *TokenSet
	// SuggestedInterval is a server-provided interval that accompanied slow_down.
	SuggestedInterval time.Duration
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	Scope        string `json:"scope,omitempty"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
	Interval     int    `json:"interval,omitempty"`
	Error        string `json:"error,omitempty"`
	ErrorDesc    string `json:"error_description,omitempty"`
}

// StartDeviceFlow requests a device code and user code.
func (c *Client) StartDeviceFlow(ctx context.Context) (session *DeviceCodeSession, err error) {
	const op = "msa.device_code"
	start := time.Now()
	defer func() { metrics.ObserveHop(metrics.HopDeviceCode, metrics.Outcome(err), start) }()

	resp, err := c.oauth.DeviceAuth(c.oauthContext(ctx))
	if err != nil {
		return nil, classifyOAuthError(ctx, op, err, autherr.KindProtocol)
	}
	if resp.DeviceCode == "" || resp.UserCode == "" || resp.VerificationURI == "" {
		raw, _ := json.Marshal(resp)
		return nil, autherr.Protocol(op, string(raw), errors.New("device authorization response is missing required fields"))
	}

	interval := time.Duration(resp.Interval) * time.Second
	if interval <= 0 {
		interval = defaultPollInterval
	}
	expiresAt := resp.Expiry
	if expiresAt.IsZero() {
		expiresAt = c.now().Add(15 * time.Minute)
	}
	c.log.Debugw("Device code issued", "userCode", resp.UserCode, "interval", interval, "expiresAt", expiresAt)
	return &DeviceCodeSession{
		DeviceCode:              resp.DeviceCode,
		UserCode:                resp.UserCode,
		VerificationURL:         resp.VerificationURI,
		VerificationURLComplete: resp.VerificationURIComplete,
		Interval:                interval,
		ExpiresAt:               expiresAt,
	}, nil
}

// PollOnce asks the token endpoint once whether the user has finished
// signing in. It never sleeps; pacing is the caller's job.
func (c *Client) PollOnce(ctx context.Context, session *DeviceCodeSession) (result PollResult, err error) {
	const op = "msa.poll"
	if session == nil {
		return PollResult{}, errors.New("device session is nil")
	}
	defer func() {
		if err == nil {
			metrics.DevicePolls.WithLabelValues(result.Status.String()).Inc()
		} else {
			metrics.DevicePolls.WithLabelValues(metrics.Outcome(err)).Inc()
		}
	}()
	if session.Expired(c.now()) {
		return PollResult{Status: PollExpired}, nil
	}

	resp, err := c.transport.Do(ctx, transport.Request{
		Op:     op,
		Method: http.MethodPost,
		URL:    c.oauth.Endpoint.TokenURL,
		Form: url.Values{
			"grant_type":  {deviceCodeGrantType},
			"client_id":   {c.oauth.ClientID},
			"device_code": {session.DeviceCode},
		},
	})
	if err != nil {
		return PollResult{}, err
	}

	var payload tokenResponse
	decodeErr := json.Unmarshal(resp.Body, &payload)
	if decodeErr != nil {
		if transport.IsServerError(resp.StatusCode) {
			return PollResult{}, &autherr.Error{Kind: autherr.KindNetwork, Op: op, StatusCode: resp.StatusCode, Raw: string(resp.Body)}
		}
		return PollResult{}, &autherr.Error{Kind: autherr.KindProtocol, Op: op, StatusCode: resp.StatusCode, Raw: string(resp.Body), Err: decodeErr}
	}

	// An error code in the body decides the outcome whatever the status says.
	if payload.Error != "" {
		switch payload.Error {
		case "authorization_pending":
			return PollResult{Status: PollPending}, nil
		case "slow_down":
			return PollResult{Status: PollSlowDown, SuggestedInterval: time.Duration(payload.Interval) * time.Second}, nil
		case "expired_token", "code_expired":
			return PollResult{Status: PollExpired}, nil
		case "authorization_declined", "access_denied":
			return PollResult{Status: PollDenied}, nil
		default:
			if transport.IsServerError(resp.StatusCode) {
				return PollResult{}, &autherr.Error{Kind: autherr.KindNetwork, Op: op, StatusCode: resp.StatusCode, Raw: string(resp.Body)}
			}
			return PollResult{}, &autherr.Error{
				Kind:       autherr.KindProtocol,
				Op:         op,
				StatusCode: resp.StatusCode,
				Raw:        string(resp.Body),
				Err:        fmt.Errorf("device token error: %s", payload.Error),
			}
		}
	}

	if !resp.OK() {
		if transport.IsServerError(resp.StatusCode) {
			return PollResult{}, &autherr.Error{Kind: autherr.KindNetwork, Op: op, StatusCode: resp.StatusCode, Raw: string(resp.Body)}
		}
		return PollResult{}, &autherr.Error{Kind: autherr.KindProtocol, Op: op, StatusCode: resp.StatusCode, Raw: string(resp.Body)}
	}
	if payload.AccessToken == "" || payload.RefreshToken == "" {
		return PollResult{}, autherr.Protocol(op, string(resp.Body), errors.New("token response is missing access or refresh token"))
	}

	tokens := &TokenSet{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
		IDToken:      payload.IDToken,
		TokenType:    payload.TokenType,
		Scope:        payload.Scope,
	}
	if payload.ExpiresIn > 0 {
		tokens.Expiry = c.now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	}
	return PollResult{Status: PollAuthorized, Tokens: tokens}, nil
}

// classifyOAuthError maps golang.org/x/oauth2 failures to the taxonomy.
// rejected is the kind used when the endpoint answered with a 4xx.
func classifyOAuthError(ctx context.Context, op string, err error, rejected autherr.Kind) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		kind := rejected
		if transport.IsServerError(status) {
			kind = autherr.KindNetwork
		}
		return &autherr.Error{Kind: kind, Op: op, StatusCode: status, Raw: string(re.Body), Err: err}
	}
	if isTransportError(err) {
		return autherr.Network(op, err)
	}
	return autherr.Protocol(op, "", err)
}

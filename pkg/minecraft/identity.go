package minecraft

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/telekom/mcauth/pkg/autherr"
	"github.com/telekom/mcauth/pkg/metrics"
	"github.com/telekom/mcauth/pkg/transport"
	"github.com/telekom/mcauth/pkg/xbox"
)

// Bearer is the game-services access token.
type Bearer struct {
	Token string
	// Username is the services-side account id, not the player name.
	Username  string
	ExpiresAt time.Time
}

type loginRequest struct {
	IdentityToken string `json:"identityToken"`
}

type loginResponse struct {
	Username    string `json:"username"`
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// IdentityToken renders the XBL3.0 header the login endpoint expects.
func IdentityToken(xsts *xbox.FederatedToken) string {
	return "XBL3.0 x=" + xsts.UserHash + ";" + xsts.Token
}

// ExchangeIdentity trades an XSTS token for a game-services bearer.
func (c *Client) ExchangeIdentity(ctx context.Context, xsts *xbox.FederatedToken) (bearer *Bearer, err error) {
	const op = "minecraft.login"
	start := time.Now()
	defer func() { metrics.ObserveHop(metrics.HopIdentity, metrics.Outcome(err), start) }()

	if xsts == nil || xsts.Token == "" || xsts.UserHash == "" {
		return nil, autherr.Protocol(op, "", errors.New("xsts token or user hash is empty"))
	}
	resp, err := c.transport.Do(ctx, transport.Request{
		Op:     op,
		Method: http.MethodPost,
		URL:    c.url(loginPath),
		JSON:   loginRequest{IdentityToken: IdentityToken(xsts)},
	})
	if err != nil {
		return nil, err
	}

	switch {
	case resp.OK():
		var payload loginResponse
		if err := resp.DecodeJSON(op, &payload); err != nil {
			return nil, err
		}
		if payload.AccessToken == "" {
			return nil, autherr.Protocol(op, string(resp.Body), errors.New("response is missing access_token"))
		}
		bearer := &Bearer{Token: payload.AccessToken, Username: payload.Username}
		if payload.ExpiresIn > 0 {
			bearer.ExpiresAt = c.now().Add(time.Duration(payload.ExpiresIn) * time.Second)
		}
		return bearer, nil
	case transport.IsServerError(resp.StatusCode):
		return nil, &autherr.Error{Kind: autherr.KindNetwork, Op: op, StatusCode: resp.StatusCode, Raw: string(resp.Body)}
	default:
		herr := resp.HTTPError()
		c.log.Warnw("Game services refused identity token", "status", resp.StatusCode, "message", herr.Message)
		return nil, &autherr.Error{Kind: autherr.KindMinecraftAuthFailed, Op: op, StatusCode: resp.StatusCode, Raw: herr.Message}
	}
}

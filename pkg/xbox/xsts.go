package xbox

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/telekom/mcauth/pkg/autherr"
	"github.com/telekom/mcauth/pkg/metrics"
	"github.com/telekom/mcauth/pkg/transport"
)

// Known XErr codes returned by XSTS. The list follows the codes Xbox documents
// for consumer sign-in; anything else surfaces as XstsUnknownError.
const (
	XErrNoXboxAccount     uint32 = 2148916233
	XErrRegionBlocked     uint32 = 2148916235
	XErrAdultVerification uint32 = 2148916236
	XErrAgeVerification   uint32 = 2148916237
	XErrChildAccount      uint32 = 2148916238
)

var xerrReasons = map[uint32]autherr.XstsReason{
	XErrNoXboxAccount:     autherr.NoXboxAccount,
	XErrRegionBlocked:     autherr.RegionBlocked,
	XErrAdultVerification: autherr.AgeVerificationRequired,
	XErrAgeVerification:   autherr.AgeVerificationRequired,
	XErrChildAccount:      autherr.ChildAccountRestricted,
}

// ReasonForXErr maps an XErr code to its outcome. Unmapped codes yield
// XstsUnknownError; the caller keeps the raw code.
func ReasonForXErr(code uint32) autherr.XstsReason {
	if reason, ok := xerrReasons[code]; ok {
		return reason
	}
	return autherr.XstsUnknownError
}

type xstsRequest struct {
	Properties struct {
		SandboxID  string   `json:"SandboxId"`
		UserTokens []string `json:"UserTokens"`
	} `json:"Properties"`
	RelyingParty string `json:"RelyingParty"`
	TokenType    string `json:"TokenType"`
}

// Authorize exchanges an XBL user token for an XSTS token scoped to the game
// services relying party.
func (c *Client) Authorize(ctx context.Context, xbl *FederatedToken) (token *FederatedToken, err error) {
	const op = "xsts.authorize"
	start := time.Now()
	defer func() { metrics.ObserveHop(metrics.HopXSTS, metrics.Outcome(err), start) }()

	if xbl == nil || xbl.Token == "" {
		return nil, autherr.Protocol(op, "", errors.New("xbl token is empty"))
	}
	var body xstsRequest
	body.Properties.SandboxID = "RETAIL"
	body.Properties.UserTokens = []string{xbl.Token}
	body.RelyingParty = MinecraftRelyingParty
	body.TokenType = "JWT"

	resp, err := c.transport.Do(ctx, transport.Request{
		Op:     op,
		Method: http.MethodPost,
		URL:    c.cfg.XSTSURL,
		Header: http.Header{contractVersionHeader: {"1"}},
		JSON:   body,
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
		token, err := payload.federated(MinecraftRelyingParty)
		if err != nil {
			return nil, autherr.Protocol(op, string(resp.Body), err)
		}
		return token, nil
	case transport.IsServerError(resp.StatusCode):
		return nil, &autherr.Error{Kind: autherr.KindNetwork, Op: op, StatusCode: resp.StatusCode, Raw: string(resp.Body)}
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, c.rejection(op, resp)
	default:
		return nil, &autherr.Error{Kind: autherr.KindProtocol, Op: op, StatusCode: resp.StatusCode, Raw: rawText(resp)}
	}
}

func (c *Client) rejection(op string, resp *transport.Response) error {
	var body errorResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil || body.XErr == 0 {
		return &autherr.Error{
			Kind:       autherr.KindProtocol,
			Op:         op,
			StatusCode: resp.StatusCode,
			Raw:        rawText(resp),
			Err:        errors.New("xsts rejection without XErr code"),
		}
	}
	reason := ReasonForXErr(body.XErr)
	c.log.Warnw("XSTS rejected authorization", "xerr", body.XErr, "reason", reason, "redirect", body.Redirect)
	return &autherr.Error{
		Kind:       autherr.KindXstsRejected,
		Op:         op,
		Reason:     reason,
		XErr:       body.XErr,
		StatusCode: resp.StatusCode,
		Raw:        string(resp.Body),
	}
}

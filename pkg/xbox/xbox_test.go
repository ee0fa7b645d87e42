package xbox

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telekom/mcauth/pkg/autherr"
	"github.com/telekom/mcauth/pkg/system"
	"github.com/telekom/mcauth/pkg/transport"
)

func newTestClient(t *testing.T, server *httptest.Server, prefix string) *Client {
	t.Helper()
	tc, err := transport.New(transport.WithHTTPClient(server.Client()))
	require.NoError(t, err)
	c, err := NewClient(Config{
		UserAuthURL:  server.URL + "/user/authenticate",
		XSTSURL:      server.URL + "/xsts/authorize",
		TicketPrefix: prefix,
	}, tc, system.NewTestLogger())
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func tokenBody(token, uhs string) map[string]any {
	return map[string]any{
		"IssueInstant": "2026-10-14T10:00:00.0000000Z",
		"NotAfter":     "2026-10-28T10:00:00.0000000Z",
		"Token":        token,
		"DisplayClaims": map[string]any{
			"xui": []map[string]string{{"uhs": uhs}},
		},
	}
}

func TestNewClientDefaults(t *testing.T) {
	tc, err := transport.New()
	require.NoError(t, err)
	c, err := NewClient(Config{}, tc, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultUserAuthURL, c.cfg.UserAuthURL)
	assert.Equal(t, DefaultXSTSURL, c.cfg.XSTSURL)
	assert.Equal(t, DefaultTicketPrefix, c.cfg.TicketPrefix)

	_, err = NewClient(Config{}, nil, nil)
	require.Error(t, err)
}

func TestAuthenticateSendsPrefixedTicket(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/user/authenticate", r.URL.Path)
		require.Equal(t, "1", r.Header.Get("x-xbl-contract-version"))
		var body userAuthRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "RPS", body.Properties.AuthMethod)
		assert.Equal(t, "user.auth.xboxlive.com", body.Properties.SiteName)
		assert.Equal(t, "d=msa-token", body.Properties.RpsTicket)
		assert.Equal(t, "http://auth.xboxlive.com", body.RelyingParty)
		assert.Equal(t, "JWT", body.TokenType)
		writeJSON(w, http.StatusOK, tokenBody("xbl-token", "uhs-1"))
	}))
	defer server.Close()

	token, err := newTestClient(t, server, "").Authenticate(context.Background(), "msa-token")
	require.NoError(t, err)
	assert.Equal(t, "xbl-token", token.Token)
	assert.Equal(t, "uhs-1", token.UserHash)
	assert.Equal(t, 2026, token.NotAfter.Year())
}

func TestAuthenticateFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   any
		kind   autherr.Kind
	}{
		{name: "bad request", status: http.StatusBadRequest, kind: autherr.KindProtocol},
		{name: "unauthorized", status: http.StatusUnauthorized, body: map[string]any{"XErr": 2148916233}, kind: autherr.KindXblRejected},
		{name: "forbidden", status: http.StatusForbidden, kind: autherr.KindXblRejected},
		{name: "server error", status: http.StatusBadGateway, kind: autherr.KindNetwork},
		{name: "throttled", status: http.StatusTooManyRequests, kind: autherr.KindNetwork},
		{name: "missing uhs", status: http.StatusOK, body: map[string]any{"Token": "x"}, kind: autherr.KindProtocol},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.body == nil {
					w.WriteHeader(tt.status)
					return
				}
				writeJSON(w, tt.status, tt.body)
			}))
			defer server.Close()

			_, err := newTestClient(t, server, "").Authenticate(context.Background(), "msa-token")
			require.Error(t, err)
			assert.Equal(t, tt.kind, autherr.KindOf(err))
		})
	}
}

func TestAuthenticateRejectsEmptyToken(t *testing.T) {
	tc, err := transport.New()
	require.NoError(t, err)
	c, err := NewClient(Config{}, tc, nil)
	require.NoError(t, err)
	_, err = c.Authenticate(context.Background(), "")
	assert.True(t, errors.Is(err, autherr.ErrProtocol))
}

func TestAuthorizeSendsXBLToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/xsts/authorize", r.URL.Path)
		var body xstsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "RETAIL", body.Properties.SandboxID)
		assert.Equal(t, []string{"xbl-token"}, body.Properties.UserTokens)
		assert.Equal(t, MinecraftRelyingParty, body.RelyingParty)
		writeJSON(w, http.StatusOK, tokenBody("xsts-token", "uhs-1"))
	}))
	defer server.Close()

	token, err := newTestClient(t, server, "").Authorize(context.Background(), &FederatedToken{Token: "xbl-token", UserHash: "uhs-1"})
	require.NoError(t, err)
	assert.Equal(t, "xsts-token", token.Token)
	assert.Equal(t, "uhs-1", token.UserHash)
	assert.Equal(t, MinecraftRelyingParty, token.RelyingParty)
}

func TestAuthorizeMapsXErr(t *testing.T) {
	tests := []struct {
		xerr   uint32
		reason autherr.XstsReason
	}{
		{xerr: 2148916233, reason: autherr.NoXboxAccount},
		{xerr: 2148916235, reason: autherr.RegionBlocked},
		{xerr: 2148916236, reason: autherr.AgeVerificationRequired},
		{xerr: 2148916237, reason: autherr.AgeVerificationRequired},
		{xerr: 2148916238, reason: autherr.ChildAccountRestricted},
		{xerr: 2148916299, reason: autherr.XstsUnknownError},
	}
	for _, tt := range tests {
		t.Run(string(tt.reason), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusUnauthorized, map[string]any{
					"Identity": "0",
					"XErr":     tt.xerr,
					"Message":  "",
					"Redirect": "https://start.ui.xboxlive.com/CreateAccount",
				})
			}))
			defer server.Close()

			_, err := newTestClient(t, server, "").Authorize(context.Background(), &FederatedToken{Token: "xbl-token"})
			require.Error(t, err)
			var aerr *autherr.Error
			require.ErrorAs(t, err, &aerr)
			assert.Equal(t, autherr.KindXstsRejected, aerr.Kind)
			assert.Equal(t, tt.reason, aerr.Reason)
			assert.Equal(t, tt.xerr, aerr.XErr)
			assert.Contains(t, aerr.Raw, "CreateAccount")
			assert.True(t, errors.Is(err, &autherr.Error{Kind: autherr.KindXstsRejected, Reason: tt.reason}))
		})
	}
}

func TestAuthorizeFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		raw    string
		kind   autherr.Kind
	}{
		{name: "unauthorized without body", status: http.StatusUnauthorized, raw: "", kind: autherr.KindProtocol},
		{name: "unauthorized with html", status: http.StatusUnauthorized, raw: "<html>", kind: autherr.KindProtocol},
		{name: "server error", status: http.StatusServiceUnavailable, kind: autherr.KindNetwork},
		{name: "bad request", status: http.StatusBadRequest, kind: autherr.KindProtocol},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.raw))
			}))
			defer server.Close()

			_, err := newTestClient(t, server, "").Authorize(context.Background(), &FederatedToken{Token: "xbl-token"})
			require.Error(t, err)
			assert.Equal(t, tt.kind, autherr.KindOf(err))
		})
	}
}

func TestReasonForXErr(t *testing.T) {
	assert.Equal(t, autherr.NoXboxAccount, ReasonForXErr(XErrNoXboxAccount))
	assert.Equal(t, autherr.XstsUnknownError, ReasonForXErr(42))
}

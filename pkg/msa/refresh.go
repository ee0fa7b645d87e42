package msa

import (
	"context"
	"errors"
	"time"

	"golang.org/x/oauth2"

	"github.com/telekom/mcauth/pkg/autherr"
	"github.com/telekom/mcauth/pkg/metrics"
	"github.com/telekom/mcauth/pkg/system"
)

// Refresh redeems refreshToken for a new token pair. Microsoft rotates
// refresh tokens, so the returned RefreshToken replaces the one passed in and
// the old one must not be used again.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (tokens *TokenSet, err error) {
	const op = "msa.refresh"
	start := time.Now()
	defer func() { metrics.ObserveHop(metrics.HopRefresh, metrics.Outcome(err), start) }()

	if refreshToken == "" {
		return nil, autherr.New(autherr.KindRefreshInvalid, op, errors.New("no refresh token available"))
	}

	src := c.oauth.TokenSource(c.oauthContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	refreshed, err := src.Token()
	if err != nil {
		err = classifyRefreshError(ctx, op, err)
		c.log.Warnw("Refresh token redemption failed", "token", system.MaskToken(refreshToken), "kind", autherr.KindOf(err).String())
		return nil, err
	}
	if refreshed.AccessToken == "" {
		return nil, autherr.Protocol(op, "", errors.New("refresh response is missing access token"))
	}

	tokens = &TokenSet{
		AccessToken:  refreshed.AccessToken,
		RefreshToken: refreshed.RefreshToken,
		TokenType:    refreshed.TokenType,
		Expiry:       refreshed.Expiry,
	}
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = refreshToken
	}
	if idToken, ok := refreshed.Extra("id_token").(string); ok {
		tokens.IDToken = idToken
	}
	if scope, ok := refreshed.Extra("scope").(string); ok {
		tokens.Scope = scope
	}
	if tokens.RefreshToken != refreshToken {
		c.log.Debugw("Refresh token rotated", "token", system.MaskToken(tokens.RefreshToken))
	}
	return tokens, nil
}

var permanentRefreshCodes = map[string]bool{
	"invalid_grant":        true,
	"invalid_client":       true,
	"unauthorized_client":  true,
	"interaction_required": true,
}

func classifyRefreshError(ctx context.Context, op string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.ErrorCode != "" && permanentRefreshCodes[re.ErrorCode] {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		return &autherr.Error{Kind: autherr.KindRefreshInvalid, Op: op, StatusCode: status, Raw: string(re.Body), Err: err}
	}
	return classifyOAuthError(ctx, op, err, autherr.KindRefreshInvalid)
}

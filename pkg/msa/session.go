package msa

import (
	"time"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/oauth2"
)

// SlowDownIncrement is added to the poll interval each time the token
// endpoint answers slow_down (RFC 8628 section 3.5).
const SlowDownIncrement = 5 * time.Second

const defaultPollInterval = 5 * time.Second

// DeviceCodeSession is the state of one pending device-code sign-in.
type DeviceCodeSession struct {
	DeviceCode      string
	UserCode        string
	VerificationURL string
	// VerificationURLComplete embeds the user code when the provider offers it.
	VerificationURLComplete string
	Message                 string
	Interval                time.Duration
	ExpiresAt               time.Time
}

// ApplySlowDown raises the poll interval by SlowDownIncrement, or to the
// server-suggested interval if that is larger. The interval never decreases.
func (s *DeviceCodeSession) ApplySlowDown(suggested time.Duration) time.Duration {
	next := s.Interval + SlowDownIncrement
	if suggested > next {
		next = suggested
	}
	if next > s.Interval {
		s.Interval = next
	}
	return s.Interval
}

// Expired reports whether the session's device code is past its expiry at now.
func (s *DeviceCodeSession) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// TokenSet is a Microsoft access/refresh token pair.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	TokenType    string
	Scope        string
	Expiry       time.Time
}

// OAuth2 converts the set to an oauth2.Token.
func (t *TokenSet) OAuth2() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		Expiry:       t.Expiry,
	}
}

// Email returns the account's sign-in name from the id_token, when the
// openid/email scopes were granted. The token is not verified: the value is
// display-only.
func (t *TokenSet) Email() string {
	if t.IDToken == "" {
		return ""
	}
	claims := jwt.MapClaims{}
	if _, _, err := new(jwt.Parser).ParseUnverified(t.IDToken, claims); err != nil {
		return ""
	}
	if email, ok := claims["email"].(string); ok && email != "" {
		return email
	}
	if username, ok := claims["preferred_username"].(string); ok && username != "" {
		return username
	}
	return ""
}

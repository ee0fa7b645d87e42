package accounts

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

// DefaultTokenLifetime is assumed for a bearer whose expiry is unknown.
const DefaultTokenLifetime = time.Hour

// MicrosoftAccount is one signed-in player. AccessToken is the game-services
// bearer; RefreshToken is the rotating Microsoft refresh token.
type MicrosoftAccount struct {
	Name            string    `json:"name"`
	UUID            uuid.UUID `json:"uuid"`
	AccessToken     string    `json:"accessToken"`
	RefreshToken    string    `json:"refreshToken"`
	LastRefreshTime time.Time `json:"lastRefreshTime"`
	Email           string    `json:"email,omitempty"`
	ExpiresAt       time.Time `json:"expiresAt,omitzero"`
	// NeedsRelogin is set when the refresh token was rejected.
	NeedsRelogin bool `json:"needsRelogin,omitempty"`
}

// Validate enforces the record invariants: an identity, and a token pair
// that is either complete or absent.
func (a *MicrosoftAccount) Validate() error {
	if a.UUID == uuid.Nil {
		return errors.New("account uuid is empty")
	}
	if a.Name == "" {
		return errors.New("account name is empty")
	}
	if (a.AccessToken == "") != (a.RefreshToken == "") {
		return errors.New("access and refresh token must both be set or both be empty")
	}
	return nil
}

// Expiry is when the access token stops being usable. It prefers the stored
// expiry, then the bearer's exp claim, then LastRefreshTime plus one hour.
func (a *MicrosoftAccount) Expiry() time.Time {
	if !a.ExpiresAt.IsZero() {
		return a.ExpiresAt
	}
	if exp, ok := jwtExpiry(a.AccessToken); ok {
		return exp
	}
	return a.LastRefreshTime.Add(DefaultTokenLifetime)
}

// ValidFor reports whether the access token is usable for at least margin
// after now.
func (a *MicrosoftAccount) ValidFor(now time.Time, margin time.Duration) bool {
	if a.AccessToken == "" || a.NeedsRelogin {
		return false
	}
	return a.Expiry().Sub(now) > margin
}

// jwtExpiry reads exp without checking the signature; the services issue
// the bearer, we only use it to schedule refreshes.
func jwtExpiry(token string) (time.Time, bool) {
	if token == "" {
		return time.Time{}, false
	}
	claims := jwt.RegisteredClaims{}
	if _, _, err := new(jwt.Parser).ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

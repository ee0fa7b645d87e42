package accounts

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedBearer(t *testing.T, exp time.Time) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("test-key"))
	require.NoError(t, err)
	return token
}

func TestValidate(t *testing.T) {
	id := uuid.New()
	tests := []struct {
		name    string
		account MicrosoftAccount
		wantErr bool
	}{
		{name: "complete", account: MicrosoftAccount{Name: "Steve", UUID: id, AccessToken: "a", RefreshToken: "r"}},
		{name: "signed out", account: MicrosoftAccount{Name: "Steve", UUID: id}},
		{name: "no uuid", account: MicrosoftAccount{Name: "Steve", AccessToken: "a", RefreshToken: "r"}, wantErr: true},
		{name: "no name", account: MicrosoftAccount{UUID: id}, wantErr: true},
		{name: "access only", account: MicrosoftAccount{Name: "Steve", UUID: id, AccessToken: "a"}, wantErr: true},
		{name: "refresh only", account: MicrosoftAccount{Name: "Steve", UUID: id, RefreshToken: "r"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.account.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestExpiryPrecedence(t *testing.T) {
	refreshed := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	stored := refreshed.Add(24 * time.Hour)
	claimed := refreshed.Add(8 * time.Hour)

	a := MicrosoftAccount{AccessToken: signedBearer(t, claimed), LastRefreshTime: refreshed, ExpiresAt: stored}
	assert.Equal(t, stored, a.Expiry())

	a.ExpiresAt = time.Time{}
	assert.True(t, claimed.Equal(a.Expiry()))

	a.AccessToken = "opaque"
	assert.Equal(t, refreshed.Add(time.Hour), a.Expiry())
}

func TestValidFor(t *testing.T) {
	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	a := MicrosoftAccount{AccessToken: "a", RefreshToken: "r", ExpiresAt: now.Add(10 * time.Minute)}
	assert.True(t, a.ValidFor(now, 5*time.Minute))
	assert.False(t, a.ValidFor(now.Add(6*time.Minute), 5*time.Minute))

	a.NeedsRelogin = true
	assert.False(t, a.ValidFor(now, 5*time.Minute))
}

package xbox

import (
	"errors"
	"time"
)

const (
	DefaultUserAuthURL = "https://user.auth.xboxlive.com/user/authenticate"
	DefaultXSTSURL     = "https://xsts.auth.xboxlive.com/xsts/authorize"

	// MinecraftRelyingParty scopes the XSTS token to the game services.
	MinecraftRelyingParty = "rp://api.minecraftservices.com/"
	xblRelyingParty       = "http://auth.xboxlive.com"
	xblSiteName           = "user.auth.xboxlive.com"

	// DefaultTicketPrefix is required for tokens issued to Azure AD apps.
	DefaultTicketPrefix = "d="

	contractVersionHeader = "x-xbl-contract-version"
)

// FederatedToken is the output of one Xbox hop.
type FederatedToken struct {
	Token        string
	UserHash     string
	RelyingParty string
	IssuedAt     time.Time
	NotAfter     time.Time
}

type tokenResponse struct {
	IssueInstant  time.Time `json:"IssueInstant"`
	NotAfter      time.Time `json:"NotAfter"`
	Token         string    `json:"Token"`
	DisplayClaims struct {
		Xui []struct {
			UHS string `json:"uhs"`
		} `json:"xui"`
	} `json:"DisplayClaims"`
}

func (r *tokenResponse) federated(relyingParty string) (*FederatedToken, error) {
	if r.Token == "" {
		return nil, errors.New("response is missing Token")
	}
	if len(r.DisplayClaims.Xui) == 0 || r.DisplayClaims.Xui[0].UHS == "" {
		return nil, errors.New("response is missing DisplayClaims.xui[0].uhs")
	}
	return &FederatedToken{
		Token:        r.Token,
		UserHash:     r.DisplayClaims.Xui[0].UHS,
		RelyingParty: relyingParty,
		IssuedAt:     r.IssueInstant,
		NotAfter:     r.NotAfter,
	}, nil
}

// errorResponse is the body Xbox services send with 401 rejections.
type errorResponse struct {
	Identity string `json:"Identity"`
	XErr     uint32 `json:"XErr"`
	Message  string `json:"Message"`
	Redirect string `json:"Redirect"`
}

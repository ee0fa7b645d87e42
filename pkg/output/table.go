package output

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/telekom/mcauth/pkg/accounts"
)

// AccountView is the display form of an account. Tokens are never included.
type AccountView struct {
	Name        string    `json:"name" yaml:"name"`
	UUID        string    `json:"uuid" yaml:"uuid"`
	Email       string    `json:"email,omitempty" yaml:"email,omitempty"`
	Status      string    `json:"status" yaml:"status"`
	LastRefresh time.Time `json:"lastRefreshTime" yaml:"lastRefreshTime"`
	Expires     time.Time `json:"expiresAt" yaml:"expiresAt"`
}

const (
	StatusValid        = "valid"
	StatusExpired      = "expired"
	StatusNeedsRelogin = "needs-relogin"
	StatusSignedOut    = "signed-out"
)

func NewAccountViews(list []accounts.MicrosoftAccount, now time.Time) []AccountView {
	views := make([]AccountView, 0, len(list))
	for _, a := range list {
		views = append(views, AccountView{
			Name:        a.Name,
			UUID:        a.UUID.String(),
			Email:       a.Email,
			Status:      accountStatus(a, now),
			LastRefresh: a.LastRefreshTime,
			Expires:     a.Expiry(),
		})
	}
	return views
}

func accountStatus(a accounts.MicrosoftAccount, now time.Time) string {
	switch {
	case a.NeedsRelogin:
		return StatusNeedsRelogin
	case a.AccessToken == "":
		return StatusSignedOut
	case a.ValidFor(now, 0):
		return StatusValid
	default:
		return StatusExpired
	}
}

func WriteAccountTable(w io.Writer, views []AccountView) {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tUUID\tEMAIL\tSTATUS\tEXPIRES")
	for _, v := range views {
		email := v.Email
		if email == "" {
			email = "-"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", v.Name, v.UUID, email, v.Status, formatTime(v.Expires))
	}
	_ = tw.Flush()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

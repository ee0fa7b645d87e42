package minecraft

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/telekom/mcauth/pkg/autherr"
	"github.com/telekom/mcauth/pkg/metrics"
	"github.com/telekom/mcauth/pkg/transport"
)

type Skin struct {
	ID      string `json:"id" yaml:"id"`
	State   string `json:"state" yaml:"state"`
	URL     string `json:"url" yaml:"url"`
	Variant string `json:"variant,omitempty" yaml:"variant,omitempty"`
	Alias   string `json:"alias,omitempty" yaml:"alias,omitempty"`
}

type Cape struct {
	ID    string `json:"id" yaml:"id"`
	State string `json:"state" yaml:"state"`
	URL   string `json:"url" yaml:"url"`
	Alias string `json:"alias,omitempty" yaml:"alias,omitempty"`
}

// Profile is the player identity owned by a game-services account.
type Profile struct {
	ID    uuid.UUID
	Name  string
	Skins []Skin
	Capes []Cape
}

type profileResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Skins []Skin `json:"skins"`
	Capes []Cape `json:"capes"`
}

// FetchProfile reads the player profile. An account that never created a
// profile fails with ProfileNotFound.
func (c *Client) FetchProfile(ctx context.Context, bearer string) (profile *Profile, err error) {
	const op = "minecraft.profile"
	start := time.Now()
	defer func() { metrics.ObserveHop(metrics.HopProfile, metrics.Outcome(err), start) }()

	resp, err := c.get(ctx, op, profilePath, bearer)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, c.statusError(op, resp, autherr.KindProfileNotFound)
	}

	var payload profileResponse
	if err := resp.DecodeJSON(op, &payload); err != nil {
		return nil, err
	}
	if payload.Name == "" {
		return nil, autherr.Protocol(op, string(resp.Body), errors.New("profile has no name"))
	}
	id, err := uuid.Parse(payload.ID)
	if err != nil {
		return nil, autherr.Protocol(op, string(resp.Body), fmt.Errorf("invalid profile id: %w", err))
	}
	return &Profile{ID: id, Name: payload.Name, Skins: payload.Skins, Capes: payload.Capes}, nil
}

func (c *Client) get(ctx context.Context, op, path, bearer string) (*transport.Response, error) {
	if bearer == "" {
		return nil, autherr.Protocol(op, "", errors.New("bearer token is empty"))
	}
	return c.transport.Do(ctx, transport.Request{
		Op:     op,
		Method: http.MethodGet,
		URL:    c.url(path),
		Bearer: bearer,
	})
}

// statusError classifies a non-2xx answer from an authenticated endpoint.
// notFound is the kind reported for 404.
func (c *Client) statusError(op string, resp *transport.Response, notFound autherr.Kind) error {
	herr := resp.HTTPError()
	switch {
	case transport.IsServerError(resp.StatusCode):
		return &autherr.Error{Kind: autherr.KindNetwork, Op: op, StatusCode: resp.StatusCode, Raw: herr.Message}
	case resp.StatusCode == http.StatusNotFound:
		return &autherr.Error{Kind: notFound, Op: op, StatusCode: resp.StatusCode, Raw: herr.Message}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &autherr.Error{Kind: autherr.KindMinecraftAuthFailed, Op: op, StatusCode: resp.StatusCode, Raw: herr.Message}
	default:
		return &autherr.Error{Kind: autherr.KindProtocol, Op: op, StatusCode: resp.StatusCode, Raw: herr.Message}
	}
}

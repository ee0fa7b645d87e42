package minecraft

import (
	"context"
	"time"

	"github.com/telekom/mcauth/pkg/autherr"
	"github.com/telekom/mcauth/pkg/metrics"
)

// Entitlement item names that prove ownership of the game.
const (
	ProductMinecraft = "product_minecraft"
	GameMinecraft    = "game_minecraft"
)

type entitlementsResponse struct {
	Items []struct {
		Name      string `json:"name"`
		Signature string `json:"signature"`
	} `json:"items"`
	Signature string `json:"signature"`
	KeyID     string `json:"keyId"`
}

// VerifyEntitlement reports whether the account owns the game. The item
// signatures are not verified.
func (c *Client) VerifyEntitlement(ctx context.Context, bearer string) (owned bool, err error) {
	const op = "minecraft.entitlements"
	start := time.Now()
	defer func() { metrics.ObserveHop(metrics.HopEntitle, metrics.Outcome(err), start) }()

	resp, err := c.get(ctx, op, entitlementsPath, bearer)
	if err != nil {
		return false, err
	}
	if !resp.OK() {
		return false, c.statusError(op, resp, autherr.KindEntitlementMissing)
	}

	var payload entitlementsResponse
	if err := resp.DecodeJSON(op, &payload); err != nil {
		return false, err
	}
	for _, item := range payload.Items {
		if item.Name == ProductMinecraft || item.Name == GameMinecraft {
			return true, nil
		}
	}
	c.log.Debugw("No game entitlement found", "items", len(payload.Items))
	return false, nil
}

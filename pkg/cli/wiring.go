package cli

import (
	"github.com/telekom/mcauth/pkg/accounts"
	"github.com/telekom/mcauth/pkg/config"
	"github.com/telekom/mcauth/pkg/minecraft"
	"github.com/telekom/mcauth/pkg/msa"
	"github.com/telekom/mcauth/pkg/pipeline"
	"github.com/telekom/mcauth/pkg/transport"
	"github.com/telekom/mcauth/pkg/version"
	"github.com/telekom/mcauth/pkg/xbox"
)

func (rt *runtimeState) newTransport() (*transport.Client, error) {
	h := rt.cfg.HTTP
	opts := []transport.Option{
		transport.WithUserAgent(version.UserAgent()),
		transport.WithLogger(rt.log.Named("transport")),
	}
	if h.Timeout > 0 {
		opts = append(opts, transport.WithTimeout(h.Timeout))
	}
	if h.CAFile != "" || h.InsecureSkipTLS {
		opts = append(opts, transport.WithTLSConfig(h.CAFile, h.InsecureSkipTLS))
	}
	// Rate limiting wraps whatever transport the options above installed.
	opts = append(opts, transport.WithRateLimit(h.RateLimit, h.RateBurst))
	return transport.New(opts...)
}

// newPipeline wires every hop client from the config.
func (rt *runtimeState) newPipeline() (*pipeline.Pipeline, error) {
	if err := rt.cfg.ValidateLogin(); err != nil {
		return nil, err
	}
	tc, err := rt.newTransport()
	if err != nil {
		return nil, err
	}
	msaClient, err := msa.NewClient(msa.Config{
		ClientID:      rt.cfg.ClientID,
		Scopes:        rt.cfg.Scopes,
		DeviceAuthURL: rt.cfg.Endpoints.DeviceCode,
		TokenURL:      rt.cfg.Endpoints.Token,
	}, tc, rt.log.Named("msa"))
	if err != nil {
		return nil, err
	}
	xboxClient, err := xbox.NewClient(xbox.Config{
		UserAuthURL:  rt.cfg.Endpoints.XBL,
		XSTSURL:      rt.cfg.Endpoints.XSTS,
		TicketPrefix: rt.cfg.RpsTicketPrefix,
	}, tc, rt.log.Named("xbox"))
	if err != nil {
		return nil, err
	}
	gameClient, err := minecraft.NewClient(minecraft.Config{BaseURL: rt.cfg.Endpoints.Minecraft}, tc, rt.log.Named("minecraft"))
	if err != nil {
		return nil, err
	}

	opts := []pipeline.Option{
		pipeline.WithRetry(rt.cfg.RetryConfig()),
		pipeline.WithLogger(rt.log.Named("pipeline")),
		pipeline.WithClock(rt.now),
	}
	if rt.sleeper != nil {
		opts = append(opts, pipeline.WithSleeper(rt.sleeper))
	}
	return pipeline.New(pipeline.Components{
		Device:    msaClient,
		Refresher: msaClient,
		XBL:       xboxClient,
		XSTS:      xboxClient,
		Game:      gameClient,
	}, opts...)
}

func (rt *runtimeState) newBackend() accounts.Backend {
	if rt.cfg.Storage.TokenStorage == config.TokenStorageKeychain {
		return accounts.NewKeyringBackend()
	}
	return &accounts.FileBackend{Path: rt.cfg.Storage.AccountsFile}
}

// openStore opens the account store. renewer may be nil for commands that
// never refresh.
func (rt *runtimeState) openStore(renewer accounts.Renewer) (*accounts.Store, error) {
	return accounts.Open(rt.newBackend(), renewer,
		accounts.WithMargin(rt.cfg.RefreshMargin),
		accounts.WithClock(rt.now),
		accounts.WithLogger(rt.log.Named("accounts")),
	)
}

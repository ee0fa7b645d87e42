package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/telekom/mcauth/pkg/pipeline"
)

func NewLoginCommand() *cobra.Command {
	var noBrowser bool
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with a Microsoft account using a device code",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			p, err := rt.newPipeline()
			if err != nil {
				return err
			}
			// Open the store first so a broken backend fails before the user signs in.
			store, err := rt.openStore(nil)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			login, err := p.Begin(ctx)
			if err != nil {
				return err
			}
			w := rt.Writer()
			_, _ = fmt.Fprintf(w, "To sign in, open %s and enter the code %s\n", login.VerificationURL, login.UserCode)
			if !noBrowser {
				target := login.VerificationURLComplete
				if target == "" {
					target = login.VerificationURL
				}
				if err := rt.openBrowser(target); err != nil {
					rt.log.Debugw("Could not open browser", "error", err)
				}
			}

			if rt.cfg.Verbose {
				go func() {
					for ev := range login.Events() {
						printEvent(rt, ev)
					}
				}()
			}

			account, err := login.Wait(ctx)
			if err != nil {
				return err
			}
			if err := store.AddOrUpdate(*account); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(w, "Signed in as %s (%s)\n", account.Name, account.UUID)
			return nil
		},
	}
	cmd.Flags().BoolVar(&noBrowser, "no-browser", false, "Do not open the verification page in a browser")
	return cmd
}

func printEvent(rt *runtimeState, ev pipeline.Event) {
	if ev.Detail == "" {
		rt.log.Infow("Sign-in progress", "state", ev.State.Name())
		return
	}
	rt.log.Infow("Sign-in progress", "state", ev.State.Name(), "detail", ev.Detail)
}

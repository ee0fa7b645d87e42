package cli

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func NewTokenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "token <uuid>",
		Short: "Print a valid game-services access token, refreshing it if needed",
		Args:  cobra.ExactArgs(1),

		ValidArgsFunction: completeAccountIDs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid account uuid %q: %w", args[0], err)
			}
			p, err := rt.newPipeline()
			if err != nil {
				return err
			}
			store, err := rt.openStore(p)
			if err != nil {
				return err
			}
			token, err := store.GetValidAccessToken(cmd.Context(), id)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(rt.Writer(), token)
			return nil
		},
	}
}

package cli

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/telekom/mcauth/pkg/output"
)

func NewAccountsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "accounts",
		Aliases: []string{"account"},
		Short:   "Manage saved accounts",
	}
	cmd.AddCommand(
		newAccountsListCommand(),
		newAccountsRemoveCommand(),
	)
	return cmd
}

func newAccountsListCommand() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List saved accounts",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			f, err := output.ParseFormat(format)
			if err != nil {
				return err
			}
			store, err := rt.openStore(nil)
			if err != nil {
				return err
			}
			views := output.NewAccountViews(store.List(), rt.now())
			if f == output.FormatTable && len(views) == 0 {
				_, _ = fmt.Fprintln(rt.Writer(), "No saved accounts. Run 'mcauth login' to add one.")
				return nil
			}
			return output.WriteAccounts(rt.Writer(), f, views)
		},
	}
	cmd.Flags().StringVarP(&format, "output", "o", "table", "Output format: table, json, yaml")
	return cmd
}

func newAccountsRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <uuid>",
		Aliases: []string{"rm"},
		Short:   "Forget a saved account",
		Args:    cobra.ExactArgs(1),

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
			store, err := rt.openStore(nil)
			if err != nil {
				return err
			}
			if err := store.Remove(id); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(rt.Writer(), "Removed account %s\n", id)
			return nil
		},
	}
}

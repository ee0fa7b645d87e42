package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/telekom/mcauth/pkg/output"
	"github.com/telekom/mcauth/pkg/version"
)

func NewVersionCommand() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show mcauth version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			writer := cmd.OutOrStdout()
			if rt, err := getRuntime(cmd); err == nil {
				writer = rt.Writer()
			}
			info := version.GetBuildInfo()
			f, err := output.ParseFormat(format)
			if err != nil {
				return err
			}
			if f != output.FormatTable {
				return output.WriteObject(writer, f, info)
			}
			_, _ = fmt.Fprintf(writer, "mcauth %s (commit: %s, built: %s, %s %s)\n",
				info.Version, info.GitCommit, info.BuildDate, info.GoVersion, info.Platform)
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "output", "o", "table", "Output format: table, json, yaml")

	return cmd
}

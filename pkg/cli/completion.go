package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/telekom/mcauth/pkg/system"
)

var completionShells = []string{"bash", "zsh", "fish", "powershell"}

func NewCompletionCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "completion [" + strings.Join(completionShells, "|") + "]",
		Short:     "Generate shell completion",
		Args:      cobra.ExactArgs(1),
		ValidArgs: completionShells,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			root, w := cmd.Root(), rt.Writer()
			switch args[0] {
			case "bash":
				return root.GenBashCompletionV2(w, true)
			case "zsh":
				return root.GenZshCompletion(w)
			case "fish":
				return root.GenFishCompletion(w, true)
			case "powershell":
				return root.GenPowerShellCompletionWithDesc(w)
			default:
				return fmt.Errorf("unsupported shell: %s", args[0])
			}
		},
	}
}

// completeAccountIDs offers the UUIDs of saved accounts, described by their
// profile names. Completion never fails loudly; a broken config simply
// yields no candidates.
func completeAccountIDs(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	rt, err := getRuntime(cmd)
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	rt.log = system.OrNop(rt.log)
	if rt.cfg == nil {
		if err := rt.loadConfig(); err != nil {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
	}
	store, err := rt.openStore(nil)
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	var out []string
	for _, account := range store.List() {
		id := account.UUID.String()
		if strings.HasPrefix(id, toComplete) {
			out = append(out, id+"\t"+account.Name)
		}
	}
	return out, cobra.ShellCompDirectiveNoFileComp
}

package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

// NewVerifyCmd creates the verify command.
func NewVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify [PACKAGE...]",
		Short: "Check installed files against their recorded digests",
		Long: `Re-hash the files owned by the named installed packages (or all of them)
and report every file whose content no longer matches the installed state.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, err := loadOrchestrator()
			if err != nil {
				return err
			}
			modified, err := orch.Verify(args)
			if err != nil {
				return err
			}
			if len(modified) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "All files match.")
				return nil
			}
			names := make([]string, 0, len(modified))
			for name := range modified {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				for _, rel := range modified[name] {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", name, rel)
				}
			}
			return nil
		},
	}
}

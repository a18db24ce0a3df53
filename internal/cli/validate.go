package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hellmai/lumenflow/internal/wu"
)

func init() {
	rootCmd.AddCommand(validateCmd)
}

var validateCmd = &cobra.Command{
	Use:   "validate <wu-file>",
	Short: "Validate a Work Unit YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := wu.Load(args[0])
		if err != nil {
			return fmt.Errorf("loading %s: %w", args[0], err)
		}
		if errs := wu.ValidateSchema(w); len(errs) > 0 {
			for _, e := range errs {
				fmt.Fprintln(cmd.ErrOrStderr(), e)
			}
			return fmt.Errorf("%d validation error(s) in %s", len(errs), args[0])
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s is valid.\n", w.ID)
		return nil
	},
}

package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Materialize every template around today once",
		Long: `Run one reconciliation pass: every template is expanded over the window
around today and missing occurrences are created. Running it twice creates
nothing the second time.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.engine.Reconcile(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "reconcile failed", err)
			}
			return newPrinter(rootOpts, cmd.OutOrStdout()).print(res, func(w io.Writer) {
				fmt.Fprintf(w, "today %s: %d templates, %d created, %d occurrences\n",
					res.Today, res.Templates, res.Created, res.Occurrences)
			})
		},
	}
}

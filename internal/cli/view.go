package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"housecal/internal/model"
)

// ViewOptions holds flags for the view command.
type ViewOptions struct {
	*RootOptions
	From string
	Days int
}

func NewViewCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ViewOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "view",
		Short: "Print the reconciled calendar",
		Long: `Reconcile, then print entries and chores per day. The number in front of
each line is its position on that day, as used by the delete-at API.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runView(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.From, "from", "", "first day (YYYY-MM-DD, default today)")
	cmd.Flags().IntVar(&opts.Days, "days", 7, "number of days")
	return cmd
}

func runView(cmd *cobra.Command, opts *ViewOptions) error {
	var from model.Date
	if opts.From != "" {
		var err error
		if from, err = model.ParseDate(opts.From); err != nil {
			return WrapExitError(ExitCommandError, "invalid --from", err)
		}
	}
	if opts.Days <= 0 {
		return NewExitError(ExitCommandError, "--days must be positive")
	}

	a, err := openApp(opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.engine.Reconcile(cmd.Context()); err != nil {
		return WrapExitError(ExitFailure, "reconcile failed", err)
	}
	v := a.engine.View()
	if from.IsZero() {
		from = v.Today
	}
	days := v.Days(from, opts.Days)

	return newPrinter(opts.RootOptions, cmd.OutOrStdout()).print(days, func(w io.Writer) {
		for _, d := range days {
			label := d.Date.String() + " " + d.Date.Weekday().String()[:3]
			if d.Today {
				label += " (today)"
			}
			fmt.Fprintln(w, label)
			for i, e := range d.Entries {
				fmt.Fprintf(w, "  %d  %s %s%s\n", i, e.Payload.Time, e.Payload.Title, recurringMark(e))
			}
			for i, c := range d.Chores {
				box := "[ ]"
				if c.Completed {
					box = "[x]"
				}
				who := ""
				if c.Payload.AssignedTo != "" {
					who = " (" + c.Payload.AssignedTo + ")"
				}
				fmt.Fprintf(w, "  %d  %s %s%s%s\n", i, box, c.Payload.Title, who, recurringMark(c))
			}
		}
	})
}

func recurringMark(o model.Occurrence) string {
	if o.Recurring() {
		return " ↻"
	}
	return ""
}

package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"housecal/internal/model"
	"housecal/internal/schedule"
)

// StopFutureOptions holds flags for the stop-future command.
type StopFutureOptions struct {
	*RootOptions
	From string
}

func NewStopFutureCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StopFutureOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "stop-future <entry|chore> <template-id>",
		Short: "End a recurring template and drop its future occurrences",
		Long: `End the template on the day before --from (default: today) and delete
its occurrences dated --from or later. Earlier occurrences are kept.

Example:
  housecal stop-future chore bins --from 2024-03-05`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStopFuture(cmd, opts, args[0], args[1])
		},
	}

	cmd.Flags().StringVar(&opts.From, "from", "", "first day to remove (YYYY-MM-DD, default today)")
	return cmd
}

func runStopFuture(cmd *cobra.Command, opts *StopFutureOptions, kindArg, id string) error {
	kind, err := model.ParseKind(kindArg)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid kind", err)
	}
	var from model.Date
	if opts.From != "" {
		if from, err = model.ParseDate(opts.From); err != nil {
			return WrapExitError(ExitCommandError, "invalid --from", err)
		}
	}

	a, err := openApp(opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	if from.IsZero() {
		from = a.engine.Today()
	}
	res, err := a.engine.StopFuture(cmd.Context(), kind, id, from)
	if err != nil && !schedule.Committed(err) {
		return lifecycleExit("stop-future failed", err)
	}

	out := struct {
		Kind          model.Kind `json:"kind"`
		ID            string     `json:"id"`
		TemplateFound bool       `json:"template_found"`
		EndDate       model.Date `json:"end_date"`
		Removed       int64      `json:"removed"`
	}{kind, id, res.TemplateFound, res.EndDate, res.Removed}

	return newPrinter(opts.RootOptions, cmd.OutOrStdout()).print(out, func(w io.Writer) {
		if !res.TemplateFound {
			fmt.Fprintf(w, "%s %s: template not found, removed %d leftover occurrences\n", kind, id, res.Removed)
			return
		}
		fmt.Fprintf(w, "%s %s: ends %s, removed %d occurrences\n", kind, id, res.EndDate, res.Removed)
	})
}

func NewDeleteAllCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-all <entry|chore> <template-id>",
		Short: "Delete a recurring template and every occurrence it generated",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := model.ParseKind(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid kind", err)
			}
			id := args[1]

			a, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.engine.DeleteAll(cmd.Context(), kind, id)
			if err != nil && !schedule.Committed(err) {
				return lifecycleExit("delete-all failed", err)
			}

			out := struct {
				Kind          model.Kind `json:"kind"`
				ID            string     `json:"id"`
				TemplateFound bool       `json:"template_found"`
				Removed       int64      `json:"removed"`
			}{kind, id, res.TemplateFound, res.Removed}

			return newPrinter(rootOpts, cmd.OutOrStdout()).print(out, func(w io.Writer) {
				fmt.Fprintf(w, "%s %s: template found=%t, removed %d occurrences\n",
					kind, id, res.TemplateFound, res.Removed)
			})
		},
	}
}

func lifecycleExit(msg string, err error) error {
	if schedule.IsInvalid(err) {
		return WrapExitError(ExitCommandError, msg, err)
	}
	return WrapExitError(ExitFailure, msg, err)
}

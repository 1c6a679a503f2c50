package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"housecal/internal/model"
)

type templateRow struct {
	model.RecurringTemplate
	State model.TemplateState `json:"state"`
}

func NewTemplatesCommand(rootOpts *RootOptions) *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "templates",
		Short: "List recurring templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter model.Kind
			if kind != "" {
				k, err := model.ParseKind(kind)
				if err != nil {
					return WrapExitError(ExitCommandError, "invalid --kind", err)
				}
				filter = k
			}

			a, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			list, err := a.store.ListTemplates(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "failed to list templates", err)
			}
			today := a.engine.Today()
			rows := make([]templateRow, 0, len(list))
			for _, t := range list {
				if filter != "" && t.Kind != filter {
					continue
				}
				rows = append(rows, templateRow{RecurringTemplate: t, State: t.State(today)})
			}

			return newPrinter(rootOpts, cmd.OutOrStdout()).print(rows, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "KIND\tID\tFREQUENCY\tSTART\tEND\tSTATE\tTITLE")
				for _, r := range rows {
					end := "-"
					if r.EndDate != nil {
						end = r.EndDate.String()
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
						r.Kind, r.ID, r.Frequency, r.StartDate, end, r.State, r.Payload.Title)
				}
				tw.Flush()
			})
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "only list entry or chore templates")
	return cmd
}

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"ticket-inventory/internal/services"
)

func newReconcileCommand(r *services.Reconciler) *cobra.Command {
	var repair bool

	command := &cobra.Command{
		Use:   "reconcile",
		Short: "Report events whose ticket provisioning never finished",
		Long: "Lists events stuck in provisioning for longer than RECONCILE_GRACE. " +
			"With --repair the missing tickets are provisioned and the events published.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			reports, err := r.Check(cmd.Context())
			if err != nil {
				return err
			}
			if len(reports) == 0 {
				fmt.Fprintln(out, "no incomplete provisioning")
				return nil
			}

			for _, report := range reports {
				fmt.Fprintf(out, "%s %q: %d/%d tickets, started %s\n",
					report.EventID, report.Name, report.Provisioned, report.Requested,
					report.StartedAt.Format("2006-01-02 15:04:05"))
			}
			if !repair {
				return nil
			}

			failed := 0
			for _, report := range reports {
				repaired, err := r.Repair(cmd.Context(), report.EventID)
				if err != nil {
					failed++
					fmt.Fprintf(out, "%s: repair failed: %v\n", report.EventID, err)
					continue
				}
				fmt.Fprintf(out, "%s: published with %d tickets\n", repaired.EventID, repaired.Provisioned)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d events could not be repaired", failed, len(reports))
			}
			return nil
		},
	}
	command.Flags().BoolVar(&repair, "repair", false, "provision missing tickets and publish the events")

	return command
}

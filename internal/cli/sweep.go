package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one reconciliation sweep and exit",
	RunE:  runSweep,
}

func runSweep(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	r, err := a.syncer.Sweep(context.Background())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "outbox applied=%d failed=%d dropped=%d\n", r.OutboxApplied, r.OutboxFailed, r.OutboxDropped)
	fmt.Fprintf(out, "stale claims released=%d\n", r.StaleReleased)
	fmt.Fprintf(out, "routine reminders created=%d routine errors=%d\n", r.RemindersCreated, r.RoutineErrors)
	fmt.Fprintf(out, "reminders synced=%d queue writes=%d orphans=%d errors=%d\n", r.Synced, r.Writes, r.Orphans, r.Errors)
	return nil
}

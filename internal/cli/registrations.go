package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	regmodels "regdesk/internal/registration/models"
	"regdesk/pkg/domain"
)

func newStatsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show registration statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, stores, err := opts.openStores(cmd)
			if err != nil {
				return err
			}
			defer stores.Close()
			stats, err := stores.Registrations.Stats(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		},
	}
}

func newRegistrationsCmd(opts *options) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "registrations",
		Short: "List registrations, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st := regmodels.Status(status)
			if st != "" && !st.Valid() {
				return fmt.Errorf("--status must be pending, confirmed or rejected")
			}
			_, stores, err := opts.openStores(cmd)
			if err != nil {
				return err
			}
			defer stores.Close()
			regs, err := stores.Registrations.ListByStatus(cmd.Context(), st)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), regs)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only list this status (pending, confirmed or rejected)")
	return cmd
}

func newPurgeCmd(opts *options) *cobra.Command {
	var (
		rejected  bool
		before    string
		olderDays int
		eventID   int64
		yes       bool
	)
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete registrations matching exactly one filter",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var f regmodels.PurgeFilter
			set := 0
			if rejected {
				f.RejectedOnly = true
				set++
			}
			if before != "" {
				t, err := time.Parse(dateLayout, before)
				if err != nil {
					return fmt.Errorf("--before must look like %s", dateLayout)
				}
				f.CreatedBefore = t
				set++
			}
			if olderDays > 0 {
				f.CreatedBefore = time.Now().UTC().AddDate(0, 0, -olderDays)
				set++
			}
			if eventID != 0 {
				f.EventID = domain.EventID(eventID)
				set++
			}
			if set != 1 {
				return fmt.Errorf("exactly one of --rejected, --before, --older-than-days or --event is required")
			}
			if !yes {
				return fmt.Errorf("purge deletes data permanently; pass --yes to proceed")
			}

			_, stores, err := opts.openStores(cmd)
			if err != nil {
				return err
			}
			defer stores.Close()
			n, err := stores.Registrations.Purge(cmd.Context(), f)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d registration(s) deleted\n", n)
			return nil
		},
	}
	cmd.Flags().BoolVar(&rejected, "rejected", false, "delete every rejected registration")
	cmd.Flags().StringVar(&before, "before", "", "delete registrations created before this date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&olderDays, "older-than-days", 0, "delete registrations older than this many days")
	cmd.Flags().Int64Var(&eventID, "event", 0, "delete registrations for this tournament")
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the deletion")
	return cmd
}

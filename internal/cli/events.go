package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	regmodels "regdesk/internal/registration/models"
	"regdesk/pkg/domain"
)

const dateLayout = "2006-01-02"

func newEventsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Manage tournaments offered during registration",
	}

	var name, date, description string
	add := &cobra.Command{
		Use:   "add",
		Short: "Create an active tournament",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			name = strings.TrimSpace(name)
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			day, err := time.Parse(dateLayout, date)
			if err != nil {
				return fmt.Errorf("--date must look like %s", dateLayout)
			}
			_, stores, err := opts.openStores(cmd)
			if err != nil {
				return err
			}
			defer stores.Close()

			now := time.Now().UTC()
			ev := &regmodels.Event{
				Name:        name,
				EventDate:   day,
				Description: strings.TrimSpace(description),
				IsActive:    true,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := stores.Registrations.CreateEvent(cmd.Context(), ev); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), ev)
		},
	}
	add.Flags().StringVar(&name, "name", "", "tournament name")
	add.Flags().StringVar(&date, "date", "", "tournament date (YYYY-MM-DD)")
	add.Flags().StringVar(&description, "description", "", "optional description")

	var all bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List tournaments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, stores, err := opts.openStores(cmd)
			if err != nil {
				return err
			}
			defer stores.Close()
			evs, err := stores.Registrations.ListEvents(cmd.Context(), !all)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), evs)
		},
	}
	list.Flags().BoolVar(&all, "all", false, "include inactive tournaments")

	cmd.AddCommand(add, list, setActiveCmd(opts, "activate", true), setActiveCmd(opts, "deactivate", false))
	return cmd
}

func setActiveCmd(opts *options, use string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <event-id>",
		Short: strings.ToUpper(use[:1]) + use[1:] + " a tournament",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := domain.ParseEventID(args[0])
			if err != nil {
				return err
			}
			_, stores, err := opts.openStores(cmd)
			if err != nil {
				return err
			}
			defer stores.Close()
			if err := stores.Registrations.SetEventActive(cmd.Context(), id, active, time.Now().UTC()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "event %d %sd\n", int64(id), use)
			return nil
		},
	}
}

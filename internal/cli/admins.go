package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"regdesk/internal/moderation"
	"regdesk/pkg/domain"
)

func newAdminsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admins",
		Short: "Inspect and bootstrap the admin roster",
	}

	var all bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List admins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, stores, err := opts.openStores(cmd)
			if err != nil {
				return err
			}
			defer stores.Close()
			admins, err := stores.Admins.List(cmd.Context(), !all)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), admins)
		},
	}
	list.Flags().BoolVar(&all, "all", false, "include deactivated admins")

	bootstrap := &cobra.Command{
		Use:   "bootstrap [principal-id...]",
		Short: "Make the configured (or given) principals active admins",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, stores, err := opts.openStores(cmd)
			if err != nil {
				return err
			}
			defer stores.Close()

			var ids []domain.PrincipalID
			for _, id := range cfg.Admins {
				ids = append(ids, domain.PrincipalID(id))
			}
			for _, arg := range args {
				id, err := domain.ParsePrincipalID(arg)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}
			if len(ids) == 0 {
				return fmt.Errorf("no principals: set admins in the configuration or pass ids")
			}

			svc := moderation.New(stores.Registrations, stores.Admins, nil, nil, moderation.WithTxRunner(stores.Tx))
			if err := svc.EnsureSuperAdmins(cmd.Context(), ids); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d admin(s) ensured\n", len(ids))
			return nil
		},
	}

	cmd.AddCommand(list, bootstrap)
	return cmd
}

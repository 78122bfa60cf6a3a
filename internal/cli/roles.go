package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/DigitalQatalyst/DQ-Intranet-DWS-sub001/internal/audit"
	"github.com/DigitalQatalyst/DQ-Intranet-DWS-sub001/internal/ids"
	"github.com/DigitalQatalyst/DQ-Intranet-DWS-sub001/internal/store"
)

func newRolesCmd(a *app) *cobra.Command {
	var (
		db      dbFlags
		account bool
	)
	cmd := &cobra.Command{
		Use:   "roles",
		Short: "Administer responsibility roles and progressive access",
		Long: `Change the stored authorization of a user. USER is the profile id, or the
provider account id when --account is set.

Examples:
  dwsctl roles grant 2f1c... content_publisher
  dwsctl roles revoke --account 00000000-...-tid moderator
  dwsctl roles set 2f1c... --role admin --segment platform_admin`,
	}
	db.register(cmd)
	cmd.PersistentFlags().BoolVar(&account, "account", false, "treat USER as a provider account id")

	profileID := func(user string) string {
		if account {
			return ids.StableID(user)
		}
		return user
	}
	withProfiles := func(fn func(cmd *cobra.Command, p *store.Profiles, id string, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			conn, dialect, err := a.openDB(db)
			if err != nil {
				return err
			}
			defer conn.Close()
			return fn(cmd, store.NewProfiles(conn, dialect), profileID(args[0]), args[1:])
		}
	}

	grant := &cobra.Command{
		Use:   "grant USER ROLE",
		Short: "Grant a responsibility role",
		Args:  cobra.ExactArgs(2),
		RunE: withProfiles(func(cmd *cobra.Command, p *store.Profiles, id string, args []string) error {
			if err := p.GrantResponsibility(cmd.Context(), id, args[0]); err != nil {
				return fmt.Errorf("grant %s: %w", args[0], err)
			}
			audit.LogEvent(cmd.Context(), "access.responsibility_granted", map[string]any{"user_id": id, "role": args[0], "via": "dwsctl"})
			fmt.Fprintf(cmd.OutOrStdout(), "granted %s to %s\n", args[0], id)
			return nil
		}),
	}

	revoke := &cobra.Command{
		Use:   "revoke USER ROLE",
		Short: "Revoke a responsibility role",
		Args:  cobra.ExactArgs(2),
		RunE: withProfiles(func(cmd *cobra.Command, p *store.Profiles, id string, args []string) error {
			if err := p.RevokeResponsibility(cmd.Context(), id, args[0]); err != nil {
				return fmt.Errorf("revoke %s: %w", args[0], err)
			}
			audit.LogEvent(cmd.Context(), "access.responsibility_revoked", map[string]any{"user_id": id, "role": args[0], "via": "dwsctl"})
			fmt.Fprintf(cmd.OutOrStdout(), "revoked %s from %s\n", args[0], id)
			return nil
		}),
	}

	var role, segment string
	set := &cobra.Command{
		Use:   "set USER",
		Short: "Set the progressive role and segment",
		Args:  cobra.ExactArgs(1),
		RunE: withProfiles(func(cmd *cobra.Command, p *store.Profiles, id string, _ []string) error {
			if err := p.SetAccess(cmd.Context(), id, role, segment); err != nil {
				return fmt.Errorf("set access: %w", err)
			}
			audit.LogEvent(cmd.Context(), "access.updated", map[string]any{"user_id": id, "role": role, "segment": segment, "via": "dwsctl"})
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s (%s)\n", id, role, segment)
			return nil
		}),
	}
	set.Flags().StringVar(&role, "role", "", "progressive role")
	set.Flags().StringVar(&segment, "segment", "employee", "user segment")
	_ = set.MarkFlagRequired("role")

	cmd.AddCommand(grant, revoke, set)
	return cmd
}

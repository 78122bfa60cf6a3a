package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/DigitalQatalyst/DQ-Intranet-DWS-sub001/internal/capability"
)

func newCapabilitiesCmd(_ *app) *cobra.Command {
	var (
		policyPath       string
		role             string
		segment          string
		domain           string
		responsibilities []string
		asJSON           bool
	)
	cmd := &cobra.Command{
		Use:   "capabilities",
		Short: "Evaluate the capability policy for a role combination",
		Long: `Evaluate the capability policy offline. Without --role the command lists
every capability the policy defines.

Examples:
  dwsctl capabilities
  dwsctl capabilities --role contributor --responsibility content_publisher
  dwsctl capabilities --role viewer --segment platform_admin --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			policy, err := capability.Load(policyPath)
			if err != nil {
				return err
			}
			names := policy.Names()
			if role != "" {
				checker, err := policy.Evaluate(&capability.Subject{
					ProgressiveRole:     role,
					Segment:             segment,
					Domain:              domain,
					ResponsibilityRoles: responsibilities,
				})
				if err != nil {
					return err
				}
				names = checker.Capabilities()
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string][]string{"capabilities": nonNil(names)})
			}
			if len(names) == 0 {
				_, err := fmt.Fprintln(out, "No capabilities granted.")
				return err
			}
			_, err = fmt.Fprintln(out, strings.Join(names, "\n"))
			return err
		},
	}
	cmd.Flags().StringVar(&policyPath, "policy", "", "policy YAML file (default: embedded policy)")
	cmd.Flags().StringVar(&role, "role", "", "progressive role to evaluate")
	cmd.Flags().StringVar(&segment, "segment", "employee", "user segment")
	cmd.Flags().StringVar(&domain, "domain", "", "business domain")
	cmd.Flags().StringSliceVar(&responsibilities, "responsibility", nil, "responsibility role (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

// Package cli implements dwsctl, the operator and developer CLI for the DWS
// authorization service.
package cli

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/DigitalQatalyst/DQ-Intranet-DWS-sub001/internal/config"
	"github.com/DigitalQatalyst/DQ-Intranet-DWS-sub001/internal/identity"
	"github.com/DigitalQatalyst/DQ-Intranet-DWS-sub001/internal/obs"
)

// app carries the process-level dependencies shared by every command.
type app struct {
	out    io.Writer
	errOut io.Writer

	loadClient func() (config.Client, error)
	// provider opens the identity session; tests replace it.
	provider func(ctx context.Context, cfg config.Client, errOut io.Writer) (identity.Provider, error)

	logger *slog.Logger
}

func defaultApp() *app {
	return &app{
		out:        os.Stdout,
		errOut:     os.Stderr,
		loadClient: config.LoadClient,
		provider:   openProvider,
	}
}

// NewRootCmd builds the dwsctl command tree.
func NewRootCmd() *cobra.Command {
	return newRootCmd(defaultApp())
}

func newRootCmd(a *app) *cobra.Command {
	var verbose bool
	root := &cobra.Command{
		Use:   "dwsctl",
		Short: "DWS intranet authorization tooling",
		Long: `dwsctl signs in against the DWS identity provider, shows the resolved
authorization view model and administers the profile database.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			level := "warn"
			if verbose {
				level = "debug"
			}
			a.logger = obs.NewLogger(a.errOut, level, "text")
			obs.SetLogger(a.logger)
		},
	}
	root.SetOut(a.out)
	root.SetErr(a.errOut)
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log resolution details to stderr")

	root.AddCommand(
		newLoginCmd(a),
		newSignupCmd(a),
		newLogoutCmd(a),
		newWhoamiCmd(a),
		newCapabilitiesCmd(a),
		newMigrateCmd(a),
		newRolesCmd(a),
	)
	return root
}

// ExecuteContext runs dwsctl with ctx.
func ExecuteContext(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

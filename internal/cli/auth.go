package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newLoginCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and show the resolved view model",
		Long: `Sign in through the identity provider using a loopback redirect. When the
redirect cannot complete, a popup-style authorization is attempted.

Examples:
  dwsctl login
  dwsctl login --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, err := a.openSession(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.Start(ctx); err != nil {
				return err
			}
			if err := s.Login(ctx); err != nil {
				return fmt.Errorf("login failed: %w", err)
			}
			if err := s.Resolve(ctx); err != nil {
				return err
			}
			s.Wait()
			return printView(cmd.OutOrStdout(), s.Current(), asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the view model as JSON")
	return cmd
}

func newSignupCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "signup",
		Short: "Start account creation with the identity provider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, err := a.openSession(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.Start(ctx); err != nil {
				return err
			}
			if err := s.Signup(ctx); err != nil {
				return err
			}
			s.Wait()
			fmt.Fprintln(cmd.OutOrStdout(), "Sign-up flow finished.")
			return nil
		},
	}
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Invalidate the server session and sign out",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, err := a.openSession(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.Logout(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
			return nil
		},
	}
}

func newWhoamiCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the authorization view model for the cached session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, err := a.openSession(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.Resolve(ctx); err != nil {
				return err
			}
			s.Wait()
			return printView(cmd.OutOrStdout(), s.Current(), asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the view model as JSON")
	return cmd
}

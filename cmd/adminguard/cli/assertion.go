package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/faucetdb/adminguard/internal/service"
)

func newAssertionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assertion",
		Short: "Work with identity assertions",
		Long: `Identity assertions are short-lived signed tokens produced by the upstream
credential check. They are exchanged for an admin session at POST /sessions.`,
	}

	cmd.AddCommand(newAssertionIssueCmd())

	return cmd
}

func newAssertionIssueCmd() *cobra.Command {
	var (
		role string
		ttl  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "issue <admin-id>",
		Short: "Sign an identity assertion for testing or break-glass access",
		Example: `  adminguard assertion issue ops@example.com --role super_admin --ttl 2m`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fc, err := loadConfig()
			if err != nil {
				return err
			}

			secret := fc.Auth.IdentitySecret
			if secret == "" {
				if !term.IsTerminal(int(os.Stdin.Fd())) {
					return errors.New("auth.identity_secret is not configured")
				}
				fmt.Fprint(os.Stderr, "Identity secret: ")
				raw, err := term.ReadPassword(int(os.Stdin.Fd()))
				fmt.Fprintln(os.Stderr)
				if err != nil {
					return fmt.Errorf("read secret: %w", err)
				}
				secret = strings.TrimSpace(string(raw))
				if secret == "" {
					return errors.New("identity secret cannot be empty")
				}
			}

			clk, err := clockFor(fc)
			if err != nil {
				return err
			}
			verifier := service.NewIdentityVerifier(secret, fc.Auth.IdentityIssuer, clk)
			token, err := verifier.Issue(args[0], role, ttl)
			if err != nil {
				return fmt.Errorf("issue assertion: %w", err)
			}
			fmt.Println(token)
			return nil
		},
	}

	cmd.Flags().StringVar(&role, "role", "admin", "Role claimed by the assertion")
	cmd.Flags().DurationVar(&ttl, "ttl", 5*time.Minute, "Assertion lifetime")

	return cmd
}

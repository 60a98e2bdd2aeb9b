package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/54b3r/coursechat-go/internal/config"
	"github.com/54b3r/coursechat-go/internal/identity"
)

// NewTokenCmd constructs `coursechat token`, which issues a bearer token for
// a user id signed with COURSECHAT_JWT_SECRET. It is meant for local
// development and operator scripts; production tokens come from the
// deployment's identity provider using the same secret and issuer.
func NewTokenCmd() *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue a bearer token for a user",
		Example: `  TOKEN=$(coursechat token stu-7)
  curl -H "Authorization: Bearer $TOKEN" localhost:8080/api/student/queries/recent`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt := config.FromEnv()
			v, err := identity.NewVerifier([]byte(rt.JWTSecret), rt.JWTIssuer)
			if err != nil {
				return fmt.Errorf("token: %w", err)
			}
			tok, err := v.Issue(args[0], ttl)
			if err != nil {
				return fmt.Errorf("token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", identity.DefaultTTL, "Token lifetime")
	return cmd
}

package main

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"
)

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show loop health",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().do("GET", "/api/v1/health", nil, nil)
			if err != nil {
				return err
			}
			printJSON(data)
			return nil
		},
	}
}

func newChallengeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "challenge",
		Short: "Manage challenges",
	}
	cmd.AddCommand(newChallengeListCommand())
	cmd.AddCommand(newChallengeShowCommand())
	cmd.AddCommand(newChallengeCreateCommand())
	cmd.AddCommand(newChallengeExecuteCommand())
	return cmd
}

func newChallengeListCommand() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List challenges",
		RunE: func(cmd *cobra.Command, args []string) error {
			params := url.Values{}
			if status != "" {
				params.Set("status", status)
			}
			data, err := newClient().do("GET", "/api/v1/challenges", params, nil)
			if err != nil {
				return err
			}
			printJSON(data)
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by lifecycle status")
	return cmd
}

func newChallengeShowCommand() *cobra.Command {
	var solutions bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one challenge",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/v1/challenges/" + args[0]
			if solutions {
				path += "/solutions"
			}
			data, err := newClient().do("GET", path, nil, nil)
			if err != nil {
				return err
			}
			printJSON(data)
			return nil
		},
	}
	cmd.Flags().BoolVar(&solutions, "solutions", false, "Show the ranked candidate solutions instead")
	return cmd
}

func newChallengeCreateCommand() *cobra.Command {
	var ctype, severity string
	cmd := &cobra.Command{
		Use:   "create <description>",
		Short: "Report a challenge",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().do("POST", "/api/v1/challenges", nil, map[string]string{
				"type":        ctype,
				"severity":    severity,
				"description": args[0],
			})
			if err != nil {
				return err
			}
			printJSON(data)
			return nil
		},
	}
	cmd.Flags().StringVar(&ctype, "type", "", "Challenge type (performance, error, scalability, security, resource)")
	cmd.Flags().StringVar(&severity, "severity", "", "Severity (low, medium, high, critical)")
	return cmd
}

func newChallengeExecuteCommand() *cobra.Command {
	var solutionID string
	cmd := &cobra.Command{
		Use:   "execute <id>",
		Short: "Execute a challenge's solution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var body interface{}
			if solutionID != "" {
				body = map[string]string{"solution_id": solutionID}
			}
			data, err := newClient().do("POST", "/api/v1/challenges/"+args[0]+"/execute", nil, body)
			if err != nil {
				return err
			}
			printJSON(data)
			return nil
		},
	}
	cmd.Flags().StringVar(&solutionID, "solution", "", "Solution id (defaults to the top-ranked one)")
	return cmd
}

func newLearningCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "learnings",
		Short: "List recorded learnings",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().do("GET", "/api/v1/learnings", nil, nil)
			if err != nil {
				return err
			}
			printJSON(data)
			return nil
		},
	}
}

func newPatternCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "patterns",
		Short: "List the pattern library",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().do("GET", "/api/v1/patterns", nil, nil)
			if err != nil {
				return err
			}
			printJSON(data)
			return nil
		},
	}
}

func newShareCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "share <peer>",
		Short: "Send accumulated knowledge to a peer instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().do("POST", "/api/v1/share", nil, map[string]string{"target": args[0]})
			if err != nil {
				return err
			}
			printJSON(data)
			return nil
		},
	}
}

// newTokenCommand mints a bearer token locally from the shared secret, so
// operators never have to exchange credentials with the server.
func newTokenCommand() *cobra.Command {
	var secret, subject string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token from the shared JWT secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv("MEND_JWT_SECRET")
			}
			if secret == "" {
				return fmt.Errorf("no secret given: use --secret or MEND_JWT_SECRET")
			}
			now := time.Now()
			token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
				Subject:   subject,
				ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
				IssuedAt:  jwt.NewNumericDate(now),
			})
			signed, err := token.SignedString([]byte(secret))
			if err != nil {
				return err
			}
			fmt.Println(signed)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "Shared JWT secret (defaults to MEND_JWT_SECRET)")
	cmd.Flags().StringVar(&subject, "subject", "operator", "Token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	return cmd
}

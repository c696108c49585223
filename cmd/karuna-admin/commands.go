package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"karuna.org/internal/donation"
	"karuna.org/internal/kyc"
	"karuna.org/internal/lease"
	"karuna.org/internal/pii"
)

const operator = "karuna-admin"

func withEnv(run func(ctx context.Context, e *env, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.Close()
		ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
		defer cancel()
		return run(ctx, e, args)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func createAdminCmd() *cobra.Command {
	var name, email string
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an operator account (password from KARUNA_ADMIN_PASSWORD or the first line of stdin)",
		RunE: withEnv(func(ctx context.Context, e *env, _ []string) error {
			password, err := readPassword()
			if err != nil {
				return err
			}
			profile, err := e.identity.CreateAdmin(ctx, name, email, password)
			if err != nil {
				return err
			}
			return printJSON(profile)
		}),
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&email, "email", "", "login email")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func readPassword() (string, error) {
	if pw := os.Getenv("KARUNA_ADMIN_PASSWORD"); pw != "" {
		return pw, nil
	}
	fmt.Fprint(os.Stderr, "Password: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", errors.New("no password given")
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func accountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage NGO and farmer accounts",
	}
	var revoke bool
	verify := &cobra.Command{
		Use:   "verify <account-id>",
		Short: "Mark an account as verified",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(func(ctx context.Context, e *env, args []string) error {
			if err := e.identity.SetVerified(ctx, args[0], !revoke); err != nil {
				return err
			}
			profile, err := e.identity.Profile(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(profile)
		}),
	}
	verify.Flags().BoolVar(&revoke, "revoke", false, "clear the verified flag instead")
	cmd.AddCommand(verify)
	return cmd
}

func kycCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kyc",
		Short: "Inspect and review KYC applications",
	}

	show := &cobra.Command{
		Use:   "show <farmer|ngo> <application-id>",
		Short: "Print an application",
		Args:  cobra.ExactArgs(2),
		RunE: withEnv(func(ctx context.Context, e *env, args []string) error {
			kind, err := kyc.ParseKind(args[0])
			if err != nil {
				return err
			}
			app, err := e.kyc.Get(ctx, kind, args[1])
			if err != nil {
				return err
			}
			return printJSON(app)
		}),
	}

	var status, reason string
	review := &cobra.Command{
		Use:   "review <farmer|ngo> <application-id>",
		Short: "Move an application to under_review, approved or rejected",
		Args:  cobra.ExactArgs(2),
		RunE: withEnv(func(ctx context.Context, e *env, args []string) error {
			kind, err := kyc.ParseKind(args[0])
			if err != nil {
				return err
			}
			app, err := e.kyc.Review(ctx, kind, args[1], operator, kyc.ReviewInput{
				Status: kyc.Status(strings.ToLower(status)),
				Reason: reason,
			})
			if err != nil {
				return err
			}
			return printJSON(statusLine(app))
		}),
	}
	review.Flags().StringVar(&status, "status", "", "under_review, approved or rejected")
	review.Flags().StringVar(&reason, "reason", "", "rejection reason")
	_ = review.MarkFlagRequired("status")

	cmd.AddCommand(show, review)
	return cmd
}

func statusLine(app kyc.Application) map[string]any {
	return map[string]any{
		"id":          app.ID,
		"type":        app.Kind,
		"status":      app.Status,
		"reviewed_at": app.Verification.ReviewedAt,
		"reviewed_by": app.Verification.ReviewedBy,
	}
}

func recurringCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recurring",
		Short: "Recurring donation maintenance",
	}
	runOnce := &cobra.Command{
		Use:   "run-once",
		Short: "Spawn follow-up records for due recurring donations now",
		RunE: withEnv(func(ctx context.Context, e *env, _ []string) error {
			sched := donation.NewScheduler(e.donations, lease.NewSQL(e.db.DB()), donation.SchedulerConfig{
				LeaseTTL: e.cfg.Scheduler.LeaseTTL,
			})
			res, err := sched.RunOnce(ctx)
			if err != nil {
				return err
			}
			return printJSON(res)
		}),
	}
	cmd.AddCommand(runOnce)
	return cmd
}

func genPIIKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gen-pii-key",
		Short: "Print a fresh key for KARUNA_PII_KEY",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := pii.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
}

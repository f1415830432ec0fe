package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/mrbonezy/canopy/model"
)

func newTokenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the GitHub token",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "set [token]",
			Short: "Store a GitHub token (prompted, or read from stdin, when omitted)",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				token, err := readToken(args, cmd.InOrStdin())
				if err != nil {
					return err
				}
				return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
					if err := a.settings.SaveToken(ctx, token); err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), "GitHub token saved.")
					if strings.TrimSpace(os.Getenv("GITHUB_TOKEN")) != "" {
						a.warn.Printf("GITHUB_TOKEN is set and takes precedence over the stored token")
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Report whether a token is configured",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
					status, err := a.settings.TokenStatus(ctx)
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), describeTokenStatus(status))
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Remove the stored token",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
					if err := a.settings.ClearToken(ctx); err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), "GitHub token cleared.")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "check",
			Short: "Validate the token against GitHub",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
					check, err := a.forge.CheckToken(ctx)
					if err != nil {
						return err
					}
					printTokenCheck(cmd.OutOrStdout(), check, time.Now())
					return nil
				})
			},
		},
	)
	return cmd
}

func readToken(args []string, in io.Reader) (string, error) {
	if len(args) == 1 {
		if t := strings.TrimSpace(args[0]); t != "" {
			return t, nil
		}
		return "", errors.New("token is empty")
	}
	if f, ok := in.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		var token string
		if err := newTokenForm(&token).Run(); err != nil {
			return "", err
		}
		if token = strings.TrimSpace(token); token == "" {
			return "", errors.New("token is empty")
		}
		return token, nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	if line = strings.TrimSpace(line); line == "" {
		return "", errors.New("token is empty")
	}
	return line, nil
}

func describeTokenStatus(status model.TokenStatus) string {
	switch status {
	case model.TokenValid:
		return "GitHub token configured."
	case model.TokenCorrupted:
		return "Stored GitHub token is unreadable. Run: canopy token set"
	default:
		return "No GitHub token. Run: canopy token set"
	}
}

func printTokenCheck(w io.Writer, check model.TokenCheck, now time.Time) {
	if !check.Valid {
		fmt.Fprintln(w, "GitHub token is missing or rejected.")
		return
	}
	fmt.Fprintf(w, "Authenticated as %s\n", check.Login)
	if len(check.Scopes) > 0 {
		fmt.Fprintf(w, "Scopes: %s\n", strings.Join(check.Scopes, ", "))
	}
	if check.ExpiresAt != nil {
		fmt.Fprintf(w, "Expires %s\n", humanize.RelTime(*check.ExpiresAt, now, "ago", "from now"))
	}
}

package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrbonezy/canopy/model"
	"github.com/mrbonezy/canopy/ui"
)

func newRepoCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repo",
		Short: "Manage registered repositories",
	}
	cmd.AddCommand(newRepoAddCommand(), newRepoListCommand(), newRepoRemoveCommand())
	return cmd
}

func newRepoAddCommand() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "add [path]",
		Short: "Register a repository",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				repo, err := a.resolveRepo(ctx, optionalArg(args))
				if err != nil {
					return err
				}
				if name = strings.TrimSpace(name); name != "" && name != repo.DisplayName {
					if err := a.store.UpdateRepoDisplayName(ctx, repo.ID, name); err != nil {
						return err
					}
					repo.DisplayName = name
				}
				fmt.Fprintf(cmd.OutOrStdout(), "added %s (%s)\n", repo.DisplayName, repo.Path)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Display name for the repository")
	return cmd
}

func newRepoListCommand() *cobra.Command {
	var recent bool
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered repositories, most recently opened first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				repos, err := a.store.Repos(ctx)
				if err != nil {
					return err
				}
				if recent && len(repos) > model.MaxRecentRepos {
					repos = repos[:model.MaxRecentRepos]
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), repos)
				}
				printRepos(cmd.OutOrStdout(), repos, time.Now())
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&recent, "recent", false, "Only show the most recent repositories")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

func printRepos(w io.Writer, repos []model.Repo, now time.Time) {
	if len(repos) == 0 {
		fmt.Fprintln(w, "No repositories registered. Run: canopy repo add [path]")
		return
	}
	for _, r := range repos {
		fmt.Fprintf(w, "%4d  %s %s  %s\n",
			r.ID,
			ui.PadOrTrim(r.DisplayName, 24),
			ui.PadOrTrim(ui.RelativeAge(r.LastOpened, now), 16),
			r.Path,
		)
	}
}

func newRepoRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id|path>",
		Short: "Forget a repository and its branch records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				repo, err := findRepo(ctx, a, args[0])
				if err != nil {
					return err
				}
				if err := a.store.RemoveRepo(ctx, repo.ID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", repo.DisplayName)
				return nil
			})
		},
	}
}

// findRepo looks a registered repo up by id or path without registering
// anything.
func findRepo(ctx context.Context, a *app, ref string) (model.Repo, error) {
	ref = strings.TrimSpace(ref)
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		repo, err := a.store.Repo(ctx, id)
		if err != nil {
			return model.Repo{}, err
		}
		if repo == nil {
			return model.Repo{}, fmt.Errorf("no repository with id %d", id)
		}
		return *repo, nil
	}
	abs, err := filepath.Abs(ref)
	if err != nil {
		return model.Repo{}, err
	}
	repos, err := a.store.Repos(ctx)
	if err != nil {
		return model.Repo{}, err
	}
	for _, r := range repos {
		if r.Path == abs {
			return r, nil
		}
	}
	return model.Repo{}, fmt.Errorf("repository not registered: %s", abs)
}

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/mrbonezy/canopy/config"
	"github.com/mrbonezy/canopy/debug"
	"github.com/mrbonezy/canopy/model"
	"github.com/mrbonezy/canopy/server"
	"github.com/mrbonezy/canopy/tree"
	"github.com/mrbonezy/canopy/ui"
	"github.com/mrbonezy/canopy/watch"
)

func newRootCommand(args []string) *cobra.Command {
	var showVersion bool
	var noColor bool
	root := &cobra.Command{
		Use:           "canopy",
		Short:         "Track local git branches as a tree",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			ui.ConfigureColor(noColor || colorDisabled())
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if showVersion {
				fmt.Fprintln(cmd.OutOrStdout(), currentVersion())
				return nil
			}
			return runDefault(cmd)
		},
	}
	root.Flags().BoolVarP(&showVersion, "version", "v", false, "Print canopy version and exit")
	root.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	root.AddCommand(
		newTreeCommand(),
		newRefreshCommand(),
		newWatchCommand(),
		newServeCommand(),
		newRepoCommand(),
		newBranchCommand(),
		newTokenCommand(),
		newConfigCommand(),
	)

	if len(args) > 1 {
		root.SetArgs(args[1:])
	}
	return root
}

// withApp opens the services, runs fn and closes them again.
func withApp(ctx context.Context, fn func(ctx context.Context, a *app) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func optionalArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// parseStatusList accepts a comma-separated list of statuses in either
// stored or dashed form.
func parseStatusList(raw string) (map[model.BranchStatus]bool, error) {
	out := map[model.BranchStatus]bool{}
	for _, part := range strings.Split(raw, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		status, ok := model.ParseBranchStatus(part)
		if !ok {
			return nil, fmt.Errorf("unknown status %q", strings.TrimSpace(part))
		}
		out[status] = true
	}
	return out, nil
}

func newTreeCommand() *cobra.Command {
	var search string
	var exclude string
	var fuzzyMatch bool
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "tree [path]",
		Short: "Refresh and print the branch tree",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			excluded, err := parseStatusList(exclude)
			if err != nil {
				return err
			}
			opts := tree.FilterOptions{Query: search, Excluded: excluded, Fuzzy: fuzzyMatch}
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				built, err := buildTree(ctx, a, optionalArg(args), opts)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), built)
				}
				rows := ui.BuildTreeRows(built, time.Now())
				fmt.Fprint(cmd.OutOrStdout(), ui.RenderTree(rows, -1, ui.DefaultStyles()))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&search, "search", "", "Only show branches whose name matches")
	cmd.Flags().StringVar(&exclude, "exclude", "", "Comma-separated statuses to hide")
	cmd.Flags().BoolVar(&fuzzyMatch, "fuzzy", false, "Use fuzzy matching for --search")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the tree as JSON")
	return cmd
}

func buildTree(ctx context.Context, a *app, path string, opts tree.FilterOptions) (tree.Result, error) {
	repo, err := a.resolveRepo(ctx, path)
	if err != nil {
		return tree.Result{}, err
	}
	res, err := a.refresher.Refresh(ctx, repo.Path, repo.ID)
	if err != nil {
		return tree.Result{}, err
	}
	built := tree.Build(tree.FromRefresh(res))
	built.Tree = tree.Filter(built.Tree, opts)
	built.Untracked = tree.Filter(built.Untracked, opts)
	return built, nil
}

func newRefreshCommand() *cobra.Command {
	var fetch bool
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "refresh [path]",
		Short: "Reconcile branch records and PR cache with the repository",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				repo, err := a.resolveRepo(ctx, optionalArg(args))
				if err != nil {
					return err
				}
				if fetch {
					p := startProgress("Fetching origin...", fetchSpinnerDelay)
					err := a.git.Fetch(ctx, repo.Path, "origin")
					p.Stop()
					if err != nil {
						a.warn.Printf("%v", err)
					}
				}
				res, err := a.refresher.Refresh(ctx, repo.Path, repo.ID)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), res)
				}
				printRefreshSummary(cmd.OutOrStdout(), repo, res)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&fetch, "fetch", false, "Fetch origin before refreshing")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the refresh result as JSON")
	return cmd
}

func printRefreshSummary(w io.Writer, repo model.Repo, res *model.RefreshResult) {
	fmt.Fprintf(w, "%s: %d branches, %d tracked, %d pull requests\n",
		repo.DisplayName, len(res.Branches), len(res.Records), len(res.PRCache))
	if res.DefaultBranch != "" {
		fmt.Fprintf(w, "default branch: %s\n", res.DefaultBranch)
	}
	if res.RemoteInfo != nil {
		fmt.Fprintf(w, "remote: %s\n", res.RemoteInfo)
	}
}

func newWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch [path]",
		Short: "Reprint the tree whenever local refs change",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withApp(ctx, func(ctx context.Context, a *app) error {
				return runWatch(ctx, a, optionalArg(args), cmd.OutOrStdout())
			})
		},
	}
}

func runWatch(ctx context.Context, a *app, path string, out io.Writer) error {
	repo, err := a.resolveRepo(ctx, path)
	if err != nil {
		return err
	}
	w, err := watch.New(repo.Path, watch.WithOnError(func(err error) {
		a.warn.Printf("watch: %v", err)
	}))
	if err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		return err
	}
	defer w.Stop()

	render := func() {
		built, err := buildTree(ctx, a, repo.Path, tree.FilterOptions{})
		if err != nil {
			a.warn.Printf("refresh: %v", err)
			return
		}
		fmt.Fprintf(out, "\n%s  %s\n", repo.DisplayName, time.Now().Format("15:04:05"))
		fmt.Fprint(out, ui.RenderTree(ui.BuildTreeRows(built, time.Now()), -1, ui.DefaultStyles()))
	}
	render()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.Changed():
			debug.Log("watch: refs changed in %s", w.GitDir())
			render()
		}
	}
}

func newServeCommand() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the local JSON API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withApp(ctx, func(ctx context.Context, a *app) error {
				if port <= 0 {
					port = a.cfg.Port
				}
				srv := server.New(server.Deps{
					VCS:       a.git,
					Forge:     a.forge,
					Store:     a.store,
					Settings:  a.settings,
					Refresher: a.refresher,
					Logger:    a.warn,
				})
				addr := "127.0.0.1:" + strconv.Itoa(port)
				fmt.Fprintf(cmd.OutOrStdout(), "canopy listening on http://%s\n", addr)
				return srv.ListenAndServe(ctx, addr)
			})
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "Port to listen on (default from config)")
	return cmd
}

func newConfigCommand() *cobra.Command {
	var write bool
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			path, err := config.Path()
			if err != nil {
				return err
			}
			if write {
				if err := config.Save(cfg); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
				return nil
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config:        %s\n", path)
			fmt.Fprintf(out, "database:      %s\n", cfg.DBPath)
			fmt.Fprintf(out, "port:          %d\n", cfg.Port)
			fmt.Fprintf(out, "pr cache ttl:  %s\n", cfg.PRCacheTTL)
			fmt.Fprintf(out, "concurrency:   %d\n", cfg.Concurrency)
			fmt.Fprintf(out, "git:           %s\n", cfg.GitPath)
			if cfg.GitHubAPIURL != "" {
				fmt.Fprintf(out, "github api:    %s\n", cfg.GitHubAPIURL)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&write, "write", false, "Write the effective configuration to the config file")
	return cmd
}

func runDefault(cmd *cobra.Command) error {
	if testModeEnabled() {
		fmt.Fprintln(cmd.OutOrStdout(), "canopy test mode: interactive UI bypassed")
		return nil
	}
	return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
		repo, err := a.resolveRepo(ctx, "")
		if err != nil {
			return err
		}
		p := tea.NewProgram(newTreeModel(ctx, a, repo), tea.WithAltScreen())
		_, err = p.Run()
		return err
	})
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/mrbonezy/canopy/model"
	"github.com/mrbonezy/canopy/tree"
	"github.com/mrbonezy/canopy/ui"
)

func newBranchCommand() *cobra.Command {
	var repoPath string
	cmd := &cobra.Command{
		Use:   "branch",
		Short: "Annotate branches of the current repository",
	}
	cmd.PersistentFlags().StringVar(&repoPath, "repo", "", "Repository path (default: current directory)")

	update := func(use string, short string, args cobra.PositionalArgs, fields func(args []string) (model.BranchFields, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  args,
			RunE: func(cmd *cobra.Command, args []string) error {
				f, err := fields(args)
				if err != nil {
					return err
				}
				return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
					rec, err := updateBranch(ctx, a, repoPath, args[0], f)
					if err != nil {
						return err
					}
					printRecord(cmd.OutOrStdout(), rec)
					return nil
				})
			},
		}
	}

	cmd.AddCommand(
		update("status <branch> <status>", "Set the branch status", cobra.ExactArgs(2), statusFields),
		update("note <branch> [text...]", "Set free-form notes; no text clears them", cobra.MinimumNArgs(1), func(args []string) (model.BranchFields, error) {
			text := strings.Join(args[1:], " ")
			return model.BranchFields{Notes: &text}, nil
		}),
		update("next <branch> [text...]", "Set the next step; no text clears it", cobra.MinimumNArgs(1), func(args []string) (model.BranchFields, error) {
			text := strings.Join(args[1:], " ")
			return model.BranchFields{NextStep: &text}, nil
		}),
		update("parent <branch> [parent]", "Override the inferred parent; no parent clears it", cobra.RangeArgs(1, 2), parentFields),
		update("blocker <branch> <pr|person|issue|none> [ref]", "Record what blocks the branch", cobra.RangeArgs(2, 3), blockerFields),
		newBranchShowCommand(&repoPath),
		newBranchDeleteCommand(&repoPath),
	)
	return cmd
}

func statusFields(args []string) (model.BranchFields, error) {
	status, ok := model.ParseBranchStatus(args[1])
	if !ok {
		names := make([]string, 0, len(model.BranchStatuses))
		for _, s := range model.BranchStatuses {
			names = append(names, string(s))
		}
		return model.BranchFields{}, fmt.Errorf("unknown status %q (want one of %s)", args[1], strings.Join(names, ", "))
	}
	return model.BranchFields{Status: &status}, nil
}

func parentFields(args []string) (model.BranchFields, error) {
	parent := ""
	if len(args) > 1 {
		parent = strings.TrimSpace(args[1])
	}
	if parent == args[0] {
		return model.BranchFields{}, errors.New("a branch cannot be its own parent")
	}
	return model.BranchFields{ManuallySetParent: &parent}, nil
}

// blockerFields maps "none" to clearing both blocker columns.
func blockerFields(args []string) (model.BranchFields, error) {
	kind := strings.ToLower(strings.TrimSpace(args[1]))
	if kind == "none" {
		empty := ""
		bt := model.BlockerType("")
		return model.BranchFields{BlockerType: &bt, BlockerRef: &empty}, nil
	}
	bt := model.BlockerType(kind)
	if !bt.Valid() {
		return model.BranchFields{}, fmt.Errorf("unknown blocker type %q (want pr, person, issue or none)", args[1])
	}
	if len(args) < 3 || strings.TrimSpace(args[2]) == "" {
		return model.BranchFields{}, fmt.Errorf("blocker %s needs a reference", kind)
	}
	ref := strings.TrimSpace(args[2])
	return model.BranchFields{BlockerType: &bt, BlockerRef: &ref}, nil
}

// updateBranch refuses to annotate branches that do not exist locally.
func updateBranch(ctx context.Context, a *app, repoPath string, name string, f model.BranchFields) (model.BranchRecord, error) {
	repo, err := a.resolveRepo(ctx, repoPath)
	if err != nil {
		return model.BranchRecord{}, err
	}
	branches, err := a.git.ListBranches(ctx, repo.Path)
	if err != nil {
		return model.BranchRecord{}, err
	}
	live := map[string]bool{}
	for _, b := range branches {
		live[b.Name] = true
	}
	if !live[name] {
		return model.BranchRecord{}, fmt.Errorf("no local branch %q", name)
	}
	if p := f.ManuallySetParent; p != nil && *p != "" && !live[*p] {
		return model.BranchRecord{}, fmt.Errorf("no local branch %q", *p)
	}
	return a.store.UpsertBranch(ctx, repo.ID, name, f)
}

func printRecord(w io.Writer, rec model.BranchRecord) {
	fmt.Fprintf(w, "%s: %s\n", rec.BranchName, rec.Status.Label())
	if rec.BlockerType != "" {
		fmt.Fprintf(w, "  blocked by %s %s\n", rec.BlockerType, rec.BlockerRef)
	}
	if rec.ManuallySetParent != "" {
		fmt.Fprintf(w, "  parent %s\n", rec.ManuallySetParent)
	}
	if rec.NextStep != "" {
		fmt.Fprintf(w, "  next: %s\n", rec.NextStep)
	}
	if rec.Notes != "" {
		fmt.Fprintf(w, "  notes: %s\n", rec.Notes)
	}
}

func newBranchShowCommand(repoPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show <branch>",
		Short: "Show a branch with its PR and recent commits",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				built, err := buildTree(ctx, a, *repoPath, tree.FilterOptions{})
				if err != nil {
					return err
				}
				var node *tree.Node
				tree.Walk(append(append([]*tree.Node{}, built.Tree...), built.Untracked...), func(n *tree.Node) {
					if n.Name() == args[0] {
						node = n
					}
				})
				if node == nil {
					return fmt.Errorf("no local branch %q", args[0])
				}
				repo, err := a.resolveRepo(ctx, *repoPath)
				if err != nil {
					return err
				}
				commits, err := a.git.Log(ctx, repo.Path, node.Name(), node.Parent, model.MaxCommitHistory)
				if err != nil {
					a.warn.Printf("log %s: %v", node.Name(), err)
				}
				fmt.Fprint(cmd.OutOrStdout(), ui.RenderBranchDetail(node, commits, time.Now(), ui.DefaultStyles()))
				return nil
			})
		},
	}
}

func newBranchDeleteCommand(repoPath *string) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete <branch>",
		Short: "Delete a merged local branch and hide its record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if !yes {
				if !isatty.IsTerminal(os.Stdin.Fd()) {
					return errors.New("refusing to delete without --yes when not interactive")
				}
				confirmed := false
				form := newConfirmForm("Delete "+name+"?", "Runs git branch -d; unmerged branches are kept.", &confirmed)
				if err := form.Run(); err != nil {
					return err
				}
				if !confirmed {
					fmt.Fprintln(cmd.OutOrStdout(), "Skipped delete.")
					return nil
				}
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				repo, err := a.resolveRepo(ctx, *repoPath)
				if err != nil {
					return err
				}
				if err := a.git.DeleteBranch(ctx, repo.Path, name); err != nil {
					return err
				}
				if err := a.store.SetBranchHidden(ctx, repo.ID, name, true); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", name)
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")
	return cmd
}

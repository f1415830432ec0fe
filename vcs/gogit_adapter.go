package vcs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/mrbonezy/canopy/model"
)

func openRepo(dir string) (*git.Repository, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, ErrNotARepository
	}
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{
		DetectDotGit:          true,
		EnableDotGitCommonDir: true,
	})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, ErrNotARepository
		}
		return nil, err
	}
	return repo, nil
}

// headBranch returns the branch HEAD points at, including an unborn one,
// or "HEAD" when detached.
func headBranch(repo *git.Repository) (string, error) {
	ref, err := repo.Reference(plumbing.HEAD, false)
	if err != nil {
		return "", err
	}
	if ref.Type() == plumbing.SymbolicReference {
		return ref.Target().Short(), nil
	}
	return "HEAD", nil
}

func upstreamName(bc *config.Branch) string {
	if bc == nil || strings.TrimSpace(bc.Remote) == "" {
		return ""
	}
	merge := bc.Merge.Short()
	if merge == "" {
		merge = bc.Name
	}
	if bc.Remote == "." {
		return merge
	}
	return bc.Remote + "/" + merge
}

// upstreamRef is the local ref that upstreamName points at.
func upstreamRef(bc *config.Branch) plumbing.ReferenceName {
	merge := bc.Merge.Short()
	if merge == "" {
		merge = bc.Name
	}
	if bc.Remote == "." {
		return plumbing.NewBranchReferenceName(merge)
	}
	return plumbing.NewRemoteReferenceName(bc.Remote, merge)
}

func (s *Service) CurrentBranch(_ context.Context, repoPath string) (string, error) {
	repo, err := openRepo(repoPath)
	if err != nil {
		return "", err
	}
	return headBranch(repo)
}

// ListBranches returns local branches sorted by name.
func (s *Service) ListBranches(_ context.Context, repoPath string) ([]model.Branch, error) {
	repo, err := openRepo(repoPath)
	if err != nil {
		return nil, err
	}
	current, err := headBranch(repo)
	if err != nil {
		return nil, err
	}
	cfg, err := repo.Config()
	if err != nil {
		return nil, err
	}
	iter, err := repo.Branches()
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	out := make([]model.Branch, 0, 16)
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		name := ref.Name().Short()
		b := model.Branch{
			Name:          name,
			IsCurrent:     name == current,
			LastCommitSHA: shortSHA(ref.Hash().String()),
		}
		if commit, cerr := repo.CommitObject(ref.Hash()); cerr == nil {
			b.LastCommitDate = commit.Committer.When
		}
		if up := upstreamName(cfg.Branches[name]); up != "" {
			b.HasUpstream = true
			b.UpstreamName = up
		}
		out = append(out, b)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Status reports ahead/behind against the configured upstream. IsDirty is
// only computed for the checked-out branch.
func (s *Service) Status(ctx context.Context, repoPath string, branch string) (model.SyncStatus, error) {
	var st model.SyncStatus
	repo, err := openRepo(repoPath)
	if err != nil {
		return st, err
	}
	cfg, err := repo.Config()
	if err != nil {
		return st, err
	}
	bc := cfg.Branches[branch]
	if up := upstreamName(bc); up != "" {
		st.HasUpstream = true
		// A gone upstream keeps HasUpstream with zero counts.
		if _, err := repo.Reference(upstreamRef(bc), true); err == nil {
			out, err := s.git(ctx, repoPath, "rev-list", "--left-right", "--count", branch+"..."+up)
			if err != nil {
				return st, err
			}
			st.Ahead, st.Behind, err = parseLeftRight(out)
			if err != nil {
				return st, err
			}
		}
	}
	current, err := headBranch(repo)
	if err != nil {
		return st, err
	}
	if current == branch {
		out, err := s.git(ctx, repoPath, "status", "--porcelain")
		if err != nil {
			return st, err
		}
		st.IsDirty = strings.TrimSpace(out) != ""
	}
	return st, nil
}

func parseLeftRight(out string) (int, int, error) {
	fields := strings.Fields(out)
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("unexpected rev-list output %q", strings.TrimSpace(out))
	}
	ahead, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, 0, err
	}
	behind, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, 0, err
	}
	return ahead, behind, nil
}

// Log lists up to limit commits reachable from branch but not from parent.
func (s *Service) Log(ctx context.Context, repoPath string, branch string, parent string, limit int) ([]model.Commit, error) {
	if limit <= 0 {
		limit = model.MaxCommitHistory
	}
	rangeSpec := branch
	if p := strings.TrimSpace(parent); p != "" {
		rangeSpec = p + ".." + branch
	}
	out, err := s.git(ctx, repoPath, "log", rangeSpec, "--max-count="+strconv.Itoa(limit), "--format=%H%x1f%s%x1f%an%x1f%aI", "--")
	if err != nil {
		return nil, err
	}
	commits := make([]model.Commit, 0, limit)
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		parts := strings.SplitN(line, "\x1f", 4)
		if len(parts) != 4 {
			continue
		}
		c := model.Commit{SHA: parts[0], Message: parts[1], Author: parts[2]}
		if when, perr := time.Parse(time.RFC3339, strings.TrimSpace(parts[3])); perr == nil {
			c.Date = when
		}
		commits = append(commits, c)
	}
	return commits, nil
}

// MergeBase returns the best common ancestor of a and b, or
// ErrNoCommonAncestor when the histories are unrelated or a revision does
// not resolve.
func (s *Service) MergeBase(_ context.Context, repoPath string, a string, b string) (string, error) {
	repo, err := openRepo(repoPath)
	if err != nil {
		return "", err
	}
	ca, err := resolveCommit(repo, a)
	if err != nil {
		return "", err
	}
	cb, err := resolveCommit(repo, b)
	if err != nil {
		return "", err
	}
	bases, err := ca.MergeBase(cb)
	if err != nil {
		return "", err
	}
	if len(bases) == 0 {
		return "", ErrNoCommonAncestor
	}
	return bases[0].Hash.String(), nil
}

func resolveCommit(repo *git.Repository, rev string) (*object.Commit, error) {
	hash, err := repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return nil, fmt.Errorf("%w: resolve %s: %v", ErrNoCommonAncestor, rev, err)
	}
	return repo.CommitObject(*hash)
}

// ValidateRepo reports whether folder is inside a git work tree and picks
// its default branch: main, then master, then the first branch by name.
func (s *Service) ValidateRepo(ctx context.Context, folder string) (model.RepoValidation, error) {
	info, err := os.Stat(folder)
	if err != nil || !info.IsDir() {
		return model.RepoValidation{IsRepo: false}, nil
	}
	repo, err := openRepo(folder)
	if err != nil {
		return model.RepoValidation{IsRepo: false}, nil
	}
	if _, err := repo.Worktree(); err != nil {
		return model.RepoValidation{IsRepo: false}, nil
	}
	branches, err := s.ListBranches(ctx, folder)
	if err != nil {
		return model.RepoValidation{IsRepo: true}, nil
	}
	return model.RepoValidation{IsRepo: true, DefaultBranch: defaultBranchOf(branches)}, nil
}

// TopLevel returns the root of the work tree that contains dir.
func (s *Service) TopLevel(dir string) (string, error) {
	repo, err := openRepo(dir)
	if err != nil {
		return "", err
	}
	wt, err := repo.Worktree()
	if err != nil {
		return "", ErrNotARepository
	}
	return wt.Filesystem.Root(), nil
}

func defaultBranchOf(branches []model.Branch) string {
	for _, want := range []string{"main", "master"} {
		for _, b := range branches {
			if b.Name == want {
				return want
			}
		}
	}
	if len(branches) > 0 {
		return branches[0].Name
	}
	return ""
}

// DeleteBranch runs a safe `git branch -d`, mapping git's refusals to
// ErrUnmergedChanges and ErrBranchNotFound.
func (s *Service) DeleteBranch(ctx context.Context, repoPath string, branch string) error {
	branch = strings.TrimSpace(branch)
	if branch == "" || strings.HasPrefix(branch, "-") {
		return fmt.Errorf("invalid branch name %q", branch)
	}
	_, err := s.git(ctx, repoPath, "branch", "-d", branch)
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "not fully merged"):
		return ErrUnmergedChanges
	case strings.Contains(msg, "not found"), strings.Contains(msg, "No such ref"):
		return ErrBranchNotFound
	default:
		return err
	}
}

// RemoteInfo resolves owner/repo from the origin remote. A missing origin
// or a non-GitHub URL yields nil without error.
func (s *Service) RemoteInfo(_ context.Context, repoPath string) (*model.RemoteInfo, error) {
	repo, err := openRepo(repoPath)
	if err != nil {
		return nil, err
	}
	remote, err := repo.Remote("origin")
	if err != nil {
		if errors.Is(err, git.ErrRemoteNotFound) {
			return nil, nil
		}
		return nil, err
	}
	cfg := remote.Config()
	if cfg == nil || len(cfg.URLs) == 0 {
		return nil, nil
	}
	info, ok := ParseGitHubRemote(cfg.URLs[0])
	if !ok {
		return nil, nil
	}
	return &info, nil
}

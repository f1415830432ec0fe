package server

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"

	"github.com/mrbonezy/canopy/model"
	"github.com/mrbonezy/canopy/settings"
	"github.com/mrbonezy/canopy/tree"
)

func (s *Server) channels() map[string]handlerFunc {
	return map[string]handlerFunc{
		"git:list-branches":      s.listBranches,
		"git:get-status":         s.getStatus,
		"git:get-log":            s.getLog,
		"git:get-merge-base":     s.getMergeBase,
		"git:get-current-branch": s.getCurrentBranch,
		"git:delete-branch":      s.deleteBranch,
		"git:validate-repo":      s.validateRepo,

		"github:get-pr-for-branch": s.getPRForBranch,
		"github:get-pr-by-number":  s.getPRByNumber,
		"github:get-issue":         s.getIssue,
		"github:check-token":       s.checkToken,
		"github:get-remote-info":   s.getRemoteInfo,

		"db:get-repos":                s.getRepos,
		"db:add-repo":                 s.addRepo,
		"db:remove-repo":              s.removeRepo,
		"db:update-repo-opened":       s.updateRepoOpened,
		"db:get-branch":               s.getBranch,
		"db:get-branches":             s.getBranches,
		"db:upsert-branch":            s.upsertBranch,
		"db:set-branch-hidden":        s.setBranchHidden,
		"db:upsert-pr-cache":          s.upsertPRCache,
		"db:get-cached-pr":            s.getCachedPR,
		"db:update-repo-display-name": s.updateRepoDisplayName,

		"app:get-settings":       s.getSettings,
		"app:save-settings":      s.saveSettings,
		"app:save-github-token":  s.saveGitHubToken,
		"app:clear-github-token": s.clearGitHubToken,
		"app:has-github-token":   s.hasGitHubToken,
		"app:reset-data":         s.resetData,
		"app:refresh":            s.refresh,
		"app:refresh-branch":     s.refreshBranch,
		"app:tree":               s.tree,
	}
}

// git

func (s *Server) listBranches(ctx context.Context, b body) (any, error) {
	repoPath, err := b.str("repoPath")
	if err != nil {
		return nil, err
	}
	return s.deps.VCS.ListBranches(ctx, repoPath)
}

func (s *Server) getStatus(ctx context.Context, b body) (any, error) {
	repoPath, err := b.str("repoPath")
	if err != nil {
		return nil, err
	}
	branch, err := b.str("branch")
	if err != nil {
		return nil, err
	}
	return s.deps.VCS.Status(ctx, repoPath, branch)
}

func (s *Server) getLog(ctx context.Context, b body) (any, error) {
	repoPath, err := b.str("repoPath")
	if err != nil {
		return nil, err
	}
	branch, err := b.str("branch")
	if err != nil {
		return nil, err
	}
	limit := model.MaxCommitHistory
	if b.has("limit") {
		if limit, err = b.int("limit"); err != nil {
			return nil, err
		}
	}
	return s.deps.VCS.Log(ctx, repoPath, branch, b.optStr("parentBranch"), limit)
}

func (s *Server) getMergeBase(ctx context.Context, b body) (any, error) {
	repoPath, err := b.str("repoPath")
	if err != nil {
		return nil, err
	}
	branchA, err := b.str("branchA")
	if err != nil {
		return nil, err
	}
	branchB, err := b.str("branchB")
	if err != nil {
		return nil, err
	}
	return s.deps.VCS.MergeBase(ctx, repoPath, branchA, branchB)
}

func (s *Server) getCurrentBranch(ctx context.Context, b body) (any, error) {
	repoPath, err := b.str("repoPath")
	if err != nil {
		return nil, err
	}
	return s.deps.VCS.CurrentBranch(ctx, repoPath)
}

// deleteBranch hides the record when repoId is given and git agreed.
func (s *Server) deleteBranch(ctx context.Context, b body) (any, error) {
	repoPath, err := b.str("repoPath")
	if err != nil {
		return nil, err
	}
	branch, err := b.str("branch")
	if err != nil {
		return nil, err
	}
	if err := s.deps.VCS.DeleteBranch(ctx, repoPath, branch); err != nil {
		return nil, err
	}
	if b.has("repoId") {
		repoID, err := b.int64("repoId")
		if err != nil {
			return nil, err
		}
		if err := s.deps.Store.SetBranchHidden(ctx, repoID, branch, true); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func (s *Server) validateRepo(ctx context.Context, b body) (any, error) {
	folder, err := b.str("folderPath")
	if err != nil {
		return nil, err
	}
	return s.deps.VCS.ValidateRepo(ctx, folder)
}

// github

func ownerRepo(b body) (string, string, error) {
	owner, err := b.str("owner")
	if err != nil {
		return "", "", err
	}
	repo, err := b.str("repo")
	if err != nil {
		return "", "", err
	}
	return owner, repo, nil
}

func (s *Server) getPRForBranch(ctx context.Context, b body) (any, error) {
	owner, repo, err := ownerRepo(b)
	if err != nil {
		return nil, err
	}
	branch, err := b.str("branch")
	if err != nil {
		return nil, err
	}
	return s.deps.Forge.PRForBranch(ctx, owner, repo, branch)
}

func (s *Server) getPRByNumber(ctx context.Context, b body) (any, error) {
	owner, repo, err := ownerRepo(b)
	if err != nil {
		return nil, err
	}
	number, err := b.int("prNumber")
	if err != nil {
		return nil, err
	}
	return s.deps.Forge.PRByNumber(ctx, owner, repo, number)
}

func (s *Server) getIssue(ctx context.Context, b body) (any, error) {
	owner, repo, err := ownerRepo(b)
	if err != nil {
		return nil, err
	}
	number, err := b.int("issueNumber")
	if err != nil {
		return nil, err
	}
	return s.deps.Forge.Issue(ctx, owner, repo, number)
}

func (s *Server) checkToken(ctx context.Context, _ body) (any, error) {
	return s.deps.Forge.CheckToken(ctx)
}

func (s *Server) getRemoteInfo(ctx context.Context, b body) (any, error) {
	repoPath, err := b.str("repoPath")
	if err != nil {
		return nil, err
	}
	return s.deps.VCS.RemoteInfo(ctx, repoPath)
}

// db

// getRepos returns every repo, or only the most recent ones when recent is
// true.
func (s *Server) getRepos(ctx context.Context, b body) (any, error) {
	repos, err := s.deps.Store.Repos(ctx)
	if err != nil {
		return nil, err
	}
	if recent, _ := b.bool("recent"); recent && len(repos) > model.MaxRecentRepos {
		repos = repos[:model.MaxRecentRepos]
	}
	return repos, nil
}

func (s *Server) addRepo(ctx context.Context, b body) (any, error) {
	path, err := b.str("path")
	if err != nil {
		return nil, err
	}
	validation, err := s.deps.VCS.ValidateRepo(ctx, path)
	if err != nil {
		return nil, err
	}
	if !validation.IsRepo {
		return nil, fmt.Errorf("not a git repository: %s", path)
	}
	repo, err := s.deps.Store.AddRepo(ctx, path)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(b.optStr("displayName"))
	if name != "" && name != repo.DisplayName && repo.DisplayName == filepath.Base(repo.Path) {
		if err := s.deps.Store.UpdateRepoDisplayName(ctx, repo.ID, name); err != nil {
			return nil, err
		}
		repo.DisplayName = name
	}
	return repo, nil
}

func (s *Server) removeRepo(ctx context.Context, b body) (any, error) {
	repoID, err := b.int64("repoId")
	if err != nil {
		return nil, err
	}
	return nil, s.deps.Store.RemoveRepo(ctx, repoID)
}

func (s *Server) updateRepoOpened(ctx context.Context, b body) (any, error) {
	repoID, err := b.int64("repoId")
	if err != nil {
		return nil, err
	}
	return nil, s.deps.Store.TouchRepoOpened(ctx, repoID)
}

func (s *Server) getBranch(ctx context.Context, b body) (any, error) {
	repoID, err := b.int64("repoId")
	if err != nil {
		return nil, err
	}
	name, err := b.str("branchName")
	if err != nil {
		return nil, err
	}
	return s.deps.Store.Branch(ctx, repoID, name)
}

func (s *Server) getBranches(ctx context.Context, b body) (any, error) {
	repoID, err := b.int64("repoId")
	if err != nil {
		return nil, err
	}
	return s.deps.Store.Branches(ctx, repoID)
}

// upsertBranch distinguishes a null field (clear it) from an absent one
// (leave it alone).
func (s *Server) upsertBranch(ctx context.Context, b body) (any, error) {
	repoID, err := b.int64("repoId")
	if err != nil {
		return nil, err
	}
	name, err := b.str("branchName")
	if err != nil {
		return nil, err
	}
	fields := body{}
	if raw, ok := b["fields"]; ok && string(raw) != "null" {
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("invalid field %q: %w", "fields", err)
		}
	}
	f, err := branchFields(fields)
	if err != nil {
		return nil, err
	}
	return s.deps.Store.UpsertBranch(ctx, repoID, name, f)
}

func branchFields(fields body) (model.BranchFields, error) {
	var f model.BranchFields
	text := func(key string) (*string, error) {
		raw, ok := fields[key]
		if !ok {
			return nil, nil
		}
		v := ""
		if string(raw) != "null" {
			if err := json.Unmarshal(raw, &v); err != nil {
				return nil, fmt.Errorf("invalid field %q: %w", key, err)
			}
		}
		return &v, nil
	}
	var err error
	var status, blocker *string
	if status, err = text("status"); err != nil {
		return f, err
	}
	if status != nil {
		parsed, ok := model.ParseBranchStatus(*status)
		if !ok {
			return f, fmt.Errorf("invalid status %q", *status)
		}
		f.Status = &parsed
	}
	if blocker, err = text("blockerType"); err != nil {
		return f, err
	}
	if blocker != nil {
		bt := model.BlockerType(*blocker)
		f.BlockerType = &bt
	}
	if f.BlockerRef, err = text("blockerRef"); err != nil {
		return f, err
	}
	if f.NextStep, err = text("nextStep"); err != nil {
		return f, err
	}
	if f.Notes, err = text("notes"); err != nil {
		return f, err
	}
	if f.ManuallySetParent, err = text("manuallySetParent"); err != nil {
		return f, err
	}
	return f, nil
}

func (s *Server) setBranchHidden(ctx context.Context, b body) (any, error) {
	repoID, err := b.int64("repoId")
	if err != nil {
		return nil, err
	}
	name, err := b.str("branchName")
	if err != nil {
		return nil, err
	}
	hidden, err := b.bool("hidden")
	if err != nil {
		return nil, err
	}
	return nil, s.deps.Store.SetBranchHidden(ctx, repoID, name, hidden)
}

func (s *Server) upsertPRCache(ctx context.Context, b body) (any, error) {
	repoID, err := b.int64("repoId")
	if err != nil {
		return nil, err
	}
	var entry model.PRCacheEntry
	if err := b.decode("data", &entry); err != nil {
		return nil, err
	}
	if entry.BranchName == "" || entry.PRNumber <= 0 {
		return nil, errors.New("cache entry needs a branch name and PR number")
	}
	return nil, s.deps.Store.UpsertPRCache(ctx, repoID, entry)
}

func (s *Server) getCachedPR(ctx context.Context, b body) (any, error) {
	repoID, err := b.int64("repoId")
	if err != nil {
		return nil, err
	}
	name, err := b.str("branchName")
	if err != nil {
		return nil, err
	}
	return s.deps.Store.CachedPR(ctx, repoID, name)
}

func (s *Server) updateRepoDisplayName(ctx context.Context, b body) (any, error) {
	repoID, err := b.int64("repoId")
	if err != nil {
		return nil, err
	}
	name, err := b.str("displayName")
	if err != nil {
		return nil, err
	}
	return nil, s.deps.Store.UpdateRepoDisplayName(ctx, repoID, name)
}

// app

func (s *Server) getSettings(ctx context.Context, _ body) (any, error) {
	return s.deps.Settings.App(ctx)
}

func (s *Server) saveSettings(ctx context.Context, b body) (any, error) {
	raw, ok := b["settings"]
	if !ok {
		return nil, fmt.Errorf("missing field %q", "settings")
	}
	return s.deps.Settings.SaveApp(ctx, raw)
}

func (s *Server) saveGitHubToken(ctx context.Context, b body) (any, error) {
	token, err := b.str("token")
	if err != nil {
		return nil, err
	}
	if err := s.deps.Settings.SaveToken(ctx, token); err != nil {
		return nil, err
	}
	return nil, s.reloadToken(ctx)
}

func (s *Server) clearGitHubToken(ctx context.Context, _ body) (any, error) {
	if err := s.deps.Settings.ClearToken(ctx); err != nil {
		return nil, err
	}
	return nil, s.reloadToken(ctx)
}

type tokenState struct {
	HasToken bool              `json:"hasToken"`
	Status   model.TokenStatus `json:"status"`
}

func (s *Server) hasGitHubToken(ctx context.Context, _ body) (any, error) {
	status, err := s.deps.Settings.TokenStatus(ctx)
	if err != nil {
		return nil, err
	}
	return tokenState{HasToken: status == model.TokenValid, Status: status}, nil
}

func (s *Server) resetData(ctx context.Context, _ body) (any, error) {
	if err := s.deps.Store.Reset(ctx); err != nil {
		return nil, err
	}
	if err := s.deps.Settings.ResetData(ctx); err != nil {
		return nil, err
	}
	return nil, s.reloadToken(ctx)
}

// reloadToken points the forge client at the current credential. A
// corrupted secret disconnects it.
func (s *Server) reloadToken(ctx context.Context) error {
	token, err := s.deps.Settings.Token(ctx)
	if errors.Is(err, settings.ErrCorruptedSecret) {
		s.logger.Printf("github token: %v", err)
		token = ""
	} else if err != nil {
		return err
	}
	return s.deps.Forge.Reinitialize(token)
}

func repoArgs(b body) (string, int64, error) {
	repoPath, err := b.str("repoPath")
	if err != nil {
		return "", 0, err
	}
	repoID, err := b.int64("repoId")
	if err != nil {
		return "", 0, err
	}
	return repoPath, repoID, nil
}

func (s *Server) refresh(ctx context.Context, b body) (any, error) {
	repoPath, repoID, err := repoArgs(b)
	if err != nil {
		return nil, err
	}
	return s.deps.Refresher.Refresh(ctx, repoPath, repoID)
}

func (s *Server) refreshBranch(ctx context.Context, b body) (any, error) {
	repoPath, repoID, err := repoArgs(b)
	if err != nil {
		return nil, err
	}
	name, err := b.str("branchName")
	if err != nil {
		return nil, err
	}
	return s.deps.Refresher.RefreshBranch(ctx, repoPath, repoID, name)
}

// tree refreshes, builds the branch tree and applies the optional search
// and status filters.
func (s *Server) tree(ctx context.Context, b body) (any, error) {
	repoPath, repoID, err := repoArgs(b)
	if err != nil {
		return nil, err
	}
	res, err := s.deps.Refresher.Refresh(ctx, repoPath, repoID)
	if err != nil {
		return nil, err
	}
	built := tree.Build(tree.FromRefresh(res))
	opts := tree.FilterOptions{Query: b.optStr("search")}
	if b.has("fuzzy") {
		if opts.Fuzzy, err = b.bool("fuzzy"); err != nil {
			return nil, err
		}
	}
	if b.has("excludeStatuses") {
		var excluded []string
		if err := b.decode("excludeStatuses", &excluded); err != nil {
			return nil, err
		}
		opts.Excluded = map[model.BranchStatus]bool{}
		for _, raw := range excluded {
			status, ok := model.ParseBranchStatus(raw)
			if !ok {
				return nil, fmt.Errorf("invalid status %q", raw)
			}
			opts.Excluded[status] = true
		}
	}
	built.Tree = tree.Filter(built.Tree, opts)
	built.Untracked = tree.Filter(built.Untracked, opts)
	return built, nil
}

// Package refresh reconciles the live git branches of a repository with the
// stored branch records and the GitHub PR cache.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mrbonezy/canopy/debug"
	"github.com/mrbonezy/canopy/model"
)

const (
	DefaultPRCacheTTL  = 5 * time.Minute
	DefaultConcurrency = 16
)

var (
	ErrUnknownBranch = errors.New("branch not found in the repository")
	ErrNoRecord      = errors.New("no record found for branch")
)

type VCS interface {
	ListBranches(ctx context.Context, repoPath string) ([]model.Branch, error)
	CurrentBranch(ctx context.Context, repoPath string) (string, error)
	Status(ctx context.Context, repoPath string, branch string) (model.SyncStatus, error)
	MergeBase(ctx context.Context, repoPath string, a string, b string) (string, error)
	RemoteInfo(ctx context.Context, repoPath string) (*model.RemoteInfo, error)
}

type CodeHost interface {
	Connected() bool
	PRForBranch(ctx context.Context, owner string, repo string, branch string) (*model.PRData, error)
}

type Store interface {
	Repo(ctx context.Context, id int64) (*model.Repo, error)
	UpdateRepoDisplayName(ctx context.Context, id int64, name string) error
	Branch(ctx context.Context, repoID int64, name string) (*model.BranchRecord, error)
	Branches(ctx context.Context, repoID int64) ([]model.BranchRecord, error)
	AllBranches(ctx context.Context, repoID int64) ([]model.BranchRecord, error)
	UpsertBranch(ctx context.Context, repoID int64, name string, f model.BranchFields) (model.BranchRecord, error)
	SetBranchHidden(ctx context.Context, repoID int64, name string, hidden bool) error
	TouchLastSeen(ctx context.Context, repoID int64, names []string) error
	CachedPR(ctx context.Context, repoID int64, branch string) (*model.PRCacheEntry, error)
	UpsertPRCache(ctx context.Context, repoID int64, e model.PRCacheEntry) error
}

type Orchestrator struct {
	vcs         VCS
	host        CodeHost
	store       Store
	ttl         time.Duration
	concurrency int
	now         func() time.Time
	logger      *log.Logger
}

type Option func(*Orchestrator)

func WithPRCacheTTL(ttl time.Duration) Option {
	return func(o *Orchestrator) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithLogger receives degraded sub-failures (a branch status that could not
// be read, a PR fetch that fell back to the cache).
func WithLogger(l *log.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

func New(vcs VCS, host CodeHost, store Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		vcs:         vcs,
		host:        host,
		store:       store,
		ttl:         DefaultPRCacheTTL,
		concurrency: DefaultConcurrency,
		now:         time.Now,
		logger:      log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Refresh runs the git scan, reconciles records, syncs PRs and derives
// statuses. Only listing branches, reading HEAD and reading records are
// fatal; everything else degrades per branch.
func (o *Orchestrator) Refresh(ctx context.Context, repoPath string, repoID int64) (*model.RefreshResult, error) {
	defer debug.LogEnterExit("refresh " + repoPath)()

	start := time.Now()
	scan, err := o.scan(ctx, repoPath)
	if err != nil {
		return nil, err
	}
	debug.LogTiming("refresh.scan", time.Since(start))

	start = time.Now()
	records, err := o.reconcile(ctx, repoID, scan.branches)
	if err != nil {
		return nil, err
	}
	debug.LogTiming("refresh.reconcile", time.Since(start))

	start = time.Now()
	remote := o.remoteInfo(ctx, repoPath)
	if remote != nil {
		o.updateDisplayName(ctx, repoID, *remote)
	}
	prCache, err := o.syncPRs(ctx, repoID, remote, scan.branches)
	if err != nil {
		return nil, err
	}
	debug.LogTiming("refresh.prs", time.Since(start))

	start = time.Now()
	records, err = o.deriveStatuses(ctx, repoID, records, prCache)
	if err != nil {
		return nil, err
	}
	debug.LogTiming("refresh.statuses", time.Since(start))

	return &model.RefreshResult{
		Branches:      scan.branches,
		CurrentBranch: scan.current,
		DefaultBranch: scan.root,
		Statuses:      scan.statuses,
		MergeBases:    scan.mergeBases,
		Records:       records,
		PRCache:       prCache,
		RemoteInfo:    remote,
	}, nil
}

type scanResult struct {
	branches   []model.Branch
	current    string
	root       string
	statuses   map[string]model.SyncStatus
	mergeBases map[string]string
}

func (o *Orchestrator) scan(ctx context.Context, repoPath string) (scanResult, error) {
	var res scanResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		branches, err := o.vcs.ListBranches(gctx, repoPath)
		if err != nil {
			return fmt.Errorf("list branches: %w", err)
		}
		res.branches = branches
		return nil
	})
	g.Go(func() error {
		current, err := o.vcs.CurrentBranch(gctx, repoPath)
		if err != nil {
			return fmt.Errorf("current branch: %w", err)
		}
		res.current = current
		return nil
	})
	if err := g.Wait(); err != nil {
		return scanResult{}, err
	}

	res.root = RootBranch(res.branches, res.current)
	statuses := make([]model.SyncStatus, len(res.branches))
	bases := make([]string, len(res.branches))

	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for i, b := range res.branches {
		g.Go(func() error {
			status, err := o.vcs.Status(gctx, repoPath, b.Name)
			if err != nil {
				o.logger.Printf("status %s: %v", b.Name, err)
				status = model.SyncStatus{}
			}
			statuses[i] = status
			if b.Name == res.root {
				return nil
			}
			base, err := o.vcs.MergeBase(gctx, repoPath, b.Name, res.root)
			if err != nil {
				debug.Log("merge-base %s %s: %v", b.Name, res.root, err)
				base = ""
			}
			bases[i] = base
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return scanResult{}, err
	}

	res.statuses = make(map[string]model.SyncStatus, len(res.branches))
	res.mergeBases = make(map[string]string, len(res.branches))
	for i, b := range res.branches {
		res.statuses[b.Name] = statuses[i]
		if b.Name != res.root {
			res.mergeBases[b.Name] = bases[i]
		}
	}
	return res, nil
}

// RootBranch is main or master when live, else the current branch.
func RootBranch(branches []model.Branch, current string) string {
	for _, candidate := range []string{"main", "master"} {
		for _, b := range branches {
			if b.Name == candidate {
				return candidate
			}
		}
	}
	return current
}

func (o *Orchestrator) reconcile(ctx context.Context, repoID int64, branches []model.Branch) ([]model.BranchRecord, error) {
	existing, err := o.store.AllBranches(ctx, repoID)
	if err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}
	known := make(map[string]model.BranchRecord, len(existing))
	for _, r := range existing {
		known[r.BranchName] = r
	}
	live := make(map[string]bool, len(branches))
	names := make([]string, 0, len(branches))
	active := model.StatusActive
	for _, b := range branches {
		live[b.Name] = true
		names = append(names, b.Name)
		if _, ok := known[b.Name]; ok {
			continue
		}
		if _, err := o.store.UpsertBranch(ctx, repoID, b.Name, model.BranchFields{Status: &active}); err != nil {
			return nil, fmt.Errorf("create record %s: %w", b.Name, err)
		}
	}
	if err := o.store.TouchLastSeen(ctx, repoID, names); err != nil {
		return nil, fmt.Errorf("touch last seen: %w", err)
	}
	for _, r := range existing {
		switch {
		case !live[r.BranchName] && !r.Hidden:
			err = o.store.SetBranchHidden(ctx, repoID, r.BranchName, true)
		case live[r.BranchName] && r.Hidden:
			err = o.store.SetBranchHidden(ctx, repoID, r.BranchName, false)
		default:
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("update visibility %s: %w", r.BranchName, err)
		}
	}
	records, err := o.store.Branches(ctx, repoID)
	if err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}
	return records, nil
}

func (o *Orchestrator) remoteInfo(ctx context.Context, repoPath string) *model.RemoteInfo {
	remote, err := o.vcs.RemoteInfo(ctx, repoPath)
	if err != nil {
		o.logger.Printf("remote info: %v", err)
		return nil
	}
	return remote
}

func (o *Orchestrator) updateDisplayName(ctx context.Context, repoID int64, remote model.RemoteInfo) {
	repo, err := o.store.Repo(ctx, repoID)
	if err != nil {
		o.logger.Printf("read repo %d: %v", repoID, err)
		return
	}
	if repo == nil || strings.Contains(repo.DisplayName, "/") {
		return
	}
	if err := o.store.UpdateRepoDisplayName(ctx, repoID, remote.String()); err != nil {
		o.logger.Printf("rename repo %d: %v", repoID, err)
	}
}

func (o *Orchestrator) syncPRs(ctx context.Context, repoID int64, remote *model.RemoteInfo, branches []model.Branch) (map[string]model.PRCacheEntry, error) {
	out := map[string]model.PRCacheEntry{}
	if remote == nil || o.host == nil || !o.host.Connected() {
		return out, nil
	}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for _, b := range branches {
		g.Go(func() error {
			entry := o.syncPR(gctx, repoID, *remote, b.Name)
			if entry != nil {
				mu.Lock()
				out[b.Name] = *entry
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// syncPR resolves one branch's PR: a fresh cache entry is reused, anything
// else is fetched, and a failed fetch falls back to whatever was cached.
func (o *Orchestrator) syncPR(ctx context.Context, repoID int64, remote model.RemoteInfo, branch string) *model.PRCacheEntry {
	cached, err := o.store.CachedPR(ctx, repoID, branch)
	if err != nil {
		o.logger.Printf("read cached PR %s: %v", branch, err)
		cached = nil
	}
	if Freshness(cached, o.now(), o.ttl) == CacheFresh {
		return cached
	}
	pr, err := o.host.PRForBranch(ctx, remote.Owner, remote.Repo, branch)
	if err != nil {
		o.logger.Printf("fetch PR %s: %v", branch, err)
		return cached
	}
	if pr == nil {
		return nil
	}
	entry := model.CacheEntryFor(branch, *pr, o.now().UTC())
	if err := o.store.UpsertPRCache(ctx, repoID, entry); err != nil {
		o.logger.Printf("cache PR %s: %v", branch, err)
	}
	return &entry
}

func (o *Orchestrator) deriveStatuses(ctx context.Context, repoID int64, records []model.BranchRecord, prCache map[string]model.PRCacheEntry) ([]model.BranchRecord, error) {
	changed := false
	for _, r := range records {
		entry, ok := prCache[r.BranchName]
		if !ok || !AutoManaged(r.Status) {
			continue
		}
		next, ok := DeriveStatus(entry)
		if !ok || next == r.Status {
			continue
		}
		if _, err := o.store.UpsertBranch(ctx, repoID, r.BranchName, model.BranchFields{Status: &next}); err != nil {
			return nil, fmt.Errorf("update status %s: %w", r.BranchName, err)
		}
		changed = true
	}
	if !changed {
		return records, nil
	}
	return o.store.Branches(ctx, repoID)
}

// RefreshBranch re-reads one live branch. It never changes the stored
// status.
func (o *Orchestrator) RefreshBranch(ctx context.Context, repoPath string, repoID int64, name string) (*model.BranchRefreshResult, error) {
	branches, err := o.vcs.ListBranches(ctx, repoPath)
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	var branch *model.Branch
	for i := range branches {
		if branches[i].Name == name {
			branch = &branches[i]
			break
		}
	}
	if branch == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBranch, name)
	}

	status, err := o.vcs.Status(ctx, repoPath, name)
	if err != nil {
		o.logger.Printf("status %s: %v", name, err)
		status = model.SyncStatus{}
	}

	record, err := o.store.Branch(ctx, repoID, name)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, fmt.Errorf("%w: %q", ErrNoRecord, name)
	}

	var pr *model.PRCacheEntry
	if o.host != nil && o.host.Connected() {
		if remote := o.remoteInfo(ctx, repoPath); remote != nil {
			pr = o.syncPR(ctx, repoID, *remote, name)
		}
	}
	return &model.BranchRefreshResult{Branch: *branch, Status: status, Record: *record, PR: pr}, nil
}

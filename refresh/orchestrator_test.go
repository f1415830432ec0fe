package refresh

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrbonezy/canopy/model"
	"github.com/mrbonezy/canopy/store"
	"github.com/mrbonezy/canopy/tree"
)

var errNoBase = errors.New("no common ancestor")

type fakeVCS struct {
	mu         sync.Mutex
	branches   []model.Branch
	current    string
	statuses   map[string]model.SyncStatus
	statusErr  map[string]error
	mergeBases map[string]string
	remote     *model.RemoteInfo
}

func (f *fakeVCS) set(current string, names ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = current
	f.branches = nil
	for _, n := range names {
		f.branches = append(f.branches, model.Branch{Name: n, IsCurrent: n == current, LastCommitSHA: "abc1234"})
	}
}

func (f *fakeVCS) ListBranches(context.Context, string) ([]model.Branch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Branch(nil), f.branches...), nil
}

func (f *fakeVCS) CurrentBranch(context.Context, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current, nil
}

func (f *fakeVCS) Status(_ context.Context, _ string, branch string) (model.SyncStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.statusErr[branch]; err != nil {
		return model.SyncStatus{}, err
	}
	return f.statuses[branch], nil
}

func (f *fakeVCS) MergeBase(_ context.Context, _ string, a string, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	base, ok := f.mergeBases[a]
	if !ok {
		return "", errNoBase
	}
	return base, nil
}

func (f *fakeVCS) RemoteInfo(context.Context, string) (*model.RemoteInfo, error) {
	return f.remote, nil
}

type fakeHost struct {
	mu        sync.Mutex
	connected bool
	prs       map[string]*model.PRData
	errs      map[string]error
	calls     map[string]int
}

func newFakeHost() *fakeHost {
	return &fakeHost{connected: true, prs: map[string]*model.PRData{}, errs: map[string]error{}, calls: map[string]int{}}
}

func (h *fakeHost) Connected() bool { return h.connected }

func (h *fakeHost) PRForBranch(_ context.Context, _ string, _ string, branch string) (*model.PRData, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls[branch]++
	if err := h.errs[branch]; err != nil {
		return nil, err
	}
	return h.prs[branch], nil
}

func (h *fakeHost) setPR(branch string, pr *model.PRData) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.prs[branch] = pr
}

func (h *fakeHost) callCount(branch string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls[branch]
}

type harness struct {
	vcs   *fakeVCS
	host  *fakeHost
	store *store.Store
	orch  *Orchestrator
	repo  model.Repo
	now   time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, filepath.Join(t.TempDir(), "canopy.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	repo, err := st.AddRepo(ctx, "/work/widget")
	require.NoError(t, err)

	h := &harness{
		vcs: &fakeVCS{
			statuses:   map[string]model.SyncStatus{},
			statusErr:  map[string]error{},
			mergeBases: map[string]string{},
			remote:     &model.RemoteInfo{Owner: "acme", Repo: "widget"},
		},
		host:  newFakeHost(),
		store: st,
		repo:  repo,
		now:   time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	h.orch = New(h.vcs, h.host, st, WithClock(func() time.Time { return h.now }), WithConcurrency(4))
	return h
}

func (h *harness) refresh(t *testing.T) *model.RefreshResult {
	t.Helper()
	res, err := h.orch.Refresh(context.Background(), h.repo.Path, h.repo.ID)
	require.NoError(t, err)
	return res
}

func (h *harness) record(t *testing.T, name string) *model.BranchRecord {
	t.Helper()
	rec, err := h.store.Branch(context.Background(), h.repo.ID, name)
	require.NoError(t, err)
	return rec
}

func recordNames(records []model.BranchRecord) []string {
	names := make([]string, 0, len(records))
	for _, r := range records {
		names = append(names, r.BranchName)
	}
	return names
}

func TestRefreshEndToEnd(t *testing.T) {
	h := newHarness(t)
	h.vcs.set("feat/auth", "feat/auth", "feat/auth/tests", "main", "orphan")
	h.vcs.mergeBases["feat/auth"] = "aaa"
	h.vcs.mergeBases["feat/auth/tests"] = "bbb"
	h.vcs.statuses["feat/auth"] = model.SyncStatus{Ahead: 2, HasUpstream: true}
	h.host.setPR("feat/auth", &model.PRData{Number: 7, Title: "Auth", State: model.PRStateOpen, HTMLURL: "https://github.com/acme/widget/pull/7"})

	res := h.refresh(t)

	assert.Equal(t, "feat/auth", res.CurrentBranch)
	assert.Equal(t, "main", res.DefaultBranch)
	assert.Equal(t, []string{"feat/auth", "feat/auth/tests", "main", "orphan"}, recordNames(res.Records))
	assert.Equal(t, 2, res.Statuses["feat/auth"].Ahead)
	assert.Equal(t, "", res.MergeBases["orphan"])
	_, hasRoot := res.MergeBases["main"]
	assert.False(t, hasRoot, "the root has no merge-base against itself")
	require.NotNil(t, res.RemoteInfo)
	assert.Equal(t, "acme/widget", res.RemoteInfo.String())
	require.Contains(t, res.PRCache, "feat/auth")
	assert.Equal(t, 7, res.PRCache["feat/auth"].PRNumber)
	assert.NotContains(t, res.PRCache, "orphan")

	for _, r := range res.Records {
		if r.BranchName == "feat/auth" {
			assert.Equal(t, model.StatusWaitingOnPR, r.Status)
		} else {
			assert.Equal(t, model.StatusActive, r.Status)
		}
	}

	built := tree.Build(tree.FromRefresh(res))
	require.Len(t, built.Tree, 1)
	root := built.Tree[0]
	assert.Equal(t, "main", root.Name())
	require.Len(t, root.Children, 1)
	auth := root.Children[0]
	assert.Equal(t, "feat/auth", auth.Name())
	require.NotNil(t, auth.PR)
	assert.Equal(t, "feat/auth", auth.PR.HeadBranch)
	require.Len(t, auth.Children, 1)
	assert.Equal(t, "feat/auth/tests", auth.Children[0].Name())
	assert.Equal(t, 2, auth.Children[0].Depth)
	require.Len(t, built.Untracked, 1)
	assert.Equal(t, "orphan", built.Untracked[0].Name())

	repo, err := h.store.Repo(context.Background(), h.repo.ID)
	require.NoError(t, err)
	assert.Equal(t, "acme/widget", repo.DisplayName)
}

func TestRefreshKeepsQualifiedDisplayName(t *testing.T) {
	h := newHarness(t)
	h.vcs.set("main", "main")
	require.NoError(t, h.store.UpdateRepoDisplayName(context.Background(), h.repo.ID, "me/custom"))

	h.refresh(t)

	repo, err := h.store.Repo(context.Background(), h.repo.ID)
	require.NoError(t, err)
	assert.Equal(t, "me/custom", repo.DisplayName)
}

func TestRootFallsBackToCurrentBranch(t *testing.T) {
	h := newHarness(t)
	h.vcs.set("trunk", "trunk", "topic")
	h.vcs.mergeBases["topic"] = "ccc"

	res := h.refresh(t)
	assert.Equal(t, "trunk", res.DefaultBranch)
	assert.Equal(t, "ccc", res.MergeBases["topic"])

	h.vcs.set("trunk", "master", "trunk")
	res = h.refresh(t)
	assert.Equal(t, "master", res.DefaultBranch)
}

func TestStatusFailureDegradesToZero(t *testing.T) {
	h := newHarness(t)
	h.vcs.set("main", "main", "broken")
	h.vcs.statusErr["broken"] = errors.New("bad revision")

	res := h.refresh(t)
	assert.Equal(t, model.SyncStatus{}, res.Statuses["broken"])
	assert.Contains(t, res.Statuses, "broken")
}

func TestPRCacheTTL(t *testing.T) {
	tests := []struct {
		name      string
		age       time.Duration
		wantCalls int
		wantTitle string
	}{
		{name: "four minutes old is fresh", age: 4 * time.Minute, wantCalls: 0, wantTitle: "cached"},
		{name: "six minutes old is refetched", age: 6 * time.Minute, wantCalls: 1, wantTitle: "live"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			h.vcs.set("main", "main", "feat")
			h.vcs.mergeBases["feat"] = "aaa"
			require.NoError(t, h.store.UpsertPRCache(ctx, h.repo.ID, model.PRCacheEntry{
				PRNumber: 3, BranchName: "feat", Title: "cached", State: model.PRStateOpen,
				FetchedAt: h.now.Add(-tt.age),
			}))
			h.host.setPR("feat", &model.PRData{Number: 3, Title: "live", State: model.PRStateOpen})

			res := h.refresh(t)
			assert.Equal(t, tt.wantCalls, h.host.callCount("feat"))
			assert.Equal(t, tt.wantTitle, res.PRCache["feat"].Title)

			stored, err := h.store.CachedPR(ctx, h.repo.ID, "feat")
			require.NoError(t, err)
			assert.Equal(t, tt.wantTitle, stored.Title)
		})
	}
}

func TestPRFetchFailureFallsBackToStaleCache(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.vcs.set("main", "main", "stale", "fresh-fail")
	h.vcs.mergeBases["stale"] = "aaa"
	h.vcs.mergeBases["fresh-fail"] = "bbb"
	require.NoError(t, h.store.UpsertPRCache(ctx, h.repo.ID, model.PRCacheEntry{
		PRNumber: 9, BranchName: "stale", Title: "old", State: model.PRStateOpen,
		FetchedAt: h.now.Add(-time.Hour),
	}))
	h.host.errs["stale"] = errors.New("rate limited")
	h.host.errs["fresh-fail"] = errors.New("rate limited")

	res := h.refresh(t)
	require.Contains(t, res.PRCache, "stale")
	assert.Equal(t, "old", res.PRCache["stale"].Title)
	assert.NotContains(t, res.PRCache, "fresh-fail")
}

func TestPRSyncSkippedWhenDisconnectedOrNoRemote(t *testing.T) {
	h := newHarness(t)
	h.vcs.set("main", "main", "feat")
	h.host.setPR("feat", &model.PRData{Number: 1, State: model.PRStateOpen})

	h.host.connected = false
	res := h.refresh(t)
	assert.Empty(t, res.PRCache)
	assert.Equal(t, 0, h.host.callCount("feat"))
	require.NotNil(t, res.RemoteInfo, "remote info is resolved without a token")

	h.host.connected = true
	h.vcs.remote = nil
	res = h.refresh(t)
	assert.Empty(t, res.PRCache)
	assert.Nil(t, res.RemoteInfo)
	assert.Equal(t, 0, h.host.callCount("feat"))
}

func TestSoftDeleteRoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.vcs.set("main", "main", "feat")
	h.refresh(t)

	notes := "keep me"
	_, err := h.store.UpsertBranch(ctx, h.repo.ID, "feat", model.BranchFields{Notes: &notes})
	require.NoError(t, err)

	h.vcs.set("main", "main")
	res := h.refresh(t)
	assert.Equal(t, []string{"main"}, recordNames(res.Records))
	assert.Nil(t, h.record(t, "feat"))

	all, err := h.store.AllBranches(ctx, h.repo.ID)
	require.NoError(t, err)
	require.Len(t, all, 2)

	h.vcs.set("main", "main", "feat")
	res = h.refresh(t)
	assert.Equal(t, []string{"feat", "main"}, recordNames(res.Records))
	rec := h.record(t, "feat")
	require.NotNil(t, rec)
	assert.False(t, rec.Hidden)
	assert.Equal(t, "keep me", rec.Notes)
}

func TestStatusAutoTransition(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.vcs.set("main", "main", "feat", "blocked", "closed", "draft")
	for _, b := range []string{"feat", "blocked", "closed", "draft"} {
		h.vcs.mergeBases[b] = "aaa"
	}
	h.host.setPR("feat", &model.PRData{Number: 1, State: model.PRStateOpen})
	h.host.setPR("blocked", &model.PRData{Number: 2, State: model.PRStateMerged})
	h.host.setPR("closed", &model.PRData{Number: 3, State: model.PRStateClosed})
	h.host.setPR("draft", &model.PRData{Number: 4, State: model.PRStateDraft})

	h.refresh(t)
	blocked := model.StatusBlockedByIssue
	_, err := h.store.UpsertBranch(ctx, h.repo.ID, "blocked", model.BranchFields{Status: &blocked})
	require.NoError(t, err)
	waiting := model.StatusWaitingOnPR
	_, err = h.store.UpsertBranch(ctx, h.repo.ID, "closed", model.BranchFields{Status: &waiting})
	require.NoError(t, err)

	assert.Equal(t, model.StatusWaitingOnPR, h.record(t, "feat").Status)
	assert.Equal(t, model.StatusActive, h.record(t, "draft").Status)

	// approval lands after the cache expires
	h.now = h.now.Add(10 * time.Minute)
	h.host.setPR("feat", &model.PRData{Number: 1, State: model.PRStateOpen, ReviewState: model.ReviewApproved})
	res := h.refresh(t)

	statuses := map[string]model.BranchStatus{}
	for _, r := range res.Records {
		statuses[r.BranchName] = r.Status
	}
	assert.Equal(t, model.StatusReadyToMerge, statuses["feat"])
	assert.Equal(t, model.StatusBlockedByIssue, statuses["blocked"], "manual statuses are never overwritten")
	assert.Equal(t, model.StatusWaitingOnPR, statuses["closed"], "closed PRs imply no change")
	assert.Equal(t, model.StatusActive, statuses["draft"])
	assert.Equal(t, model.StatusActive, statuses["main"])

	h.now = h.now.Add(10 * time.Minute)
	h.host.setPR("feat", &model.PRData{Number: 1, State: model.PRStateMerged})
	h.refresh(t)
	assert.Equal(t, model.StatusReadyToMerge, h.record(t, "feat").Status)
}

func TestRefreshBranch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.vcs.set("main", "main", "feat")
	h.vcs.statuses["feat"] = model.SyncStatus{Behind: 3, HasUpstream: true}
	h.refresh(t)

	h.vcs.set("main", "main", "feat", "brand-new")
	_, err := h.orch.RefreshBranch(ctx, h.repo.Path, h.repo.ID, "ghost")
	assert.ErrorIs(t, err, ErrUnknownBranch)
	_, err = h.orch.RefreshBranch(ctx, h.repo.Path, h.repo.ID, "brand-new")
	assert.ErrorIs(t, err, ErrNoRecord)

	h.host.setPR("feat", &model.PRData{Number: 5, State: model.PRStateOpen, ReviewState: model.ReviewApproved})
	res, err := h.orch.RefreshBranch(ctx, h.repo.Path, h.repo.ID, "feat")
	require.NoError(t, err)
	assert.Equal(t, "feat", res.Branch.Name)
	assert.Equal(t, 3, res.Status.Behind)
	require.NotNil(t, res.PR)
	assert.Equal(t, 5, res.PR.PRNumber)
	assert.Equal(t, model.StatusActive, res.Record.Status, "single-branch refresh leaves status alone")

	h.vcs.statusErr["feat"] = errors.New("boom")
	res, err = h.orch.RefreshBranch(ctx, h.repo.Path, h.repo.ID, "feat")
	require.NoError(t, err)
	assert.Equal(t, model.SyncStatus{}, res.Status)
	assert.Equal(t, 2, h.host.callCount("feat"), "second call reuses the fresh cache")
}

func TestRefreshHonorsCancellation(t *testing.T) {
	h := newHarness(t)
	h.vcs.set("main", "main", "feat")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.orch.Refresh(ctx, h.repo.Path, h.repo.ID)
	assert.ErrorIs(t, err, context.Canceled)
}

// Package model holds the types shared by the git, GitHub, storage and
// refresh layers of canopy.
package model

import (
	"strings"
	"time"
)

type BranchStatus string

const (
	StatusActive          BranchStatus = "active"
	StatusWaitingOnPR     BranchStatus = "waiting_on_pr"
	StatusWaitingOnPerson BranchStatus = "waiting_on_person"
	StatusBlockedByIssue  BranchStatus = "blocked_by_issue"
	StatusReadyToMerge    BranchStatus = "ready_to_merge"
	StatusStale           BranchStatus = "stale"
	StatusAbandoned       BranchStatus = "abandoned"
)

// BranchStatuses lists every status in display order.
var BranchStatuses = []BranchStatus{
	StatusActive,
	StatusWaitingOnPR,
	StatusWaitingOnPerson,
	StatusBlockedByIssue,
	StatusReadyToMerge,
	StatusStale,
	StatusAbandoned,
}

func (s BranchStatus) Valid() bool {
	for _, known := range BranchStatuses {
		if s == known {
			return true
		}
	}
	return false
}

func (s BranchStatus) Label() string {
	switch s {
	case StatusActive:
		return "Active"
	case StatusWaitingOnPR:
		return "Waiting on PR"
	case StatusWaitingOnPerson:
		return "Waiting on person"
	case StatusBlockedByIssue:
		return "Blocked by issue"
	case StatusReadyToMerge:
		return "Ready to merge"
	case StatusStale:
		return "Stale"
	case StatusAbandoned:
		return "Abandoned"
	default:
		return string(s)
	}
}

// ParseBranchStatus accepts either the stored form ("waiting_on_pr") or a
// dashed/spaced variant ("waiting-on-pr").
func ParseBranchStatus(raw string) (BranchStatus, bool) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	normalized = strings.NewReplacer("-", "_", " ", "_").Replace(normalized)
	s := BranchStatus(normalized)
	return s, s.Valid()
}

type BlockerType string

const (
	BlockerPR     BlockerType = "pr"
	BlockerPerson BlockerType = "person"
	BlockerIssue  BlockerType = "issue"
)

func (b BlockerType) Valid() bool {
	switch b {
	case BlockerPR, BlockerPerson, BlockerIssue:
		return true
	default:
		return false
	}
}

type PRState string

const (
	PRStateOpen   PRState = "open"
	PRStateClosed PRState = "closed"
	PRStateMerged PRState = "merged"
	PRStateDraft  PRState = "draft"
)

// ReviewState and ChecksState use the empty string for "unknown".
type ReviewState string

const (
	ReviewPending          ReviewState = "pending"
	ReviewChangesRequested ReviewState = "changes_requested"
	ReviewApproved         ReviewState = "approved"
)

type ChecksState string

const (
	ChecksPending ChecksState = "pending"
	ChecksSuccess ChecksState = "success"
	ChecksFailure ChecksState = "failure"
)

type TokenStatus string

const (
	TokenNone      TokenStatus = "none"
	TokenValid     TokenStatus = "valid"
	TokenCorrupted TokenStatus = "corrupted"
)

// Branch is a live local branch as reported by git. It is never persisted.
type Branch struct {
	Name           string    `json:"name"`
	IsCurrent      bool      `json:"isCurrent"`
	HasUpstream    bool      `json:"hasUpstream"`
	UpstreamName   string    `json:"upstreamName,omitempty"`
	LastCommitDate time.Time `json:"lastCommitDate"`
	LastCommitSHA  string    `json:"lastCommitSha"`
}

// SyncStatus is the ahead/behind position of a branch against its upstream.
// IsDirty is only meaningful for the checked-out branch.
type SyncStatus struct {
	Ahead       int  `json:"ahead"`
	Behind      int  `json:"behind"`
	HasUpstream bool `json:"hasUpstream"`
	IsDirty     bool `json:"isDirty"`
}

type Commit struct {
	SHA     string    `json:"sha"`
	Message string    `json:"message"`
	Author  string    `json:"author"`
	Date    time.Time `json:"date"`
}

type RepoValidation struct {
	IsRepo        bool   `json:"isRepo"`
	DefaultBranch string `json:"defaultBranch,omitempty"`
}

type RemoteInfo struct {
	Owner string `json:"owner"`
	Repo  string `json:"repo"`
}

func (r RemoteInfo) String() string {
	return r.Owner + "/" + r.Repo
}

type Repo struct {
	ID          int64     `json:"id"`
	Path        string    `json:"path"`
	DisplayName string    `json:"displayName"`
	LastOpened  time.Time `json:"lastOpened"`
	CreatedAt   time.Time `json:"createdAt"`
}

// BranchRecord is the persisted annotation for a (repo, branch) pair. Empty
// BlockerType, BlockerRef and ManuallySetParent mean "not set" and encode
// as JSON null (see record_json.go).
type BranchRecord struct {
	ID                int64        `json:"id"`
	RepoID            int64        `json:"repoId"`
	BranchName        string       `json:"branchName"`
	Status            BranchStatus `json:"status"`
	BlockerType       BlockerType  `json:"-"`
	BlockerRef        string       `json:"-"`
	NextStep          string       `json:"nextStep"`
	Notes             string       `json:"notes"`
	ManuallySetParent string       `json:"-"`
	LastSeen          time.Time    `json:"lastSeen"`
	Hidden            bool         `json:"hidden"`
	CreatedAt         time.Time    `json:"createdAt"`
	UpdatedAt         time.Time    `json:"updatedAt"`
}

// BranchFields is a partial update of a BranchRecord. A nil field is left
// untouched; a pointer to the empty value clears nullable columns.
type BranchFields struct {
	Status            *BranchStatus `json:"status,omitempty"`
	BlockerType       *BlockerType  `json:"blockerType,omitempty"`
	BlockerRef        *string       `json:"blockerRef,omitempty"`
	NextStep          *string       `json:"nextStep,omitempty"`
	Notes             *string       `json:"notes,omitempty"`
	ManuallySetParent *string       `json:"manuallySetParent,omitempty"`
}

func (f BranchFields) Empty() bool {
	return f.Status == nil && f.BlockerType == nil && f.BlockerRef == nil &&
		f.NextStep == nil && f.Notes == nil && f.ManuallySetParent == nil
}

type PRData struct {
	Number       int         `json:"number"`
	Title        string      `json:"title"`
	State        PRState     `json:"state"`
	ReviewState  ReviewState `json:"reviewState,omitempty"`
	ChecksState  ChecksState `json:"checksState,omitempty"`
	CommentCount int         `json:"commentCount"`
	HTMLURL      string      `json:"htmlUrl"`
	HeadBranch   string      `json:"headBranch"`
}

type IssueData struct {
	Number  int    `json:"number"`
	Title   string `json:"title"`
	State   string `json:"state"`
	HTMLURL string `json:"htmlUrl"`
}

type PRCacheEntry struct {
	PRNumber     int         `json:"prNumber"`
	BranchName   string      `json:"branchName"`
	Title        string      `json:"title"`
	State        PRState     `json:"state"`
	ReviewState  ReviewState `json:"reviewState,omitempty"`
	ChecksState  ChecksState `json:"checksState,omitempty"`
	CommentCount int         `json:"commentCount"`
	HTMLURL      string      `json:"htmlUrl"`
	FetchedAt    time.Time   `json:"fetchedAt"`
}

// PR rebuilds the code-host view of a cached entry. The cache is keyed by
// branch, so the head branch is the cached branch name.
func (e PRCacheEntry) PR() PRData {
	return PRData{
		Number:       e.PRNumber,
		Title:        e.Title,
		State:        e.State,
		ReviewState:  e.ReviewState,
		ChecksState:  e.ChecksState,
		CommentCount: e.CommentCount,
		HTMLURL:      e.HTMLURL,
		HeadBranch:   e.BranchName,
	}
}

// CacheEntryFor snapshots a fetched PR for the given branch.
func CacheEntryFor(branch string, pr PRData, fetchedAt time.Time) PRCacheEntry {
	return PRCacheEntry{
		PRNumber:     pr.Number,
		BranchName:   branch,
		Title:        pr.Title,
		State:        pr.State,
		ReviewState:  pr.ReviewState,
		ChecksState:  pr.ChecksState,
		CommentCount: pr.CommentCount,
		HTMLURL:      pr.HTMLURL,
		FetchedAt:    fetchedAt,
	}
}

type TokenCheck struct {
	Valid     bool       `json:"valid"`
	Login     string     `json:"login,omitempty"`
	Scopes    []string   `json:"scopes"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

type RefreshResult struct {
	Branches      []Branch                `json:"branches"`
	CurrentBranch string                  `json:"currentBranch"`
	DefaultBranch string                  `json:"defaultBranch"`
	Statuses      map[string]SyncStatus   `json:"statuses"`
	MergeBases    map[string]string       `json:"mergeBases"`
	Records       []BranchRecord          `json:"records"`
	PRCache       map[string]PRCacheEntry `json:"prCache"`
	RemoteInfo    *RemoteInfo             `json:"remoteInfo"`
}

type BranchRefreshResult struct {
	Branch Branch        `json:"branch"`
	Status SyncStatus    `json:"status"`
	Record BranchRecord  `json:"record"`
	PR     *PRCacheEntry `json:"pr"`
}

const (
	MaxRecentRepos   = 5
	MaxCommitHistory = 10
)

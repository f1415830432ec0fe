// Package forge talks to the GitHub REST API on behalf of canopy: pull
// requests by branch or number, issues, and token introspection.
package forge

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/go-github/v66/github"

	"github.com/mrbonezy/canopy/model"
)

// Client is safe for concurrent use. Reinitialize swaps the credential
// without invalidating callers that hold the Client.
type Client struct {
	mu         sync.RWMutex
	gh         *github.Client
	token      string
	baseURL    string
	httpClient *http.Client
}

type Option func(*Client)

// WithBaseURL points the client at a GitHub Enterprise or test server.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimSpace(u) }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func New(token string, opts ...Option) (*Client, error) {
	c := &Client{}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.Reinitialize(token); err != nil {
		return nil, err
	}
	return c, nil
}

// Reinitialize rebuilds the API client for token. An empty token leaves the
// client disconnected.
func (c *Client) Reinitialize(token string) error {
	token = strings.TrimSpace(token)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	if token == "" {
		c.gh = nil
		return nil
	}
	gh := github.NewClient(c.httpClient).WithAuthToken(token)
	if c.baseURL != "" {
		withBase, err := gh.WithEnterpriseURLs(c.baseURL, c.baseURL)
		if err != nil {
			return err
		}
		gh = withBase
	}
	c.gh = gh
	return nil
}

// Connected reports whether a credential is configured.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gh != nil
}

var errNotConnected = errors.New("github not connected")

func (c *Client) api() (*github.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.gh == nil {
		return nil, errNotConnected
	}
	return c.gh, nil
}

func isNotFound(err error) bool {
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		return ghErr.Response.StatusCode == http.StatusNotFound
	}
	return false
}

func isUnauthorized(err error) bool {
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		return ghErr.Response.StatusCode == http.StatusUnauthorized
	}
	return false
}

// PRForBranch returns the most recent PR whose head is owner:branch, in any
// state, or nil when there is none.
func (c *Client) PRForBranch(ctx context.Context, owner string, repo string, branch string) (*model.PRData, error) {
	gh, err := c.api()
	if err != nil {
		return nil, err
	}
	prs, _, err := gh.PullRequests.List(ctx, owner, repo, &github.PullRequestListOptions{
		State:       "all",
		Head:        owner + ":" + branch,
		ListOptions: github.ListOptions{PerPage: 1},
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if len(prs) == 0 {
		return nil, nil
	}
	return c.enrich(ctx, gh, owner, repo, prs[0])
}

func (c *Client) PRByNumber(ctx context.Context, owner string, repo string, number int) (*model.PRData, error) {
	gh, err := c.api()
	if err != nil {
		return nil, err
	}
	pr, _, err := gh.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return c.enrich(ctx, gh, owner, repo, pr)
}

// enrich adds review and check state. Those lookups are best-effort: a
// failure leaves the state unknown rather than failing the PR.
func (c *Client) enrich(ctx context.Context, gh *github.Client, owner string, repo string, pr *github.PullRequest) (*model.PRData, error) {
	data := &model.PRData{
		Number:       pr.GetNumber(),
		Title:        pr.GetTitle(),
		State:        normalizePRState(pr.GetState(), pr.GetDraft(), pr.MergedAt != nil),
		CommentCount: pr.GetComments() + pr.GetReviewComments(),
		HTMLURL:      pr.GetHTMLURL(),
		HeadBranch:   pr.GetHead().GetRef(),
	}

	reviews, _, err := gh.PullRequests.ListReviews(ctx, owner, repo, pr.GetNumber(), &github.ListOptions{PerPage: 100})
	if err == nil {
		states := make([]string, 0, len(reviews))
		for _, r := range reviews {
			states = append(states, r.GetState())
		}
		data.ReviewState = summarizeReviews(states)
	}

	if sha := pr.GetHead().GetSHA(); sha != "" {
		runs, _, err := gh.Checks.ListCheckRunsForRef(ctx, owner, repo, sha, &github.ListCheckRunsOptions{
			ListOptions: github.ListOptions{PerPage: 100},
		})
		if err == nil && runs != nil {
			checks := make([]checkRun, 0, len(runs.CheckRuns))
			for _, run := range runs.CheckRuns {
				checks = append(checks, checkRun{Status: run.GetStatus(), Conclusion: run.GetConclusion()})
			}
			data.ChecksState = summarizeChecks(checks)
		}
	}
	return data, nil
}

func (c *Client) Issue(ctx context.Context, owner string, repo string, number int) (*model.IssueData, error) {
	gh, err := c.api()
	if err != nil {
		return nil, err
	}
	issue, _, err := gh.Issues.Get(ctx, owner, repo, number)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &model.IssueData{
		Number:  issue.GetNumber(),
		Title:   issue.GetTitle(),
		State:   issue.GetState(),
		HTMLURL: issue.GetHTMLURL(),
	}, nil
}

// CheckToken validates the credential against /user. A rejected token is
// reported as invalid rather than as an error.
func (c *Client) CheckToken(ctx context.Context) (model.TokenCheck, error) {
	gh, err := c.api()
	if err != nil {
		return model.TokenCheck{Valid: false, Scopes: []string{}}, nil
	}
	user, resp, err := gh.Users.Get(ctx, "")
	if err != nil {
		if isUnauthorized(err) {
			return model.TokenCheck{Valid: false, Scopes: []string{}}, nil
		}
		return model.TokenCheck{}, err
	}
	check := model.TokenCheck{Valid: true, Login: user.GetLogin(), Scopes: []string{}}
	if resp != nil {
		check.Scopes = parseScopes(resp.Header.Get("X-OAuth-Scopes"))
		check.ExpiresAt = parseTokenExpiry(resp.Header.Get("GitHub-Authentication-Token-Expiration"))
	}
	return check, nil
}

// parseScopes splits the classic-token scope header. Fine-grained tokens
// send no scopes at all.
func parseScopes(header string) []string {
	var scopes []string
	for _, s := range strings.Split(header, ",") {
		if s = strings.TrimSpace(s); s != "" {
			scopes = append(scopes, s)
		}
	}
	if len(scopes) == 0 {
		return []string{"fine-grained"}
	}
	return scopes
}

func parseTokenExpiry(header string) *time.Time {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil
	}
	for _, layout := range []string{"2006-01-02 15:04:05 MST", "2006-01-02 15:04:05 -0700", time.RFC3339} {
		if t, err := time.Parse(layout, header); err == nil {
			return &t
		}
	}
	return nil
}

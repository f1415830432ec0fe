package forge

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mrbonezy/canopy/model"
)

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	c, err := New("test-token", WithBaseURL(srv.URL+"/"))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestPRForBranch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v3/repos/acme/widgets/pulls", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("head"); got != "acme:feat/login" {
			t.Errorf("expected head acme:feat/login, got %q", got)
		}
		if got := r.URL.Query().Get("state"); got != "all" {
			t.Errorf("expected state all, got %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("expected bearer token, got %q", got)
		}
		fmt.Fprint(w, `[{"number":7,"title":"Login","state":"open","draft":false,"comments":2,"review_comments":3,
			"html_url":"https://github.com/acme/widgets/pull/7","head":{"ref":"feat/login","sha":"abc123"}}]`)
	})
	mux.HandleFunc("GET /api/v3/repos/acme/widgets/pulls/7/reviews", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"state":"COMMENTED"},{"state":"APPROVED"}]`)
	})
	mux.HandleFunc("GET /api/v3/repos/acme/widgets/commits/abc123/check-runs", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"total_count":1,"check_runs":[{"status":"completed","conclusion":"success"}]}`)
	})

	pr, err := newTestClient(t, mux).PRForBranch(context.Background(), "acme", "widgets", "feat/login")
	if err != nil {
		t.Fatalf("PRForBranch: %v", err)
	}
	if pr == nil {
		t.Fatalf("expected PR")
	}
	if pr.Number != 7 || pr.State != model.PRStateOpen || pr.HeadBranch != "feat/login" {
		t.Fatalf("unexpected PR %+v", pr)
	}
	if pr.ReviewState != model.ReviewApproved || pr.ChecksState != model.ChecksSuccess {
		t.Fatalf("expected approved/success, got %q/%q", pr.ReviewState, pr.ChecksState)
	}
	if pr.CommentCount != 5 {
		t.Fatalf("expected 5 comments, got %d", pr.CommentCount)
	}
}

func TestPRForBranchNone(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v3/repos/acme/widgets/pulls", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	})
	pr, err := newTestClient(t, mux).PRForBranch(context.Background(), "acme", "widgets", "nothing")
	if err != nil || pr != nil {
		t.Fatalf("expected nil PR without error, got %+v %v", pr, err)
	}
}

func TestPRByNumberMergedAndMissing(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v3/repos/acme/widgets/pulls/9", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"number":9,"title":"Done","state":"closed","merged_at":"2024-05-01T10:00:00Z","head":{"ref":"done"}}`)
	})
	mux.HandleFunc("GET /api/v3/repos/acme/widgets/pulls/9/reviews", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	})
	mux.HandleFunc("GET /api/v3/repos/acme/widgets/pulls/404", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message":"Not Found"}`)
	})
	c := newTestClient(t, mux)

	pr, err := c.PRByNumber(context.Background(), "acme", "widgets", 9)
	if err != nil {
		t.Fatalf("PRByNumber: %v", err)
	}
	if pr.State != model.PRStateMerged || pr.ReviewState != "" {
		t.Fatalf("expected merged PR without review state, got %+v", pr)
	}

	missing, err := c.PRByNumber(context.Background(), "acme", "widgets", 404)
	if err != nil || missing != nil {
		t.Fatalf("expected nil for 404, got %+v %v", missing, err)
	}
}

func TestIssue(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v3/repos/acme/widgets/issues/3", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"number":3,"title":"Crash","state":"open","html_url":"https://github.com/acme/widgets/issues/3"}`)
	})
	issue, err := newTestClient(t, mux).Issue(context.Background(), "acme", "widgets", 3)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if issue.Number != 3 || issue.Title != "Crash" || issue.State != "open" {
		t.Fatalf("unexpected issue %+v", issue)
	}
}

func TestCheckToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v3/user", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-OAuth-Scopes", "repo, read:org")
		w.Header().Set("GitHub-Authentication-Token-Expiration", "2030-01-02 03:04:05 UTC")
		fmt.Fprint(w, `{"login":"octocat"}`)
	})
	check, err := newTestClient(t, mux).CheckToken(context.Background())
	if err != nil {
		t.Fatalf("CheckToken: %v", err)
	}
	if !check.Valid || check.Login != "octocat" || len(check.Scopes) != 2 {
		t.Fatalf("unexpected check %+v", check)
	}
	if check.ExpiresAt == nil || check.ExpiresAt.Year() != 2030 {
		t.Fatalf("expected 2030 expiry, got %v", check.ExpiresAt)
	}
}

func TestCheckTokenUnauthorized(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v3/user", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"message":"Bad credentials"}`)
	})
	check, err := newTestClient(t, mux).CheckToken(context.Background())
	if err != nil {
		t.Fatalf("expected no error for 401, got %v", err)
	}
	if check.Valid {
		t.Fatalf("expected invalid token")
	}
}

func TestDisconnectedClient(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if c.Connected() {
		t.Fatalf("expected disconnected client without token")
	}
	if _, err := c.PRForBranch(context.Background(), "a", "b", "c"); err == nil {
		t.Fatalf("expected error from disconnected client")
	}
	if err := c.Reinitialize("abc"); err != nil {
		t.Fatalf("reinitialize: %v", err)
	}
	if !c.Connected() {
		t.Fatalf("expected connected after reinitialize")
	}
}

//go:build local_e2e

package e2e

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLocalE2ERefreshWithFetchReportsBehind(t *testing.T) {
	if strings.TrimSpace(os.Getenv("CANOPY_LOCAL_E2E")) != "1" {
		t.Skip("set CANOPY_LOCAL_E2E=1 to run local-only e2e tests")
	}

	root := t.TempDir()
	originBare := filepath.Join(root, "origin.git")
	seed := filepath.Join(root, "seed")
	clone := filepath.Join(root, "clone")

	runCmd(t, root, nil, "git", "init", "--bare", originBare)
	initRepo(t, seed)
	runCmd(t, seed, nil, "git", "remote", "add", "origin", originBare)
	runCmd(t, seed, nil, "git", "push", "-u", "origin", "main")
	runCmd(t, originBare, nil, "git", "symbolic-ref", "HEAD", "refs/heads/main")

	runCmd(t, root, nil, "git", "clone", originBare, clone)
	runCmd(t, clone, nil, "git", "branch", "feature/local")

	if err := os.WriteFile(filepath.Join(seed, "upstream.txt"), []byte("upstream\n"), 0o644); err != nil {
		t.Fatalf("write upstream file: %v", err)
	}
	runCmd(t, seed, nil, "git", "add", "upstream.txt")
	runCmd(t, seed, nil, "git", "commit", "-m", "upstream change")
	runCmd(t, seed, nil, "git", "push", "origin", "main")

	env := testEnv(t)
	res := runCanopy(t, clone, env, "refresh", "--json")
	if res.err != nil {
		t.Fatalf("refresh failed: %v\n%s", res.err, res.out)
	}
	if got := behindOf(t, res.out, "main"); got != 0 {
		t.Fatalf("expected main up to date before fetch, behind=%d", got)
	}

	res = runCanopy(t, clone, env, "refresh", "--fetch", "--json")
	if res.err != nil {
		t.Fatalf("refresh --fetch failed: %v\n%s", res.err, res.out)
	}
	if got := behindOf(t, res.out, "main"); got != 1 {
		t.Fatalf("expected main behind origin by 1 after fetch, behind=%d\n%s", got, res.out)
	}
}

func behindOf(t *testing.T, out string, branch string) int {
	t.Helper()
	var res struct {
		DefaultBranch string `json:"defaultBranch"`
		Statuses      map[string]struct {
			Behind int `json:"behind"`
		} `json:"statuses"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode refresh: %v\n%s", err, out)
	}
	if res.DefaultBranch != "main" {
		t.Fatalf("expected default branch main, got %q", res.DefaultBranch)
	}
	return res.Statuses[branch].Behind
}

package vcs

import "testing"

func TestParseGitHubRemote(t *testing.T) {
	cases := []struct {
		remote string
		owner  string
		repo   string
		ok     bool
	}{
		{remote: "git@github.com:acme/widgets.git", owner: "acme", repo: "widgets", ok: true},
		{remote: "git@github.com:acme/widgets", owner: "acme", repo: "widgets", ok: true},
		{remote: "https://github.com/acme/widgets.git", owner: "acme", repo: "widgets", ok: true},
		{remote: "https://github.com/acme/widgets/", owner: "acme", repo: "widgets", ok: true},
		{remote: "ssh://git@github.com/acme/widgets.git", owner: "acme", repo: "widgets", ok: true},
		{remote: "https://x-access-token@github.com/acme/widgets.git", owner: "acme", repo: "widgets", ok: true},
		{remote: "  https://github.com/acme/widgets  ", owner: "acme", repo: "widgets", ok: true},
		{remote: "https://gitlab.com/acme/widgets.git", ok: false},
		{remote: "git@github.com:acme", ok: false},
		{remote: "", ok: false},
	}
	for _, tc := range cases {
		t.Run(tc.remote, func(t *testing.T) {
			info, ok := ParseGitHubRemote(tc.remote)
			if ok != tc.ok {
				t.Fatalf("expected ok=%v, got %v (%+v)", tc.ok, ok, info)
			}
			if !ok {
				return
			}
			if info.Owner != tc.owner || info.Repo != tc.repo {
				t.Fatalf("expected %s/%s, got %s/%s", tc.owner, tc.repo, info.Owner, info.Repo)
			}
		})
	}
}

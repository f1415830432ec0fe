package vcs

import (
	"path"
	"strings"

	"github.com/mrbonezy/canopy/model"
)

var githubRemotePrefixes = []string{
	"git@github.com:",
	"ssh://git@github.com/",
	"https://github.com/",
	"http://github.com/",
	"git://github.com/",
}

// ParseGitHubRemote extracts owner/repo from a github.com remote URL.
func ParseGitHubRemote(remote string) (model.RemoteInfo, bool) {
	remote = strings.TrimSpace(remote)
	for _, prefix := range githubRemotePrefixes {
		if strings.HasPrefix(remote, prefix) {
			return splitOwnerRepo(strings.TrimPrefix(remote, prefix))
		}
	}
	// https://token@github.com/owner/repo
	if i := strings.Index(remote, "@github.com/"); i >= 0 && strings.HasPrefix(remote, "https://") {
		return splitOwnerRepo(remote[i+len("@github.com/"):])
	}
	return model.RemoteInfo{}, false
}

func splitOwnerRepo(p string) (model.RemoteInfo, bool) {
	p = strings.TrimSpace(p)
	p = strings.Trim(p, "/")
	p = strings.TrimSuffix(p, ".git")
	parts := strings.Split(p, "/")
	if len(parts) < 2 {
		return model.RemoteInfo{}, false
	}
	owner := parts[0]
	repo := path.Base(parts[1])
	if owner == "" || repo == "" || repo == "." {
		return model.RemoteInfo{}, false
	}
	return model.RemoteInfo{Owner: owner, Repo: repo}, true
}

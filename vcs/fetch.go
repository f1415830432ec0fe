package vcs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	gitssh "github.com/go-git/go-git/v5/plumbing/transport/ssh"
	sshconfig "github.com/kevinburke/ssh_config"
)

// sshSettings reads ~/.ssh/config. Tests swap the lookups.
var sshSettings = struct {
	get    func(host, key string) string
	getAll func(host, key string) []string
}{
	get:    sshconfig.Get,
	getAll: sshconfig.GetAll,
}

var defaultIdentityFiles = []string{"~/.ssh/id_ed25519", "~/.ssh/id_ecdsa", "~/.ssh/id_rsa"}

type authCandidate struct {
	label  string
	method transport.AuthMethod
}

// Fetch updates remote-tracking refs so ahead/behind counts reflect the
// remote. Each auth candidate is tried in turn while the remote keeps
// rejecting credentials.
func (s *Service) Fetch(ctx context.Context, repoPath string, remoteName string) error {
	if remoteName = strings.TrimSpace(remoteName); remoteName == "" {
		remoteName = "origin"
	}
	repo, err := openRepo(repoPath)
	if err != nil {
		return err
	}
	endpoint, err := remoteEndpoint(repo, remoteName)
	if err != nil {
		return err
	}
	candidates, err := s.authCandidates(endpoint)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", remoteName, err)
	}

	var failures []string
	for _, c := range candidates {
		err = repo.FetchContext(ctx, &git.FetchOptions{RemoteName: remoteName, Auth: c.method})
		if err == nil || errors.Is(err, git.NoErrAlreadyUpToDate) {
			return nil
		}
		if !isAuthFailure(err) {
			return fmt.Errorf("fetch %s: %w", remoteName, err)
		}
		failures = append(failures, fmt.Sprintf("%s: %v", c.label, err))
	}
	return fmt.Errorf("fetch %s: %s", remoteName, strings.Join(failures, "; "))
}

func remoteEndpoint(repo *git.Repository, remoteName string) (*transport.Endpoint, error) {
	remote, err := repo.Remote(remoteName)
	if err != nil {
		return nil, fmt.Errorf("remote %q: %w", remoteName, err)
	}
	cfg := remote.Config()
	if cfg == nil || len(cfg.URLs) == 0 {
		return nil, fmt.Errorf("remote %q has no URL", remoteName)
	}
	return transport.NewEndpoint(strings.TrimSpace(cfg.URLs[0]))
}

// authCandidates orders the credentials to try for endpoint. Local and
// anonymous transports get a single nil candidate.
func (s *Service) authCandidates(endpoint *transport.Endpoint) ([]authCandidate, error) {
	switch strings.ToLower(endpoint.Protocol) {
	case "ssh", "git+ssh", "ssh+git":
		return sshCandidates(endpoint)
	case "https", "http":
		var out []authCandidate
		if s.fetchToken != nil {
			if token := strings.TrimSpace(s.fetchToken()); token != "" {
				out = append(out, authCandidate{
					label:  "token",
					method: &githttp.BasicAuth{Username: "x-access-token", Password: token},
				})
			}
		}
		return append(out, authCandidate{label: "anonymous"}), nil
	default:
		return []authCandidate{{label: endpoint.Protocol}}, nil
	}
}

func sshCandidates(endpoint *transport.Endpoint) ([]authCandidate, error) {
	user := strings.TrimSpace(endpoint.User)
	if user == "" {
		user = strings.TrimSpace(sshSettings.get(endpoint.Host, "User"))
	}
	if user == "" {
		user = "git"
	}

	var out []authCandidate
	if agent, err := gitssh.NewSSHAgentAuth(user); err == nil {
		out = append(out, authCandidate{label: "ssh-agent", method: agent})
	}
	var keyErrs []string
	for _, path := range identityFiles(endpoint.Host, user) {
		keys, err := gitssh.NewPublicKeysFromFile(user, path, "")
		if err != nil {
			keyErrs = append(keyErrs, fmt.Sprintf("%s: %v", path, err))
			continue
		}
		out = append(out, authCandidate{label: path, method: keys})
	}
	if len(out) == 0 {
		if len(keyErrs) > 0 {
			return nil, fmt.Errorf("no usable ssh keys for %s: %s", endpoint.Host, strings.Join(keyErrs, "; "))
		}
		return nil, fmt.Errorf("no ssh agent or keys for %s", endpoint.Host)
	}
	return out, nil
}

func isAuthFailure(err error) bool {
	if errors.Is(err, transport.ErrAuthenticationRequired) || errors.Is(err, transport.ErrAuthorizationFailed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, needle := range []string{"unable to authenticate", "attempted methods", "permission denied (publickey)"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}

// identityFiles returns existing key files, ssh config entries before the
// default key names, without duplicates.
func identityFiles(host string, remoteUser string) []string {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return nil
	}
	tokens := strings.NewReplacer("%h", host, "%r", remoteUser, "%u", os.Getenv("USER"), "%%", "%")

	var out []string
	seen := map[string]bool{}
	for _, raw := range append(sshSettings.getAll(host, "IdentityFile"), defaultIdentityFiles...) {
		p := resolveIdentityPath(raw, home, tokens)
		if p == "" || seen[p] {
			continue
		}
		if info, err := os.Stat(p); err != nil || info.IsDir() {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

func resolveIdentityPath(raw string, home string, tokens *strings.Replacer) string {
	p := strings.Trim(strings.TrimSpace(raw), `"'`)
	if p == "" || strings.EqualFold(p, "none") {
		return ""
	}
	p = tokens.Replace(p)
	switch {
	case strings.HasPrefix(p, "~/"):
		p = filepath.Join(home, p[2:])
	case !filepath.IsAbs(p):
		p = filepath.Join(home, ".ssh", p)
	}
	return filepath.Clean(p)
}

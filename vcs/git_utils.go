// Package vcs wraps a local git repository: branch listing, sync status,
// merge-bases, logs, branch deletion and remote discovery.
//
// Reads go through go-git where it is complete enough; anything that needs
// git's own porcelain (rev-list counts, deletion safety checks) shells out
// to the git binary.
package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

var (
	ErrGitNotInstalled  = errors.New("git not installed")
	ErrNotARepository   = errors.New("not a git repository")
	ErrNoCommonAncestor = errors.New("no common ancestor")
	ErrUnmergedChanges  = errors.New("this branch has unmerged changes; delete it in a terminal with `git branch -D` if you're sure")
	ErrBranchNotFound   = errors.New("branch not found; it may have been deleted")
)

type Service struct {
	gitPath    string
	fetchToken func() string
}

type Option func(*Service)

// WithGitPath overrides the git binary. A bare name is resolved on PATH.
func WithGitPath(path string) Option {
	return func(s *Service) {
		if p := strings.TrimSpace(path); p != "" {
			s.gitPath = p
		}
	}
}

// WithFetchToken supplies a token for fetching over HTTPS. It is read on
// every fetch so a token saved mid-session is picked up.
func WithFetchToken(token func() string) Option {
	return func(s *Service) {
		s.fetchToken = token
	}
}

func New(opts ...Option) *Service {
	s := &Service{gitPath: "git"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var lookPath = exec.LookPath

func (s *Service) binary() (string, error) {
	path, err := lookPath(s.gitPath)
	if err != nil {
		return "", ErrGitNotInstalled
	}
	return path, nil
}

func (s *Service) git(ctx context.Context, dir string, args ...string) (string, error) {
	bin, err := s.binary()
	if err != nil {
		return "", err
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", commandErrorWithOutput(err, stderr.String())
	}
	return stdout.String(), nil
}

func commandErrorWithOutput(err error, output string) error {
	msg := strings.TrimSpace(output)
	if msg == "" {
		return err
	}
	return fmt.Errorf("%w: %s", err, msg)
}

func shortSHA(sha string) string {
	sha = strings.TrimSpace(sha)
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

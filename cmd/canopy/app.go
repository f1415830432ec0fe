package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/mrbonezy/canopy/config"
	"github.com/mrbonezy/canopy/forge"
	"github.com/mrbonezy/canopy/model"
	"github.com/mrbonezy/canopy/refresh"
	"github.com/mrbonezy/canopy/settings"
	"github.com/mrbonezy/canopy/store"
	"github.com/mrbonezy/canopy/vcs"
)

// app holds the wired services for one CLI invocation.
type app struct {
	cfg       config.Config
	store     *store.Store
	settings  *settings.Settings
	git       *vcs.Service
	forge     *forge.Client
	refresher *refresh.Orchestrator
	warn      *log.Logger
}

func newWarnLogger() *log.Logger {
	return log.New(os.Stderr, "canopy warning: ", 0)
}

func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	st, err := store.Open(ctx, cfg.DBPath)
	if err != nil {
		return nil, err
	}
	set, err := settings.Open(ctx, st)
	if err != nil {
		st.Close()
		return nil, err
	}
	warn := newWarnLogger()

	token, err := set.Token(ctx)
	if errors.Is(err, settings.ErrCorruptedSecret) {
		warn.Printf("stored GitHub token is unreadable; run `canopy token set` again")
		token = ""
	} else if err != nil {
		st.Close()
		return nil, err
	}
	var forgeOpts []forge.Option
	if cfg.GitHubAPIURL != "" {
		forgeOpts = append(forgeOpts, forge.WithBaseURL(cfg.GitHubAPIURL))
	}
	fc, err := forge.New(token, forgeOpts...)
	if err != nil {
		st.Close()
		return nil, err
	}

	git := vcs.New(
		vcs.WithGitPath(cfg.GitPath),
		vcs.WithFetchToken(func() string {
			t, _ := set.Token(ctx)
			return t
		}),
	)
	orch := refresh.New(git, fc, st,
		refresh.WithPRCacheTTL(cfg.PRCacheTTL),
		refresh.WithConcurrency(cfg.Concurrency),
		refresh.WithLogger(warn),
	)
	return &app{
		cfg:       cfg,
		store:     st,
		settings:  set,
		git:       git,
		forge:     fc,
		refresher: orch,
		warn:      warn,
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// resolveRepo maps a path argument (or the working directory) to its
// registered repo, registering it on first use.
func (a *app) resolveRepo(ctx context.Context, arg string) (model.Repo, error) {
	dir := strings.TrimSpace(arg)
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return model.Repo{}, err
		}
		dir = wd
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return model.Repo{}, err
	}
	root, err := a.git.TopLevel(abs)
	if err != nil {
		if errors.Is(err, vcs.ErrNotARepository) {
			return model.Repo{}, fmt.Errorf("not a git repository: %s", abs)
		}
		return model.Repo{}, err
	}
	return a.store.AddRepo(ctx, root)
}

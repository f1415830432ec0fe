// Package server exposes canopy over a local HTTP dispatch API:
// POST /api/<channel> with a JSON body, answered with {ok,data} or
// {ok:false,error}.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"regexp"
	"sort"
	"time"

	"github.com/goccy/go-json"

	"github.com/mrbonezy/canopy/model"
	"github.com/mrbonezy/canopy/settings"
)

type VCS interface {
	ListBranches(ctx context.Context, repoPath string) ([]model.Branch, error)
	Status(ctx context.Context, repoPath string, branch string) (model.SyncStatus, error)
	Log(ctx context.Context, repoPath string, branch string, parent string, limit int) ([]model.Commit, error)
	MergeBase(ctx context.Context, repoPath string, a string, b string) (string, error)
	CurrentBranch(ctx context.Context, repoPath string) (string, error)
	DeleteBranch(ctx context.Context, repoPath string, branch string) error
	ValidateRepo(ctx context.Context, folder string) (model.RepoValidation, error)
	RemoteInfo(ctx context.Context, repoPath string) (*model.RemoteInfo, error)
}

type Forge interface {
	Reinitialize(token string) error
	PRForBranch(ctx context.Context, owner string, repo string, branch string) (*model.PRData, error)
	PRByNumber(ctx context.Context, owner string, repo string, number int) (*model.PRData, error)
	Issue(ctx context.Context, owner string, repo string, number int) (*model.IssueData, error)
	CheckToken(ctx context.Context) (model.TokenCheck, error)
}

type Store interface {
	Repos(ctx context.Context) ([]model.Repo, error)
	Repo(ctx context.Context, id int64) (*model.Repo, error)
	AddRepo(ctx context.Context, path string) (model.Repo, error)
	RemoveRepo(ctx context.Context, id int64) error
	TouchRepoOpened(ctx context.Context, id int64) error
	UpdateRepoDisplayName(ctx context.Context, id int64, name string) error
	Branch(ctx context.Context, repoID int64, name string) (*model.BranchRecord, error)
	Branches(ctx context.Context, repoID int64) ([]model.BranchRecord, error)
	UpsertBranch(ctx context.Context, repoID int64, name string, f model.BranchFields) (model.BranchRecord, error)
	SetBranchHidden(ctx context.Context, repoID int64, name string, hidden bool) error
	CachedPR(ctx context.Context, repoID int64, branch string) (*model.PRCacheEntry, error)
	UpsertPRCache(ctx context.Context, repoID int64, e model.PRCacheEntry) error
	Reset(ctx context.Context) error
}

type Settings interface {
	App(ctx context.Context) (settings.AppSettings, error)
	SaveApp(ctx context.Context, partial []byte) (settings.AppSettings, error)
	SaveToken(ctx context.Context, token string) error
	ClearToken(ctx context.Context) error
	Token(ctx context.Context) (string, error)
	TokenStatus(ctx context.Context) (model.TokenStatus, error)
	ResetData(ctx context.Context) error
}

type Refresher interface {
	Refresh(ctx context.Context, repoPath string, repoID int64) (*model.RefreshResult, error)
	RefreshBranch(ctx context.Context, repoPath string, repoID int64, name string) (*model.BranchRefreshResult, error)
}

type Deps struct {
	VCS       VCS
	Forge     Forge
	Store     Store
	Settings  Settings
	Refresher Refresher
	Logger    *log.Logger
}

type handlerFunc func(ctx context.Context, b body) (any, error)

type Server struct {
	deps     Deps
	logger   *log.Logger
	handlers map[string]handlerFunc
}

func New(deps Deps) *Server {
	s := &Server{deps: deps, logger: deps.Logger}
	if s.logger == nil {
		s.logger = log.New(io.Discard, "", 0)
	}
	s.handlers = s.channels()
	return s
}

// Channels lists the registered channel names, sorted.
func (s *Server) Channels() []string {
	names := make([]string, 0, len(s.handlers))
	for name := range s.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type response struct {
	OK    bool   `json:"ok"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("POST /api/{channel...}", s.dispatch)
	return withCORS(mux)
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) {
	channel := r.PathValue("channel")
	handler, ok := s.handlers[channel]
	if !ok {
		writeJSON(w, http.StatusNotFound, response{OK: false, Error: "Unknown channel: " + channel})
		return
	}
	b := body{}
	data, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusOK, response{OK: false, Error: err.Error()})
		return
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &b); err != nil {
			writeJSON(w, http.StatusOK, response{OK: false, Error: fmt.Sprintf("invalid request body: %v", err)})
			return
		}
	}
	start := time.Now()
	result, err := handler(r.Context(), b)
	if err != nil {
		s.logger.Printf("%s failed after %s: %v", channel, time.Since(start).Round(time.Millisecond), err)
		writeJSON(w, http.StatusOK, response{OK: false, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, response{OK: true, Data: result})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

var localOrigin = regexp.MustCompile(`^https?://(localhost|127\.0\.0\.1)(:\d+)?$`)

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && localOrigin.MatchString(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

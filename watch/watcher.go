// Package watch notices branch changes in a repository by watching the git
// directory: HEAD, packed-refs and everything under refs/heads.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mrbonezy/canopy/debug"
)

var ErrAlreadyStarted = errors.New("watcher already started")

type Option func(*Watcher)

func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

func WithOnChange(fn func()) Option {
	return func(w *Watcher) { w.onChange = fn }
}

func WithOnError(fn func(error)) Option {
	return func(w *Watcher) { w.onError = fn }
}

type Watcher struct {
	gitDir    string
	commonDir string
	debounce  time.Duration
	onChange  func()
	onError   func(error)

	mu        sync.Mutex
	fsw       *fsnotify.Watcher
	debouncer *Debouncer
	cancel    context.CancelFunc
	done      chan struct{}
	changeCh  chan struct{}
}

// New resolves the git directory of repoPath. A .git file (linked
// worktree) is followed to its gitdir.
func New(repoPath string, opts ...Option) (*Watcher, error) {
	gitDir, err := resolveGitDir(repoPath)
	if err != nil {
		return nil, err
	}
	commonDir, err := resolveCommonDir(gitDir)
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		gitDir:    gitDir,
		commonDir: commonDir,
		debounce:  DefaultDebounce,
		onChange:  func() {},
		onError:   func(error) {},
		changeCh:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.debouncer = NewDebouncer(w.debounce)
	return w, nil
}

func resolveGitDir(repoPath string) (string, error) {
	abs, err := filepath.Abs(repoPath)
	if err != nil {
		return "", err
	}
	dotGit := filepath.Join(abs, ".git")
	info, err := os.Stat(dotGit)
	if err != nil {
		return "", fmt.Errorf("not a git repository: %s", abs)
	}
	if info.IsDir() {
		return dotGit, nil
	}
	data, err := os.ReadFile(dotGit)
	if err != nil {
		return "", err
	}
	line := strings.TrimSpace(string(data))
	target, ok := strings.CutPrefix(line, "gitdir:")
	if !ok {
		return "", fmt.Errorf("unrecognized .git file in %s", abs)
	}
	target = strings.TrimSpace(target)
	if !filepath.IsAbs(target) {
		target = filepath.Join(abs, target)
	}
	return filepath.Clean(target), nil
}

// resolveCommonDir follows a linked worktree's commondir file to the
// directory holding refs and packed-refs. Otherwise it is gitDir itself.
func resolveCommonDir(gitDir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(gitDir, "commondir"))
	if errors.Is(err, fs.ErrNotExist) {
		return gitDir, nil
	}
	if err != nil {
		return "", err
	}
	common := strings.TrimSpace(string(data))
	if common == "" {
		return gitDir, nil
	}
	if !filepath.IsAbs(common) {
		common = filepath.Join(gitDir, common)
	}
	return filepath.Clean(common), nil
}

func (w *Watcher) GitDir() string {
	return w.gitDir
}

// Changed receives after each debounced burst, in addition to onChange.
func (w *Watcher) Changed() <-chan struct{} {
	return w.changeCh
}

func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw != nil {
		return ErrAlreadyStarted
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(w.gitDir); err != nil {
		fsw.Close()
		return err
	}
	if w.commonDir != w.gitDir {
		if err := fsw.Add(w.commonDir); err != nil {
			fsw.Close()
			return err
		}
	}
	if err := w.addTree(fsw, filepath.Join(w.commonDir, "refs", "heads")); err != nil {
		fsw.Close()
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.fsw = fsw
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.loop(ctx, fsw, w.done)
	return nil
}

func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.fsw == nil {
		w.mu.Unlock()
		return
	}
	w.cancel()
	w.fsw.Close()
	done := w.done
	w.fsw = nil
	w.mu.Unlock()

	<-done
	w.debouncer.Cancel()
}

// addTree watches root and every directory below it; branch names with
// slashes live in nested directories.
func (w *Watcher) addTree(fsw *fsnotify.Watcher, root string) error {
	if _, err := os.Stat(root); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fsw.Add(path)
		}
		return nil
	})
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addTree(fsw, event.Name); err != nil {
						w.onError(err)
					}
				}
			}
			debug.Log("watch: %s %s", event.Op, event.Name)
			w.debouncer.Trigger(w.notify)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.onError(err)
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	heads := filepath.Join(w.commonDir, "refs", "heads")
	if strings.HasPrefix(event.Name, heads+string(filepath.Separator)) || event.Name == heads {
		return !strings.HasSuffix(event.Name, ".lock")
	}
	dir, base := filepath.Dir(event.Name), filepath.Base(event.Name)
	return (base == "HEAD" && dir == w.gitDir) || (base == "packed-refs" && dir == w.commonDir)
}

func (w *Watcher) notify() {
	w.onChange()
	select {
	case w.changeCh <- struct{}{}:
	default:
	}
}

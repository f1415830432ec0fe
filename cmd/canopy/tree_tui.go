package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/mrbonezy/canopy/model"
	"github.com/mrbonezy/canopy/tree"
	"github.com/mrbonezy/canopy/ui"
	"github.com/mrbonezy/canopy/watch"
)

type treeLoader func(ctx context.Context) (tree.Result, error)

type commitLoader func(ctx context.Context, branch string, parent string) ([]model.Commit, error)

type treeLoadedMsg struct {
	result tree.Result
	err    error
}

type commitsLoadedMsg struct {
	branch  string
	commits []model.Commit
	err     error
}

type refsChangedMsg struct{}

type treeModel struct {
	ctx         context.Context
	title       string
	load        treeLoader
	loadCommits commitLoader
	changes     <-chan struct{}
	now         func() time.Time
	styles      ui.Styles

	result       tree.Result
	rows         []ui.TreeRow
	cursor       int
	loading      bool
	spinner      spinner.Model
	search       textinput.Model
	searching    bool
	query        string
	hideInactive bool
	detail       bool
	detailFor    string
	commits      []model.Commit
	errMsg       string
	width        int
}

func newSearchInput() textinput.Model {
	ti := textinput.New()
	ti.Placeholder = "filter branches"
	ti.Prompt = "/ "
	ti.CharLimit = 200
	ti.Width = 40
	return ti
}

// newTreeModel wires the interactive view to the app. The watcher is
// best-effort; without it the view only refreshes on demand.
func newTreeModel(ctx context.Context, a *app, repo model.Repo) treeModel {
	m := treeModel{
		ctx:   ctx,
		title: repo.DisplayName,
		load: func(ctx context.Context) (tree.Result, error) {
			res, err := a.refresher.Refresh(ctx, repo.Path, repo.ID)
			if err != nil {
				return tree.Result{}, err
			}
			return tree.Build(tree.FromRefresh(res)), nil
		},
		loadCommits: func(ctx context.Context, branch string, parent string) ([]model.Commit, error) {
			return a.git.Log(ctx, repo.Path, branch, parent, model.MaxCommitHistory)
		},
		now:     time.Now,
		styles:  ui.DefaultStyles(),
		spinner: newSpinner(),
		search:  newSearchInput(),
		loading: true,
	}
	if w, err := watch.New(repo.Path); err == nil && w.Start() == nil {
		m.changes = w.Changed()
		go func() {
			<-ctx.Done()
			w.Stop()
		}()
	}
	return m
}

func (m treeModel) Init() tea.Cmd {
	return tea.Batch(m.loadCmd(), m.spinner.Tick, m.waitForChange())
}

func (m treeModel) loadCmd() tea.Cmd {
	load, ctx := m.load, m.ctx
	return func() tea.Msg {
		res, err := load(ctx)
		return treeLoadedMsg{result: res, err: err}
	}
}

func (m treeModel) commitsCmd(branch string, parent string) tea.Cmd {
	if m.loadCommits == nil {
		return nil
	}
	load, ctx := m.loadCommits, m.ctx
	return func() tea.Msg {
		commits, err := load(ctx, branch, parent)
		return commitsLoadedMsg{branch: branch, commits: commits, err: err}
	}
}

func (m treeModel) waitForChange() tea.Cmd {
	if m.changes == nil {
		return nil
	}
	ch := m.changes
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return nil
		}
		return refsChangedMsg{}
	}
}

func (m treeModel) filterOptions() tree.FilterOptions {
	opts := tree.FilterOptions{Query: m.query}
	if m.hideInactive {
		opts.Excluded = map[model.BranchStatus]bool{
			model.StatusAbandoned: true,
			model.StatusStale:     true,
		}
	}
	return opts
}

// rebuildRows reapplies the filters and keeps the cursor on the same branch
// when it is still visible.
func (m *treeModel) rebuildRows() {
	selected := m.selectedName()
	opts := m.filterOptions()
	filtered := tree.Result{
		Tree:      tree.Filter(m.result.Tree, opts),
		Untracked: tree.Filter(m.result.Untracked, opts),
	}
	m.rows = ui.BuildTreeRows(filtered, m.now())
	m.cursor = 0
	for i, row := range m.rows {
		if row.Node.Name() == selected {
			m.cursor = i
			break
		}
	}
}

func (m treeModel) selectedName() string {
	if m.cursor < 0 || m.cursor >= len(m.rows) {
		return ""
	}
	return m.rows[m.cursor].Node.Name()
}

func (m treeModel) selectedNode() *tree.Node {
	if m.cursor < 0 || m.cursor >= len(m.rows) {
		return nil
	}
	return m.rows[m.cursor].Node
}

func (m treeModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case treeLoadedMsg:
		m.loading = false
		if msg.err != nil {
			m.errMsg = msg.err.Error()
			return m, nil
		}
		m.errMsg = ""
		m.result = msg.result
		m.rebuildRows()
		m.detailFor = ""
		return m.followDetail()
	case commitsLoadedMsg:
		if msg.branch != m.detailFor {
			return m, nil
		}
		m.commits = msg.commits
		if msg.err != nil {
			m.errMsg = msg.err.Error()
		}
		return m, nil
	case refsChangedMsg:
		if m.loading {
			return m, m.waitForChange()
		}
		m.loading = true
		return m, tea.Batch(m.loadCmd(), m.spinner.Tick, m.waitForChange())
	case spinner.TickMsg:
		if !m.loading {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.KeyMsg:
		if m.searching {
			return m.updateSearch(msg)
		}
		return m.updateKeys(msg)
	}
	return m, nil
}

func (m treeModel) updateSearch(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "enter":
		m.searching = false
		m.search.Blur()
		return m, nil
	case "esc":
		m.searching = false
		m.search.Blur()
		m.search.SetValue("")
		m.query = ""
		m.rebuildRows()
		return m, nil
	}
	var cmd tea.Cmd
	m.search, cmd = m.search.Update(msg)
	if q := m.search.Value(); q != m.query {
		m.query = q
		m.rebuildRows()
	}
	return m, cmd
}

func (m treeModel) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
		return m.followDetail()
	case "down", "j":
		if m.cursor < len(m.rows)-1 {
			m.cursor++
		}
		return m.followDetail()
	case "/":
		m.searching = true
		m.search.SetValue(m.query)
		return m, m.search.Focus()
	case "h":
		m.hideInactive = !m.hideInactive
		m.rebuildRows()
		return m, nil
	case "r":
		if m.loading {
			return m, nil
		}
		m.loading = true
		return m, tea.Batch(m.loadCmd(), m.spinner.Tick)
	case "enter":
		m.detail = !m.detail
		if !m.detail {
			m.detailFor = ""
			m.commits = nil
			return m, nil
		}
		return m.followDetail()
	case "esc":
		m.detail = false
		m.detailFor = ""
		m.commits = nil
		return m, nil
	}
	return m, nil
}

func (m treeModel) followDetail() (tea.Model, tea.Cmd) {
	if !m.detail {
		return m, nil
	}
	n := m.selectedNode()
	if n == nil || n.Name() == m.detailFor {
		return m, nil
	}
	m.detailFor = n.Name()
	m.commits = nil
	return m, m.commitsCmd(n.Name(), n.Parent)
}

func (m treeModel) View() string {
	var b strings.Builder
	b.WriteString(m.styles.Header(m.title))
	if m.loading {
		b.WriteString("  " + m.spinner.View() + " refreshing")
	}
	b.WriteString("\n\n")
	if m.loading && len(m.rows) == 0 {
		return b.String()
	}
	b.WriteString(ui.RenderTree(m.rows, m.cursor, m.styles))
	if m.searching || m.query != "" {
		b.WriteString("\n")
		b.WriteString(m.search.View())
		if !m.searching {
			b.WriteString(m.styles.Secondary("  (/ to edit)"))
		}
		b.WriteString("\n")
	}
	if m.detail {
		if n := m.selectedNode(); n != nil {
			b.WriteString("\n")
			b.WriteString(ui.RenderBranchDetail(n, m.commits, m.now(), m.styles))
		}
	}
	if m.errMsg != "" {
		b.WriteString("\n")
		b.WriteString(m.styles.Warn(m.errMsg))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(m.styles.Secondary(helpLine(m.hideInactive)))
	b.WriteString("\n")
	return b.String()
}

func helpLine(hideInactive bool) string {
	hide := "h hide stale/abandoned"
	if hideInactive {
		hide = "h show all"
	}
	return fmt.Sprintf("↑/↓ move · enter details · / search · %s · r refresh · q quit", hide)
}

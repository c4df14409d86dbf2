// Package board is the interactive terminal view of one owner's tasks, split
// into actionable and blocked columns.
package board

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/sandeepkv93/tasklane/internal/commands"
	"github.com/sandeepkv93/tasklane/internal/dependency"
	"github.com/sandeepkv93/tasklane/internal/model"
	"github.com/sandeepkv93/tasklane/internal/scheduler"
	"github.com/sandeepkv93/tasklane/internal/views"
)

// Service is the part of the dependency engine the board drives.
type Service interface {
	CreateTask(ctx context.Context, owner string, in dependency.CreateTaskInput, now time.Time) (model.Task, error)
	LinkBlocker(ctx context.Context, owner, taskID string, b model.Blocker, now time.Time) error
	UnlinkBlocker(ctx context.Context, owner, taskID string, b model.Blocker) error
	SetCompleted(ctx context.Context, owner, taskID string, completed bool, now time.Time) error
	ListTasks(ctx context.Context, owner string, filter dependency.ListTasksFilter, now time.Time) ([]dependency.TaskView, error)
}

const (
	statusLoading    = "loading"
	statusRefreshing = "refreshing"
)

type StatusBar struct {
	Text    string
	IsError bool
}

type keyMap struct {
	Up      key.Binding
	Down    key.Binding
	Toggle  key.Binding
	Refresh key.Binding
	Palette key.Binding
	Help    key.Binding
	Quit    key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Toggle, k.Refresh, k.Palette, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Up, k.Down, k.Toggle}, {k.Refresh, k.Palette, k.Help, k.Quit}}
}

func defaultKeys() keyMap {
	return keyMap{
		Up:      key.NewBinding(key.WithKeys("k", "up"), key.WithHelp("k/↑", "up")),
		Down:    key.NewBinding(key.WithKeys("j", "down"), key.WithHelp("j/↓", "down")),
		Toggle:  key.NewBinding(key.WithKeys(" "), key.WithHelp("space", "toggle done")),
		Refresh: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
		Palette: key.NewBinding(key.WithKeys(":"), key.WithHelp(":", "command")),
		Help:    key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
		Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

type Model struct {
	ctx     context.Context
	svc     Service
	owner   string
	now     func() time.Time
	unblock <-chan scheduler.UnblockEvent

	Actionable    []dependency.TaskView
	Blocked       []dependency.TaskView
	Cursor        int
	PaletteActive bool
	Status        StatusBar
	Quitting      bool

	keys     keyMap
	help     help.Model
	showHelp bool
	input    textinput.Model
}

// Option customises a Model.
type Option func(*Model)

// WithClock replaces time.Now as the evaluation time.
func WithClock(now func() time.Time) Option {
	return func(m *Model) { m.now = now }
}

// WithUnblockEvents refreshes the board whenever an event arrives on ch.
func WithUnblockEvents(ch <-chan scheduler.UnblockEvent) Option {
	return func(m *Model) { m.unblock = ch }
}

func New(ctx context.Context, svc Service, owner string, opts ...Option) Model {
	input := textinput.New()
	input.Prompt = "/"
	input.Placeholder = "add buy milk"
	m := Model{
		ctx:    ctx,
		svc:    svc,
		owner:  owner,
		now:    time.Now,
		keys:   defaultKeys(),
		help:   help.New(),
		input:  input,
		Status: StatusBar{Text: statusLoading},
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

type tasksLoadedMsg struct {
	views []dependency.TaskView
	err   error
}

type unblockMsg struct {
	Event scheduler.UnblockEvent
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.loadCmd(), waitForUnblockCmd(m.unblock))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := msg.(type) {
	case tasksLoadedMsg:
		if typed.err != nil {
			m.Status = StatusBar{Text: "load failed: " + typed.err.Error(), IsError: true}
			return m, nil
		}
		m.setTasks(typed.views)
		if m.Status.Text == statusLoading || m.Status.Text == statusRefreshing {
			m.Status = StatusBar{Text: fmt.Sprintf("%d actionable, %d blocked", m.openActionable(), len(m.Blocked))}
		}
		return m, nil
	case unblockMsg:
		return m, tea.Batch(m.loadCmd(), waitForUnblockCmd(m.unblock))
	case tea.KeyMsg:
		if m.PaletteActive {
			return m.handlePaletteKey(typed)
		}
		return m.handleKey(typed)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.Quitting = true
		return m, tea.Quit
	case key.Matches(msg, m.keys.Up):
		if m.Cursor > 0 {
			m.Cursor--
		}
	case key.Matches(msg, m.keys.Down):
		if m.Cursor < len(m.all())-1 {
			m.Cursor++
		}
	case key.Matches(msg, m.keys.Refresh):
		m.Status = StatusBar{Text: statusRefreshing}
		return m, m.loadCmd()
	case key.Matches(msg, m.keys.Palette):
		m.PaletteActive = true
		m.input.SetValue("")
		m.input.Focus()
		m.Status = StatusBar{Text: "command palette active"}
	case key.Matches(msg, m.keys.Help):
		m.showHelp = !m.showHelp
		m.help.ShowAll = m.showHelp
	case key.Matches(msg, m.keys.Toggle):
		selected, ok := m.Selected()
		if !ok {
			return m, nil
		}
		done := !selected.Task.IsCompleted()
		if err := m.svc.SetCompleted(m.ctx, m.owner, selected.Task.ID, done, m.now()); err != nil {
			m.Status = StatusBar{Text: err.Error(), IsError: true}
			return m, nil
		}
		verb := "completed"
		if !done {
			verb = "reopened"
		}
		m.Status = StatusBar{Text: fmt.Sprintf("%s %s", verb, selected.Task.Text)}
		return m, m.loadCmd()
	}
	return m, nil
}

func (m Model) handlePaletteKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.closePalette()
		m.Status = StatusBar{Text: "command palette closed"}
		return m, nil
	case tea.KeyEnter:
		raw := m.input.Value()
		m.closePalette()
		res, err := m.execute(raw)
		if err != nil {
			m.Status = StatusBar{Text: err.Error(), IsError: true}
			return m, nil
		}
		m.Status = StatusBar{Text: res.Message}
		return m, m.loadCmd()
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) closePalette() {
	m.PaletteActive = false
	m.input.SetValue("")
	m.input.Blur()
}

func (m Model) execute(raw string) (commands.Result, error) {
	cmd, err := commands.Parse(raw)
	if err != nil {
		return commands.Result{}, err
	}
	return commands.Execute(cmd, commands.Handlers{
		Add: func(a commands.AddArgs) (commands.Result, error) {
			task, err := m.svc.CreateTask(m.ctx, m.owner, dependency.CreateTaskInput{Text: a.Text, Project: a.Project}, m.now())
			if err != nil {
				return commands.Result{}, err
			}
			return commands.Result{Message: "added " + task.Text}, nil
		},
		Link: func(a commands.BlockerArgs) (commands.Result, error) {
			b := m.resolveBlocker(a.Blocker)
			if err := m.svc.LinkBlocker(m.ctx, m.owner, m.resolveTaskID(a.TaskID), b, m.now()); err != nil {
				return commands.Result{}, err
			}
			return commands.Result{Message: "linked " + b.String()}, nil
		},
		Unlink: func(a commands.BlockerArgs) (commands.Result, error) {
			b := m.resolveBlocker(a.Blocker)
			if err := m.svc.UnlinkBlocker(m.ctx, m.owner, m.resolveTaskID(a.TaskID), b); err != nil {
				return commands.Result{}, err
			}
			return commands.Result{Message: "unlinked " + b.String()}, nil
		},
		Done: func(a commands.TargetArgs) (commands.Result, error) {
			if err := m.svc.SetCompleted(m.ctx, m.owner, m.resolveTaskID(a.TaskID), true, m.now()); err != nil {
				return commands.Result{}, err
			}
			return commands.Result{Message: "completed " + a.TaskID}, nil
		},
		Undo: func(a commands.TargetArgs) (commands.Result, error) {
			if err := m.svc.SetCompleted(m.ctx, m.owner, m.resolveTaskID(a.TaskID), false, m.now()); err != nil {
				return commands.Result{}, err
			}
			return commands.Result{Message: "reopened " + a.TaskID}, nil
		},
	})
}

// resolveTaskID expands a unique id prefix of a loaded task. Anything else is
// returned unchanged.
func (m Model) resolveTaskID(ref string) string {
	match := ""
	for _, v := range m.all() {
		id := v.Task.ID
		if id == ref {
			return id
		}
		if strings.HasPrefix(id, ref) {
			if match != "" {
				return ref
			}
			match = id
		}
	}
	if match == "" {
		return ref
	}
	return match
}

func (m Model) resolveBlocker(b model.Blocker) model.Blocker {
	if tb, ok := b.(model.TaskBlocker); ok {
		return model.TaskBlocker{TaskID: m.resolveTaskID(tb.TaskID)}
	}
	return b
}

// setTasks splits views into the two columns. Completed tasks trail the
// actionable column.
func (m *Model) setTasks(all []dependency.TaskView) {
	m.Actionable, m.Blocked = nil, nil
	var done []dependency.TaskView
	for _, v := range all {
		switch {
		case v.Task.IsCompleted():
			done = append(done, v)
		case v.Blocked:
			m.Blocked = append(m.Blocked, v)
		default:
			m.Actionable = append(m.Actionable, v)
		}
	}
	m.Actionable = append(m.Actionable, done...)
	if n := len(m.all()); m.Cursor >= n {
		m.Cursor = max(n-1, 0)
	}
}

func (m Model) openActionable() int {
	n := 0
	for _, v := range m.Actionable {
		if !v.Task.IsCompleted() {
			n++
		}
	}
	return n
}

// all is the cursor order: actionable column first, then blocked.
func (m Model) all() []dependency.TaskView {
	out := make([]dependency.TaskView, 0, len(m.Actionable)+len(m.Blocked))
	out = append(out, m.Actionable...)
	return append(out, m.Blocked...)
}

func (m Model) Selected() (dependency.TaskView, bool) {
	all := m.all()
	if m.Cursor < 0 || m.Cursor >= len(all) {
		return dependency.TaskView{}, false
	}
	return all[m.Cursor], true
}

func (m Model) View() string {
	if m.Quitting {
		return ""
	}
	selectedID := ""
	if v, ok := m.Selected(); ok {
		selectedID = v.Task.ID
	}
	palette := ""
	if m.PaletteActive {
		palette = m.input.View()
	}
	return views.RenderBoard(views.BoardData{
		Header:     fmt.Sprintf("tasklane · %s", m.owner),
		Actionable: views.RenderTaskSection("Actionable", m.Actionable, selectedID),
		Blocked:    views.RenderTaskSection("Blocked", m.Blocked, selectedID),
		StatusLine: m.Status.Text,
		IsError:    m.Status.IsError,
		Palette:    palette,
		Footer:     m.help.View(m.keys),
	})
}

func (m Model) loadCmd() tea.Cmd {
	ctx, svc, owner, now := m.ctx, m.svc, m.owner, m.now()
	return func() tea.Msg {
		all, err := svc.ListTasks(ctx, owner, dependency.ListTasksFilter{IncludeCompleted: true}, now)
		return tasksLoadedMsg{views: all, err: err}
	}
}

func waitForUnblockCmd(ch <-chan scheduler.UnblockEvent) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return nil
		}
		return unblockMsg{Event: ev}
	}
}

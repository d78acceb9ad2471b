package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/genx/internal/models"
	"github.com/desertthunder/genx/internal/services"
	"github.com/desertthunder/genx/internal/shared"
	"github.com/desertthunder/genx/internal/tasks"
)

// ViewState represents the current view in the TUI.
type ViewState int

const (
	PromptView ViewState = iota
	ProgressView
	ResultView
	HistoryView
)

// HistoryLister reads recorded generations. Implemented by repositories.GenerationRepository.
type HistoryLister interface {
	List(criteria map[string]any) ([]*models.Generation, error)
}

// Options wires a [Model].
type Options struct {
	Generators   []*tasks.Generator
	History      HistoryLister
	Notifier     *Notifier
	Request      services.GenerateRequest // template for every prompt: provider, model, count
	HistoryLimit int
}

// Model represents the TUI application state.
type Model struct {
	ctx       context.Context
	view      ViewState
	opts      Options
	current   int // index into opts.Generators
	states    map[models.Kind]tasks.GeneratorState
	submitted string
	input     textinput.Model
	bar       progress.Model
	history   list.Model
	notice    *Notice
	err       error
	width     int
	height    int
	help      help.Model
	keys      keyMap
}

// NewModel creates a new TUI model over the configured generators.
func NewModel(ctx context.Context, opts Options) *Model {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 50
	}

	input := textinput.New()
	input.Placeholder = "Describe what to generate"
	input.CharLimit = 2000
	input.Focus()

	history := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	history.Title = "History"

	m := &Model{
		ctx:     ctx,
		view:    PromptView,
		opts:    opts,
		states:  make(map[models.Kind]tasks.GeneratorState, len(opts.Generators)),
		input:   input,
		bar:     progress.New(progress.WithDefaultGradient()),
		history: history,
		help:    help.New(),
		keys:    newKeyMap(),
	}
	for _, g := range opts.Generators {
		m.states[g.Kind()] = g.State()
	}
	return m
}

// Init starts one reader per generator and one for notices.
func (m *Model) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink}
	for _, g := range m.opts.Generators {
		cmds = append(cmds, m.listen(g))
	}
	if m.opts.Notifier != nil {
		cmds = append(cmds, m.listenNotices())
	}
	return tea.Batch(cmds...)
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = max(msg.Width-6, 10)
		m.bar.Width = max(msg.Width-8, 10)
		m.history.SetSize(max(msg.Width-4, 0), max(msg.Height-8, 0))
		return m, nil

	case tea.KeyMsg:
		switch m.view {
		case PromptView:
			return m.handlePromptKeys(msg)
		case ProgressView:
			return m.handleProgressKeys(msg)
		case ResultView:
			return m.handleResultKeys(msg)
		case HistoryView:
			return m.handleHistoryKeys(msg)
		}

	case Msg:
		return m.handleMsg(msg)
	}

	var cmd tea.Cmd
	switch m.view {
	case PromptView:
		m.input, cmd = m.input.Update(msg)
	case HistoryView:
		m.history, cmd = m.history.Update(msg)
	}
	return m, cmd
}

func (m *Model) handleMsg(msg Msg) (tea.Model, tea.Cmd) {
	switch msg.kind {
	case MsgStateUpdate:
		u := msg.data.(stateUpdate)
		m.states[u.state.Kind] = u.state
		if g := m.generator(); g == u.gen && m.view == ProgressView && m.finished(u.state) {
			m.view = ResultView
		}
		return m, m.listen(u.gen)

	case MsgGenerateDone:
		if err, _ := msg.data.(error); err != nil {
			m.err = err
			m.view = PromptView
		}
		return m, nil

	case MsgCancelDone:
		res := msg.data.(cancelResult)
		m.view = PromptView
		switch {
		case errors.Is(res.err, shared.ErrNoActiveTask):
			m.notice = &Notice{Level: LevelWarn, Message: "No generation in progress"}
		case res.err != nil:
			m.err = res.err
		}
		return m, nil

	case MsgHistoryLoaded:
		res := msg.data.(historyResult)
		if res.err != nil {
			m.err = res.err
			return m, nil
		}
		items := make([]list.Item, len(res.generations))
		for i, g := range res.generations {
			items[i] = generationItem{gen: g}
		}
		return m, m.history.SetItems(items)

	case MsgNotice:
		n := msg.data.(Notice)
		m.notice = &n
		return m, m.listenNotices()
	}
	return m, nil
}

// finished reports whether s is the terminal state of the prompt submitted from this model.
func (m *Model) finished(s tasks.GeneratorState) bool {
	return !s.Generating && s.Status.IsTerminal() && s.Prompt == m.submitted
}

// View renders the UI based on the current view state.
func (m *Model) View() string {
	var body string
	switch m.view {
	case PromptView:
		body = m.renderPrompt()
	case ProgressView:
		body = m.renderProgress()
	case ResultView:
		body = m.renderResult()
	case HistoryView:
		body = m.renderHistory()
	}

	if m.notice != nil {
		body += "\n\n" + styles.notice(*m.notice)
	}
	if m.err != nil {
		body += "\n\n" + styles.err.Render(fmt.Sprintf("Error: %v", m.err))
	}
	return body
}

func (m *Model) handlePromptKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.exit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.kind):
		if len(m.opts.Generators) > 0 {
			m.current = (m.current + 1) % len(m.opts.Generators)
		}
		return m, nil
	case key.Matches(msg, m.keys.history):
		m.view = HistoryView
		return m, m.loadHistory()
	case key.Matches(msg, m.keys.watch):
		if g := m.generator(); g != nil && m.states[g.Kind()].Generating {
			m.view = ProgressView
		}
		return m, nil
	case key.Matches(msg, m.keys.submit):
		return m.submit()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) handleProgressKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.cancel):
		return m, m.cancel()
	case key.Matches(msg, m.keys.back):
		m.view = PromptView
	}
	return m, nil
}

func (m *Model) handleResultKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.again), key.Matches(msg, m.keys.back):
		m.view = PromptView
		m.notice = nil
	case key.Matches(msg, m.keys.history):
		m.view = HistoryView
		return m, m.loadHistory()
	}
	return m, nil
}

func (m *Model) handleHistoryKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.history.FilterState() != list.Filtering {
		switch {
		case key.Matches(msg, m.keys.quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.back):
			m.view = PromptView
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.history, cmd = m.history.Update(msg)
	return m, cmd
}

func (m *Model) generator() *tasks.Generator {
	if len(m.opts.Generators) == 0 {
		return nil
	}
	return m.opts.Generators[m.current]
}

func (m *Model) submit() (tea.Model, tea.Cmd) {
	g := m.generator()
	if g == nil {
		m.err = fmt.Errorf("%w: no generators configured", shared.ErrServiceUnavailable)
		return m, nil
	}

	prompt := strings.TrimSpace(m.input.Value())
	if prompt == "" {
		return m, nil
	}

	req := m.opts.Request
	req.Prompt = prompt
	if g.Kind() != models.KindImage {
		req.Count = 1
	}

	m.err, m.notice = nil, nil
	m.submitted = prompt
	m.states[g.Kind()] = tasks.GeneratorState{Kind: g.Kind(), Prompt: prompt, Generating: true, Status: models.StatusPending}
	m.input.Reset()
	m.view = ProgressView

	ctx := m.ctx
	return m, func() tea.Msg {
		return generateDoneMsg(g.Generate(ctx, req))
	}
}

func (m *Model) cancel() tea.Cmd {
	g := m.generator()
	if g == nil {
		return nil
	}
	ctx := m.ctx
	return func() tea.Msg {
		refunded, err := g.Cancel(ctx)
		return cancelDoneMsg(refunded, err)
	}
}

func (m *Model) listen(g *tasks.Generator) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		select {
		case s := <-g.Updates():
			return stateUpdateMsg(g, s)
		case <-ctx.Done():
			return nil
		}
	}
}

func (m *Model) listenNotices() tea.Cmd {
	ctx, notices := m.ctx, m.opts.Notifier.Notices()
	return func() tea.Msg {
		select {
		case n := <-notices:
			return noticeMsg(n)
		case <-ctx.Done():
			return nil
		}
	}
}

func (m *Model) loadHistory() tea.Cmd {
	lister, limit := m.opts.History, m.opts.HistoryLimit
	return func() tea.Msg {
		if lister == nil {
			return historyLoadedMsg(nil, nil)
		}
		gens, err := lister.List(map[string]any{"limit": limit})
		return historyLoadedMsg(gens, err)
	}
}

func (m *Model) renderPrompt() string {
	title := styles.title.Render("genx")

	tabs := make([]string, len(m.opts.Generators))
	for i, g := range m.opts.Generators {
		if i == m.current {
			tabs[i] = styles.active.Render(string(g.Kind()))
		} else {
			tabs[i] = styles.help.Render(string(g.Kind()))
		}
	}

	var running string
	if g := m.generator(); g != nil {
		if s := m.states[g.Kind()]; s.Generating {
			running = "\n\n" + styles.warn.Render(fmt.Sprintf(
				"%s generation running (%d%%). Submitting a new prompt supersedes it.", g.Kind(), s.Progress))
		}
	}

	helpKeys := []key.Binding{m.keys.submit, m.keys.kind, m.keys.history, m.keys.watch, m.keys.exit}
	helpView := m.help.ShortHelpView(helpKeys)
	return fmt.Sprintf("%s\n%s\n\n%s%s\n\n%s", title, strings.Join(tabs, "  "), m.input.View(), running, helpView)
}

func (m *Model) renderProgress() string {
	g := m.generator()
	if g == nil {
		return ""
	}
	s := m.states[g.Kind()]
	title := styles.title.Render(fmt.Sprintf("Generating %s", g.Kind()))

	status := "Submitting..."
	if s.TaskID != "" {
		status = fmt.Sprintf("Task %s: %s", s.TaskID, s.Status)
	}

	helpKeys := []key.Binding{m.keys.cancel, m.keys.back, m.keys.quit}
	helpView := m.help.ShortHelpView(helpKeys)
	return fmt.Sprintf("%s\n%s\n\n%s\n%s\n\n%s",
		title, s.Prompt, m.bar.ViewAs(float64(s.Progress)/100), status, helpView)
}

func (m *Model) renderResult() string {
	g := m.generator()
	if g == nil {
		return ""
	}
	s := m.states[g.Kind()]
	helpKeys := []key.Binding{m.keys.again, m.keys.history, m.keys.quit}
	helpView := m.help.ShortHelpView(helpKeys)

	if s.Status.IsFailure() {
		reason := "Generation failed. Please try again."
		if len(s.Errors) > 0 {
			reason = strings.Join(s.Errors, "; ")
		}
		return fmt.Sprintf("%s\n%s\n\n%s", styles.err.Render("✗ Generation failed"), reason, helpView)
	}

	title := styles.ok.Render(fmt.Sprintf("✓ %s generation complete", g.Kind()))
	var results strings.Builder
	for _, u := range s.Results {
		results.WriteString("\n  • " + u)
	}
	return fmt.Sprintf("%s\n%s%s\n\n%s", title, s.Prompt, results.String(), helpView)
}

func (m *Model) renderHistory() string {
	helpKeys := []key.Binding{m.keys.back, m.keys.quit}
	helpView := m.help.ShortHelpView(helpKeys)
	return fmt.Sprintf("%s\n\n%s", m.history.View(), helpView)
}

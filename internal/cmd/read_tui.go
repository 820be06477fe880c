package cmd

import (
	"context"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/runger/storykit/internal/reader"
)

// changedMsg is sent when the controller reports a state change.
type changedMsg struct{}

// followDoneMsg is sent when the backend subscription ends.
type followDoneMsg struct{}

// readerModel is the Bubble Tea model for the interactive reader.
type readerModel struct {
	ctx        context.Context
	ctrl       *reader.Controller
	followDone <-chan struct{}

	view    reader.View
	spinner spinner.Model
	bar     progress.Model
	width   int
}

func newReaderModel(ctx context.Context, ctrl *reader.Controller, followDone <-chan struct{}) readerModel {
	return readerModel{
		ctx:        ctx,
		ctrl:       ctrl,
		followDone: followDone,
		view:       ctrl.View(),
		spinner:    spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(styleCaption)),
		bar:        progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
		width:      80,
	}
}

// Init implements tea.Model.
func (m readerModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitChange(), m.waitFollow())
}

func (m readerModel) waitChange() tea.Cmd {
	ctx, changes := m.ctx, m.ctrl.Changes()
	return func() tea.Msg {
		select {
		case <-changes:
			return changedMsg{}
		case <-ctx.Done():
			return nil
		}
	}
}

func (m readerModel) waitFollow() tea.Cmd {
	done := m.followDone
	if done == nil {
		return nil
	}
	return func() tea.Msg {
		<-done
		return followDoneMsg{}
	}
}

// Update implements tea.Model.
func (m readerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case changedMsg:
		m.view = m.ctrl.View()
		return m, m.waitChange()

	case followDoneMsg:
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m readerModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc", "ctrl+c":
		return m, tea.Quit
	case "right", "l", "n", " ", "enter":
		m.ctrl.Next()
	case "left", "h", "p":
		m.ctrl.Prev()
	case "home", "g":
		m.ctrl.SetPage(0)
	case "end", "G":
		m.ctrl.SetPage(m.view.TotalPages - 1)
	default:
		return m, nil
	}
	m.view = m.ctrl.View()
	return m, nil
}

// View implements tea.Model.
func (m readerModel) View() string {
	var b strings.Builder
	b.WriteString(renderView(m.view, m.width))
	b.WriteRune('\n')

	if m.view.TotalPages > 0 {
		m.bar.Width = min(m.width, 72) - 2
		b.WriteString(m.bar.ViewAs(m.view.Progress / 100))
		b.WriteRune('\n')
	}
	if m.view.Loading {
		b.WriteString(m.spinner.View() + " " + styleDim.Render("waiting for the backend"))
		b.WriteRune('\n')
	}
	b.WriteString(styleDim.Render("←/→ turn page · g/G first/last · q quit"))
	return b.String()
}

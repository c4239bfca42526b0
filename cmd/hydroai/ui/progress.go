package ui

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
)

// ProgressMsg reports a percentage and the current stage.
type ProgressMsg struct {
	Pct   int
	Stage string
}

// DoneMsg ends the progress view.
type DoneMsg struct {
	Err error
}

// ProgressModel is a single progress bar with a stage line.
type ProgressModel struct {
	title     string
	bar       progress.Model
	styles    Styles
	pct       int
	stage     string
	done      bool
	err       error
	cancelled bool
}

// NewProgressModel creates the view for a long-running operation.
func NewProgressModel(title string) ProgressModel {
	return ProgressModel{
		title:  title,
		bar:    progress.New(progress.WithDefaultGradient(), progress.WithWidth(50)),
		styles: DefaultStyles(),
	}
}

func (m ProgressModel) Init() tea.Cmd { return nil }

func (m ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case ProgressMsg:
		m.pct = max(0, min(100, msg.Pct))
		m.stage = msg.Stage
	case DoneMsg:
		m.done = true
		m.err = msg.Err
		return m, tea.Quit
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.cancelled = true
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.bar.Width = max(10, min(60, msg.Width-4))
	}
	return m, nil
}

func (m ProgressModel) View() string {
	var sb strings.Builder
	sb.WriteString(m.styles.Title.Render(m.title))
	sb.WriteString("\n\n")
	sb.WriteString(m.bar.ViewAs(float64(m.pct) / 100))
	sb.WriteString("\n")
	switch {
	case m.cancelled:
		sb.WriteString(m.styles.Warn("cancelled"))
	case m.done && m.err != nil:
		sb.WriteString(m.styles.Fail("%v", m.err))
	case m.done:
		sb.WriteString(m.styles.Check("done"))
	default:
		sb.WriteString(m.styles.Muted.Render(m.stage))
	}
	sb.WriteString("\n")
	return sb.String()
}

// Percent returns the last reported percentage.
func (m ProgressModel) Percent() int { return m.pct }

// Cancelled reports whether the user quit the view.
func (m ProgressModel) Cancelled() bool { return m.cancelled }

// RunWithProgress runs work while rendering a progress bar to out. Quitting
// the view cancels the context passed to work; RunWithProgress always waits
// for work to return.
func RunWithProgress(ctx context.Context, title string, out io.Writer, work func(ctx context.Context, report func(int, string)) error, opts ...tea.ProgramOption) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(NewProgressModel(title), append([]tea.ProgramOption{tea.WithOutput(out)}, opts...)...)
	errCh := make(chan error, 1)
	go func() {
		err := work(ctx, func(pct int, stage string) { p.Send(ProgressMsg{Pct: pct, Stage: stage}) })
		errCh <- err
		p.Send(DoneMsg{Err: err})
	}()

	final, runErr := p.Run()
	if m, ok := final.(ProgressModel); ok && m.Cancelled() {
		cancel()
	}
	workErr := <-errCh
	if workErr != nil {
		return workErr
	}
	return runErr
}

// PlainProgress returns a reporter that prints one line per stage.
func PlainProgress(w io.Writer) func(int, string) {
	return func(pct int, stage string) {
		fmt.Fprintf(w, "[%3d%%] %s\n", pct, stage)
	}
}

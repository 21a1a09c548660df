package prompt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/schaermu/cmakesyncd/internal/config"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true)
	infoStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	errStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	selectedStyle = lipgloss.NewStyle().Bold(true).Underline(true)
)

// Prompter asks the user a yes/no question
type Prompter interface {
	// Confirm returns true only on an explicit yes. A dismissed or timed out
	// prompt returns false with a nil error.
	Confirm(ctx context.Context, question string) (bool, error)
}

// Notifier shows the outcome of a manifest operation to the user
type Notifier interface {
	Info(msg string)
	Error(msg string)
}

// New builds the prompter for the configured mode. In ask mode a terminal
// prompt is used when in is a TTY; otherwise every question is declined.
func New(cfg config.PromptConfig, in *os.File, out io.Writer, logger *slog.Logger) Prompter {
	switch cfg.Mode {
	case config.PromptAlways:
		return Fixed(true)
	case config.PromptNever:
		return Fixed(false)
	}

	if !IsTerminal(in) {
		logger.Warn("stdin is not a terminal, created files will not be offered for adding")
		return Fixed(false)
	}

	return &Terminal{
		in:      in,
		out:     out,
		timeout: cfg.Timeout,
	}
}

// IsTerminal reports whether f is connected to a terminal
func IsTerminal(f *os.File) bool {
	if f == nil {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Fixed answers every question with the same value
type Fixed bool

// Confirm implements Prompter
func (f Fixed) Confirm(ctx context.Context, _ string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, nil
	}
	return bool(f), nil
}

// Terminal asks on an interactive terminal, one question at a time
type Terminal struct {
	mu      sync.Mutex
	in      io.Reader
	out     io.Writer
	timeout time.Duration
}

// Confirm implements Prompter
func (t *Terminal) Confirm(ctx context.Context, question string) (bool, error) {
	// Prompts share the terminal, so they queue here
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return false, nil
	}

	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	p := tea.NewProgram(confirmModel{title: question},
		tea.WithContext(ctx),
		tea.WithInput(t.in),
		tea.WithOutput(t.out))

	result, err := p.Run()
	if err != nil {
		if errors.Is(err, tea.ErrProgramKilled) || ctx.Err() != nil {
			return false, nil
		}
		return false, fmt.Errorf("failed to run prompt: %w", err)
	}

	m := result.(confirmModel)
	if m.aborted {
		return false, nil
	}
	return m.value, nil
}

// confirmModel is a bubbletea model for a yes/no confirmation
type confirmModel struct {
	title   string
	value   bool
	done    bool
	aborted bool
}

func (m confirmModel) Init() tea.Cmd {
	return nil
}

func (m confirmModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.aborted = true
			return m, tea.Quit
		case "enter":
			m.done = true
			return m, tea.Quit
		case "y", "Y":
			m.value = true
			m.done = true
			return m, tea.Quit
		case "n", "N":
			m.value = false
			m.done = true
			return m, tea.Quit
		case "left", "right", "tab", "h", "l":
			m.value = !m.value
		}
	}
	return m, nil
}

func (m confirmModel) View() string {
	if m.done || m.aborted {
		return ""
	}
	yes := " Yes "
	no := " No "
	if m.value {
		yes = selectedStyle.Render(" Yes ")
	} else {
		no = selectedStyle.Render(" No ")
	}
	return fmt.Sprintf("%s %s / %s\n", titleStyle.Render(m.title), yes, no)
}

// Console prints notifications to a writer and mirrors them to the log
type Console struct {
	mu     sync.Mutex
	out    io.Writer
	logger *slog.Logger
}

// NewConsole creates a notifier writing to out
func NewConsole(out io.Writer, logger *slog.Logger) *Console {
	return &Console{out: out, logger: logger}
}

// Info implements Notifier
func (c *Console) Info(msg string) {
	c.logger.Debug("notification", "kind", "info", "message", msg)
	c.write(infoStyle.Render(msg))
}

// Error implements Notifier
func (c *Console) Error(msg string) {
	c.logger.Debug("notification", "kind", "error", "message", msg)
	c.write(errStyle.Render(msg))
}

func (c *Console) write(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintln(c.out, s)
}

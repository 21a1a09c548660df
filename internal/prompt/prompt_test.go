package prompt

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/schaermu/cmakesyncd/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestFixed(t *testing.T) {
	ctx := context.Background()

	yes, err := Fixed(true).Confirm(ctx, "add?")
	if err != nil || !yes {
		t.Errorf("Fixed(true) = %v, %v", yes, err)
	}
	no, err := Fixed(false).Confirm(ctx, "add?")
	if err != nil || no {
		t.Errorf("Fixed(false) = %v, %v", no, err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if ok, _ := Fixed(true).Confirm(cancelled, "add?"); ok {
		t.Error("cancelled context should dismiss the prompt")
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name string
		mode config.PromptMode
		want Prompter
	}{
		{name: "always", mode: config.PromptAlways, want: Fixed(true)},
		{name: "never", mode: config.PromptNever, want: Fixed(false)},
		// nil input is never a terminal
		{name: "ask headless", mode: config.PromptAsk, want: Fixed(false)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := New(config.PromptConfig{Mode: tt.mode}, nil, &bytes.Buffer{}, testLogger())
			if got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestConfirmModel(t *testing.T) {
	tests := []struct {
		name        string
		keys        []tea.KeyMsg
		wantValue   bool
		wantDone    bool
		wantAborted bool
	}{
		{
			name:      "y accepts",
			keys:      []tea.KeyMsg{{Type: tea.KeyRunes, Runes: []rune("y")}},
			wantValue: true,
			wantDone:  true,
		},
		{
			name:     "n declines",
			keys:     []tea.KeyMsg{{Type: tea.KeyRunes, Runes: []rune("n")}},
			wantDone: true,
		},
		{
			name:     "enter keeps default no",
			keys:     []tea.KeyMsg{{Type: tea.KeyEnter}},
			wantDone: true,
		},
		{
			name:      "toggle then enter",
			keys:      []tea.KeyMsg{{Type: tea.KeyTab}, {Type: tea.KeyEnter}},
			wantValue: true,
			wantDone:  true,
		},
		{
			name:        "esc dismisses",
			keys:        []tea.KeyMsg{{Type: tea.KeyEsc}},
			wantAborted: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m tea.Model = confirmModel{title: "Add?"}
			for _, k := range tt.keys {
				m, _ = m.Update(k)
			}
			cm := m.(confirmModel)
			if cm.value != tt.wantValue {
				t.Errorf("value = %v, want %v", cm.value, tt.wantValue)
			}
			if cm.done != tt.wantDone {
				t.Errorf("done = %v, want %v", cm.done, tt.wantDone)
			}
			if cm.aborted != tt.wantAborted {
				t.Errorf("aborted = %v, want %v", cm.aborted, tt.wantAborted)
			}
		})
	}
}

func TestConfirmModel_View(t *testing.T) {
	m := confirmModel{title: "Would you like to add foo.cpp to the CMakeLists.txt?"}
	view := m.View()
	if !strings.Contains(view, "foo.cpp") || !strings.Contains(view, "Yes") || !strings.Contains(view, "No") {
		t.Errorf("unexpected view %q", view)
	}

	m.done = true
	if m.View() != "" {
		t.Error("finished prompt should render nothing")
	}
}

func TestTerminal_CancelledContext(t *testing.T) {
	term := &Terminal{in: strings.NewReader(""), out: &bytes.Buffer{}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ok, err := term.Confirm(ctx, "add?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("cancelled prompt should not confirm")
	}
}

func TestConsole(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf, testLogger())

	c.Info(`Added "src/foo.cpp" to CMakeLists.txt!`)
	c.Error("Couldn't find '#VSCODE-CMAKE-EXT-MARKER' in your CMakeLists.txt")

	out := buf.String()
	if !strings.Contains(out, `Added "src/foo.cpp" to CMakeLists.txt!`) {
		t.Errorf("info message missing from %q", out)
	}
	if !strings.Contains(out, "Couldn't find") {
		t.Errorf("error message missing from %q", out)
	}
	if got := strings.Count(out, "\n"); got != 2 {
		t.Errorf("expected 2 lines, got %d", got)
	}
}

// Package clipboard copies share links to the system clipboard
package clipboard

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"
)

// Logger is satisfied by *slog.Logger
type Logger interface {
	Debug(msg string, keyvals ...any)
	Warn(msg string, keyvals ...any)
}

// CopiedMsg reports the outcome of an asynchronous copy
type CopiedMsg struct {
	Text string
	Err  error
}

// Service writes text to the clipboard
type Service struct {
	logger  Logger
	command string

	// primary is the library writer; replaced in tests
	primary func(string) error
	// run executes a fallback command with text on stdin
	run func(ctx context.Context, argv []string, text string) error
}

// NewService creates a clipboard writer. command, when set, is used if the
// clipboard library fails.
func NewService(logger Logger, command string) *Service {
	return &Service{
		logger:  logger,
		command: command,
		primary: clipboard.WriteAll,
		run:     runWithStdin,
	}
}

// Copy writes text, falling back to the configured or platform command
func (s *Service) Copy(ctx context.Context, text string) error {
	err := s.primary(text)
	if err == nil {
		s.logger.Debug("copied to clipboard", "length", len(text))
		return nil
	}
	s.logger.Warn("clipboard library failed, trying command", "error", err)

	argv := parseCommand(s.command)
	if len(argv) == 0 {
		argv = defaultCommand()
	}
	if len(argv) == 0 {
		return fmt.Errorf("no clipboard tool found (install wl-clipboard, xclip or xsel): %w", err)
	}

	if cmdErr := s.run(ctx, argv, text); cmdErr != nil {
		return fmt.Errorf("failed to copy with %s: %w", argv[0], errors.Join(err, cmdErr))
	}
	s.logger.Debug("copied to clipboard", "command", argv[0], "length", len(text))
	return nil
}

// CopyCmd runs Copy off the UI goroutine and reports a CopiedMsg
func (s *Service) CopyCmd(text string) tea.Cmd {
	return func() tea.Msg {
		return CopiedMsg{Text: text, Err: s.Copy(context.Background(), text)}
	}
}

func runWithStdin(ctx context.Context, argv []string, text string) error {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = strings.NewReader(text)
	return cmd.Run()
}

// defaultCommand picks a platform clipboard tool that exists in PATH
func defaultCommand() []string {
	switch runtime.GOOS {
	case "windows":
		return []string{"clip.exe"}
	case "darwin":
		return []string{"pbcopy"}
	}
	if isWSL() {
		return []string{"clip.exe"}
	}
	for _, argv := range [][]string{
		{"wl-copy"},
		{"xclip", "-selection", "clipboard"},
		{"xsel", "--clipboard", "--input"},
	} {
		if _, err := exec.LookPath(argv[0]); err == nil {
			return argv
		}
	}
	return nil
}

// parseCommand splits a command line, respecting single and double quotes
func parseCommand(command string) []string {
	var parts []string
	var current strings.Builder
	var quote rune
	inWord := false

	for _, r := range command {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				current.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			inWord = true
		case r == ' ' || r == '\t':
			if inWord {
				parts = append(parts, current.String())
				current.Reset()
				inWord = false
			}
		default:
			current.WriteRune(r)
			inWord = true
		}
	}
	if inWord {
		parts = append(parts, current.String())
	}
	return parts
}

func isWSL() bool {
	data, err := os.ReadFile("/proc/version")
	if err != nil {
		return false
	}
	version := strings.ToLower(string(data))
	return strings.Contains(version, "microsoft") || strings.Contains(version, "wsl")
}

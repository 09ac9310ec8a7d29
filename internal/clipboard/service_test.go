package clipboard

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}

func TestCopy_PrimarySucceeds(t *testing.T) {
	s := NewService(nopLogger{}, "")
	var got string
	s.primary = func(text string) error { got = text; return nil }
	s.run = func(context.Context, []string, string) error {
		t.Fatal("fallback must not run")
		return nil
	}

	require.NoError(t, s.Copy(context.Background(), "https://ciphertv.dev/watch/a/b"))
	assert.Equal(t, "https://ciphertv.dev/watch/a/b", got)
}

func TestCopy_FallsBackToConfiguredCommand(t *testing.T) {
	s := NewService(nopLogger{}, `wl-copy --type "text/plain"`)
	s.primary = func(string) error { return errors.New("no display") }

	var argv []string
	var stdin string
	s.run = func(_ context.Context, a []string, text string) error {
		argv, stdin = a, text
		return nil
	}

	require.NoError(t, s.Copy(context.Background(), "link"))
	assert.Equal(t, []string{"wl-copy", "--type", "text/plain"}, argv)
	assert.Equal(t, "link", stdin)
}

func TestCopy_BothFail(t *testing.T) {
	s := NewService(nopLogger{}, "false")
	s.primary = func(string) error { return errors.New("no display") }
	s.run = func(context.Context, []string, string) error { return errors.New("exit status 1") }

	err := s.Copy(context.Background(), "link")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no display")
	assert.Contains(t, err.Error(), "exit status 1")
}

func TestCopyCmd(t *testing.T) {
	s := NewService(nopLogger{}, "")
	s.primary = func(string) error { return nil }

	msg := s.CopyCmd("link")()
	copied, ok := msg.(CopiedMsg)
	require.True(t, ok)
	assert.Equal(t, "link", copied.Text)
	assert.NoError(t, copied.Err)
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"pbcopy", []string{"pbcopy"}},
		{"xclip -selection clipboard", []string{"xclip", "-selection", "clipboard"}},
		{`sh -c 'cat > /tmp/x'`, []string{"sh", "-c", "cat > /tmp/x"}},
		{`tool ""`, []string{"tool", ""}},
		{"  spaced   out  ", []string{"spaced", "out"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseCommand(tt.in))
		})
	}
}

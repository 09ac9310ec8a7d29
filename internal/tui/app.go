package tui

import (
	"context"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/justchokingaround/ciphertv/internal/player"
	"github.com/justchokingaround/ciphertv/internal/tui/common"
)

// Bridge forwards playback callbacks into a running program. Messages sent
// before the program starts are queued.
type Bridge struct {
	mu      sync.Mutex
	program *tea.Program
	pending []tea.Msg
}

// Send delivers msg to the program
func (b *Bridge) Send(msg tea.Msg) {
	b.mu.Lock()
	p := b.program
	if p == nil {
		b.pending = append(b.pending, msg)
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()
	p.Send(msg)
}

// Status forwards an engine snapshot
func (b *Bridge) Status(st player.Status) {
	b.Send(common.StatusMsg{Status: st})
}

// Error forwards a fatal playback error
func (b *Bridge) Error(err error) {
	b.Send(common.ErrorMsg{Err: err})
}

// Notice forwards a transient notice
func (b *Bridge) Notice(text string) {
	b.Send(common.NoticeMsg{Text: text})
}

// Ended forwards the end of the episode
func (b *Bridge) Ended() {
	b.Send(common.EndedMsg{})
}

func (b *Bridge) attach(p *tea.Program) {
	b.mu.Lock()
	b.program = p
	pending := b.pending
	b.pending = nil
	b.mu.Unlock()

	go func() {
		for _, msg := range pending {
			p.Send(msg)
		}
	}()
}

// Changes is implemented by player.Engine
type Changes interface {
	OnChange(fn func(player.Status)) (unsubscribe func())
}

// Run starts the TUI and blocks until it exits
func Run(ctx context.Context, opts Options, bridge *Bridge, changes Changes) error {
	if opts.Context == nil {
		opts.Context = ctx
	}
	if bridge == nil {
		bridge = &Bridge{}
	}

	p := tea.NewProgram(NewApp(opts), tea.WithAltScreen(), tea.WithContext(ctx))
	bridge.attach(p)
	if changes != nil {
		unsubscribe := changes.OnChange(bridge.Status)
		defer unsubscribe()
	}

	_, err := p.Run()
	return err
}

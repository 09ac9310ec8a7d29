package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/justchokingaround/ciphertv/internal/tui/common"
	"github.com/justchokingaround/ciphertv/internal/tui/components/help"
	"github.com/justchokingaround/ciphertv/internal/tui/components/history"
	"github.com/justchokingaround/ciphertv/internal/tui/components/playback"
)

type sessionState int

const (
	playbackView sessionState = iota
	historyView
)

// Options wires the TUI to the playback stack
type Options struct {
	Context    context.Context
	Engine     playback.Engine
	Controller playback.Controller
	Copier     playback.Copier
	// History is optional; without it the history view reports it is disabled
	History      history.Store
	HistoryLimit int
	Provider     string

	// AnimeID and EpisodeID are mounted on start when set
	AnimeID   string
	EpisodeID string

	// OnQuit runs before the program exits
	OnQuit func()
}

// App is the root model
type App struct {
	state    sessionState
	playback playback.Model
	history  history.Model
	help     help.Model

	initial *common.WatchMsg
	onQuit  func()

	width  int
	height int
}

// NewApp creates the root model
func NewApp(opts Options) App {
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	limit := opts.HistoryLimit
	if limit <= 0 {
		limit = 100
	}

	hp := help.New()
	hp.SetProviderName(opts.Provider)
	hp.SetContext(help.PlaybackContext)

	app := App{
		state:    playbackView,
		playback: playback.New(ctx, opts.Engine, opts.Controller, opts.Copier),
		history:  history.New(opts.History, limit),
		help:     hp,
		onQuit:   opts.OnQuit,
	}
	if opts.AnimeID != "" && opts.EpisodeID != "" {
		app.initial = &common.WatchMsg{AnimeID: opts.AnimeID, EpisodeID: opts.EpisodeID}
	}
	return app
}

// Init starts the playback view and mounts the initial episode
func (a App) Init() tea.Cmd {
	cmds := []tea.Cmd{a.playback.Init()}
	if a.initial != nil {
		msg := *a.initial
		cmds = append(cmds, func() tea.Msg { return msg })
	} else {
		cmds = append(cmds, func() tea.Msg { return common.GoToHistoryMsg{} })
	}
	return tea.Batch(cmds...)
}

// Update routes messages to the active view
func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width, a.height = msg.Width, msg.Height
		a.playback.SetSize(msg.Width, msg.Height)
		a.history.SetSize(msg.Width, msg.Height)
		a.help.SetSize(msg.Width, msg.Height)
		return a, nil

	case tea.KeyMsg:
		return a.handleKey(msg)

	case common.WatchMsg:
		a.state = playbackView
		a.help.SetContext(help.PlaybackContext)
		cmd = a.playback.Watch(msg.AnimeID, msg.EpisodeID)
		return a, cmd

	case common.GoToHistoryMsg:
		a.state = historyView
		a.help.SetContext(help.HistoryContext)
		return a, a.history.Refresh()

	case common.GoToPlaybackMsg:
		a.state = playbackView
		a.help.SetContext(help.PlaybackContext)
		return a, nil

	case history.LoadHistoryMsg, history.DeleteHistoryItemMsg:
		a.history, cmd = a.history.Update(msg)
		return a, cmd
	}

	a.playback, cmd = a.playback.Update(msg)
	return a, cmd
}

func (a App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	if msg.String() == "ctrl+c" {
		return a.quit()
	}
	if a.help.IsVisible() {
		a.help, cmd = a.help.Update(msg)
		return a, cmd
	}

	typing := a.state == historyView && a.history.IsInputActive()
	if !typing {
		switch msg.String() {
		case "q":
			return a.quit()
		case "?":
			a.help.Toggle()
			return a, nil
		case "h":
			if a.state == playbackView {
				return a.Update(common.GoToHistoryMsg{})
			}
		}
	}

	if a.state == historyView {
		a.history, cmd = a.history.Update(msg)
		return a, cmd
	}
	a.playback, cmd = a.playback.Update(msg)
	return a, cmd
}

func (a App) quit() (tea.Model, tea.Cmd) {
	if a.onQuit != nil {
		a.onQuit()
	}
	return a, tea.Quit
}

// View renders the active view, or the help panel over it
func (a App) View() string {
	if a.help.IsVisible() {
		return a.help.View()
	}
	if a.state == historyView {
		return a.history.View()
	}
	return a.playback.View()
}

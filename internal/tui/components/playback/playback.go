// Package playback is the watch screen: it mirrors the playback engine and
// maps keys onto its controls and the watch controller.
package playback

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/justchokingaround/ciphertv/internal/clipboard"
	"github.com/justchokingaround/ciphertv/internal/player"
	"github.com/justchokingaround/ciphertv/internal/tui/common"
	"github.com/justchokingaround/ciphertv/internal/tui/styles"
	"github.com/justchokingaround/ciphertv/internal/tui/utils"
	"github.com/justchokingaround/ciphertv/internal/watch"
)

const (
	seekStep   = 10.0
	volumeStep = 0.05
)

// Engine is the part of player.Engine the screen controls
type Engine interface {
	Status() player.Status
	TogglePlay(ctx context.Context)
	SeekBy(ctx context.Context, delta float64) error
	SetVolume(ctx context.Context, volume float64) error
	ToggleMute(ctx context.Context) error
	ToggleFullscreen(ctx context.Context) error
}

// Controller is the part of watch.Controller the screen drives
type Controller interface {
	Watch(ctx context.Context, animeID, episodeID string) (*watch.Episode, error)
	Retry(ctx context.Context) (*watch.Episode, error)
	Next(ctx context.Context) (*watch.Episode, error)
	Previous(ctx context.Context) (*watch.Episode, error)
	CycleQuality() (string, error)
	ShareLink() (string, error)
}

// Copier writes text to the clipboard
type Copier interface {
	CopyCmd(text string) tea.Cmd
}

// controlFailedMsg reports a control the output refused
type controlFailedMsg struct {
	action string
	err    error
}

// Model is the playback screen
type Model struct {
	ctx    context.Context
	engine Engine
	ctl    Controller
	copier Copier

	keys     KeyMap
	help     help.Model
	progress progress.Model
	spinner  spinner.Model

	status  player.Status
	episode *watch.Episode
	notice  string
	err     error
	busy    bool

	width  int
	height int
}

// New creates the playback screen
func New(ctx context.Context, engine Engine, ctl Controller, copier Copier) Model {
	bar := progress.New(
		progress.WithSolidFill(string(styles.OxocarbonPurple)),
		progress.WithoutPercentage(),
		progress.WithWidth(40),
	)
	spin := spinner.New(spinner.WithSpinner(spinner.Dot))
	spin.Style = lipgloss.NewStyle().Foreground(styles.OxocarbonTeal)

	return Model{
		ctx:      ctx,
		engine:   engine,
		ctl:      ctl,
		copier:   copier,
		keys:     DefaultKeyMap(),
		help:     help.New(),
		progress: bar,
		spinner:  spin,
		status:   engine.Status(),
	}
}

// SetSize sets the dimensions of the view
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.progress.Width = max(width-20, 10)
	m.help.Width = width
}

// Init starts the spinner
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Watch mounts an episode off the UI goroutine
func (m *Model) Watch(animeID, episodeID string) tea.Cmd {
	m.busy = true
	m.err = nil
	m.notice = ""
	ctx, ctl := m.ctx, m.ctl
	return tea.Batch(m.spinner.Tick, func() tea.Msg {
		ep, err := ctl.Watch(ctx, animeID, episodeID)
		return common.EpisodeLoadedMsg{Episode: ep, Err: err}
	})
}

// Episode returns the mounted episode, or nil
func (m Model) Episode() *watch.Episode {
	return m.episode
}

// Status returns the last mirrored engine status
func (m Model) Status() player.Status {
	return m.status
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.SetSize(msg.Width, msg.Height)
		return m, nil

	case common.StatusMsg:
		m.status = msg.Status
		if msg.Status.Notice != "" {
			m.notice = msg.Status.Notice
		}
		return m, nil

	case common.EpisodeLoadedMsg:
		m.busy = false
		if msg.Err != nil {
			m.err = msg.Err
			return m, nil
		}
		m.err = nil
		m.episode = msg.Episode
		if msg.Episode != nil && msg.Episode.ResolveErr != nil {
			m.notice = "Sources unavailable: " + msg.Episode.ResolveErr.Error()
		}
		return m, nil

	case common.QualitySwitchedMsg:
		if msg.Err != nil {
			m.err = msg.Err
			return m, nil
		}
		if m.episode != nil {
			m.episode.Quality = msg.Quality
		}
		m.notice = "Quality: " + msg.Quality
		return m, nil

	case common.NoticeMsg:
		m.notice = msg.Text
		return m, nil

	case common.ErrorMsg:
		m.err = msg.Err
		return m, nil

	case common.EndedMsg:
		m.notice = "Episode finished. Press n for the next one."
		return m, nil

	case clipboard.CopiedMsg:
		if msg.Err != nil {
			m.err = fmt.Errorf("copy failed: %w", msg.Err)
		} else {
			m.notice = "Link copied: " + msg.Text
		}
		return m, nil

	case controlFailedMsg:
		m.notice = fmt.Sprintf("%s failed: %v", msg.action, msg.err)
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (Model, tea.Cmd) {
	ctx, engine := m.ctx, m.engine
	ui := m.status.UI

	switch {
	case key.Matches(msg, m.keys.PlayPause):
		return m, func() tea.Msg {
			engine.TogglePlay(ctx)
			return nil
		}
	case key.Matches(msg, m.keys.SeekBack):
		return m, control("seek", func() error { return engine.SeekBy(ctx, -seekStep) })
	case key.Matches(msg, m.keys.SeekForward):
		return m, control("seek", func() error { return engine.SeekBy(ctx, seekStep) })
	case key.Matches(msg, m.keys.VolumeUp):
		return m, control("volume", func() error { return engine.SetVolume(ctx, ui.Volume+volumeStep) })
	case key.Matches(msg, m.keys.VolumeDown):
		return m, control("volume", func() error { return engine.SetVolume(ctx, ui.Volume-volumeStep) })
	case key.Matches(msg, m.keys.Mute):
		return m, control("mute", func() error { return engine.ToggleMute(ctx) })
	case key.Matches(msg, m.keys.Fullscreen):
		return m, control("fullscreen", func() error { return engine.ToggleFullscreen(ctx) })
	case key.Matches(msg, m.keys.Quality):
		ctl := m.ctl
		return m, func() tea.Msg {
			q, err := ctl.CycleQuality()
			return common.QualitySwitchedMsg{Quality: q, Err: err}
		}
	case key.Matches(msg, m.keys.NextEpisode):
		return m.episodeCmd(m.ctl.Next)
	case key.Matches(msg, m.keys.PrevEpisode):
		return m.episodeCmd(m.ctl.Previous)
	case key.Matches(msg, m.keys.Retry):
		return m.episodeCmd(m.ctl.Retry)
	case key.Matches(msg, m.keys.Share):
		link, err := m.ctl.ShareLink()
		if err != nil {
			m.err = err
			return m, nil
		}
		if m.copier == nil {
			m.notice = link
			return m, nil
		}
		return m, m.copier.CopyCmd(link)
	}
	return m, nil
}

func (m Model) episodeCmd(fn func(context.Context) (*watch.Episode, error)) (Model, tea.Cmd) {
	m.busy = true
	m.notice = ""
	ctx := m.ctx
	return m, tea.Batch(m.spinner.Tick, func() tea.Msg {
		ep, err := fn(ctx)
		return common.EpisodeLoadedMsg{Episode: ep, Err: err}
	})
}

func control(action string, fn func() error) tea.Cmd {
	return func() tea.Msg {
		if err := fn(); err != nil {
			return controlFailedMsg{action: action, err: err}
		}
		return nil
	}
}

// View renders the playback screen
func (m Model) View() string {
	var b strings.Builder

	title := m.status.Title
	if title == "" && m.episode != nil {
		title = m.episode.Title
	}
	if title == "" {
		title = "ciphertv"
	}
	if m.width > 8 {
		title = utils.TruncateWithWidth(title, m.width-4)
	}
	b.WriteString(styles.TitleStyle.Render(title) + "\n")
	if ep := m.episode; ep != nil && ep.Number > 0 && ep.Info != nil && ep.Info.EpisodeCount() > 0 {
		b.WriteString(styles.SubtitleStyle.Render(fmt.Sprintf("Episode %d of %d", ep.Number, ep.Info.EpisodeCount())) + "\n")
	}
	b.WriteString("\n")

	header := styles.FormatStateBadge(m.status.State)
	if m.busy || m.status.State == player.StateLoading {
		header = m.spinner.View() + " " + header
	}
	if m.status.UsingFallback {
		header += styles.NoticeStyle.Render(" fallback stream")
	}
	b.WriteString(header + "\n\n")

	ui := m.status.UI
	b.WriteString(m.progress.ViewAs(ui.Percentage() / 100))
	b.WriteString(" " + styles.MetadataStyle.Render(utils.FormatTime(ui.CurrentTime)+" / "+utils.FormatTime(ui.Duration)))
	b.WriteString("\n")

	volume := fmt.Sprintf("Volume %d%%", int(ui.Volume*100+0.5))
	if ui.IsMuted {
		volume += " (muted)"
	}
	if ui.IsFullscreen {
		volume += " • fullscreen"
	}
	b.WriteString(styles.MetadataStyle.Render(volume) + "\n")

	if q := m.qualities(); q != "" {
		b.WriteString("\n" + q + "\n")
	}

	switch {
	case ui.ErrorMessage != "":
		b.WriteString("\n" + styles.ErrorStyle.Render(ui.ErrorMessage) + "\n")
	case m.err != nil:
		b.WriteString("\n" + styles.ErrorStyle.Render(errorText(m.err)) + "\n")
	}
	if m.notice != "" {
		b.WriteString("\n" + styles.NoticeStyle.Render(m.notice) + "\n")
	}

	b.WriteString("\n" + m.help.View(m.keys))
	return b.String()
}

func (m Model) qualities() string {
	if m.episode == nil || len(m.episode.Sources) == 0 {
		return ""
	}
	active := m.status.Quality
	if active == "" {
		active = m.episode.Quality
	}
	var parts []string
	for _, label := range m.episode.Qualities() {
		if label == active {
			parts = append(parts, styles.BadgeSelectedStyle.Render(label))
			continue
		}
		parts = append(parts, styles.BadgeStyle.Render(label))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

func errorText(err error) string {
	switch {
	case errors.Is(err, watch.ErrNoNextEpisode), errors.Is(err, watch.ErrNoPreviousEpisode):
		return err.Error()
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "Error: " + err.Error()
	}
}

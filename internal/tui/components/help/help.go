package help

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/justchokingaround/ciphertv/internal/tui/styles"
	"github.com/samber/lo"
)

// HelpContext represents which view the help is being shown in
type HelpContext int

const (
	GlobalContext HelpContext = iota
	PlaybackContext
	HistoryContext
)

// Shortcut represents a keyboard shortcut with its description
type Shortcut struct {
	Key         string
	Description string
	Context     []HelpContext
}

// Model represents the help panel state
type Model struct {
	context      HelpContext
	width        int
	height       int
	visible      bool
	provider     string
	scrollOffset int
}

var allShortcuts = []Shortcut{
	{Key: "?", Description: "Show/hide this help", Context: []HelpContext{GlobalContext}},
	{Key: "h", Description: "Watch history", Context: []HelpContext{GlobalContext}},
	{Key: "q / ctrl+c", Description: "Quit", Context: []HelpContext{GlobalContext}},

	{Key: "space", Description: "Play / pause", Context: []HelpContext{PlaybackContext}},
	{Key: "← / →", Description: "Seek 10s", Context: []HelpContext{PlaybackContext}},
	{Key: "↑ / ↓", Description: "Volume", Context: []HelpContext{PlaybackContext}},
	{Key: "m", Description: "Mute", Context: []HelpContext{PlaybackContext}},
	{Key: "f", Description: "Fullscreen", Context: []HelpContext{PlaybackContext}},
	{Key: "tab", Description: "Next quality", Context: []HelpContext{PlaybackContext}},
	{Key: "n / p", Description: "Next / previous episode", Context: []HelpContext{PlaybackContext}},
	{Key: "s", Description: "Copy share link", Context: []HelpContext{PlaybackContext}},
	{Key: "r", Description: "Retry", Context: []HelpContext{PlaybackContext}},

	{Key: "↑/↓ or j/k", Description: "Navigate", Context: []HelpContext{HistoryContext}},
	{Key: "enter", Description: "Resume episode", Context: []HelpContext{HistoryContext}},
	{Key: "/", Description: "Filter history", Context: []HelpContext{HistoryContext}},
	{Key: "x", Description: "Delete selected item", Context: []HelpContext{HistoryContext}},
	{Key: "esc", Description: "Back to playback", Context: []HelpContext{HistoryContext}},
}

// New creates a new help model
func New() Model {
	return Model{context: GlobalContext}
}

// SetProviderName sets the source provider shown in the header
func (m *Model) SetProviderName(name string) {
	m.provider = name
}

// SetSize sets the area the panel is centered in
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case tea.KeyMsg:
		if !m.visible {
			return m, nil
		}
		switch msg.String() {
		case "up", "k":
			if m.scrollOffset > 0 {
				m.scrollOffset--
			}
		case "down", "j":
			m.scrollOffset++
		case "home", "g":
			m.scrollOffset = 0
		case "esc", "?":
			m.Hide()
		}
	}
	return m, nil
}

// View renders the help panel
func (m Model) View() string {
	if !m.visible || m.width == 0 || m.height == 0 {
		return ""
	}

	var content strings.Builder
	if m.provider != "" {
		content.WriteString(styles.SubtitleStyle.Render("Provider: " + m.provider))
		content.WriteString("\n")
	}

	content.WriteString(styles.HeaderStyle.Render("General"))
	content.WriteString("\n")
	for _, sc := range filterByContext(allShortcuts, GlobalContext) {
		content.WriteString(renderShortcutLine(sc))
		content.WriteString("\n")
	}

	if m.context != GlobalContext {
		content.WriteString(styles.HeaderStyle.Render(contextName(m.context)))
		content.WriteString("\n")
		for _, sc := range filterByContext(allShortcuts, m.context) {
			content.WriteString(renderShortcutLine(sc))
			content.WriteString("\n")
		}
	}

	lines := strings.Split(strings.TrimRight(content.String(), "\n"), "\n")
	available := max(m.height-6, 10)
	offset := min(m.scrollOffset, max(len(lines)-available, 0))
	end := min(offset+available, len(lines))

	title := "KEYBOARD SHORTCUTS"
	if len(lines) > available {
		title += fmt.Sprintf(" (%d-%d/%d)", offset+1, end, len(lines))
	}

	boxWidth := 56
	if m.width < boxWidth+4 {
		boxWidth = max(m.width-4, 30)
	}
	titleBar := styles.TitleStyle.
		Width(boxWidth - 4).
		Align(lipgloss.Center).
		Render(title)

	box := styles.PopupStyle.
		Width(boxWidth).
		Render(titleBar + "\n" + strings.Join(lines[offset:end], "\n"))

	if lipgloss.Height(box) >= m.height {
		return box
	}
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, box)
}

// SetContext sets the current help context
func (m *Model) SetContext(ctx HelpContext) {
	m.context = ctx
}

// Toggle toggles the visibility of the help panel
func (m *Model) Toggle() {
	if m.visible {
		m.Hide()
		return
	}
	m.Show()
}

// Show shows the help panel
func (m *Model) Show() {
	m.visible = true
	m.scrollOffset = 0
}

// Hide hides the help panel
func (m *Model) Hide() {
	m.visible = false
	m.scrollOffset = 0
}

// IsVisible returns whether the help panel is visible
func (m Model) IsVisible() bool {
	return m.visible
}

func renderShortcutLine(sc Shortcut) string {
	keyStyle := lipgloss.NewStyle().
		Foreground(styles.OxocarbonPurple).
		Bold(true).
		Width(14)
	return "  " + keyStyle.Render(sc.Key) + styles.MetadataStyle.Render(sc.Description)
}

func contextName(ctx HelpContext) string {
	switch ctx {
	case PlaybackContext:
		return "Playback"
	case HistoryContext:
		return "History"
	default:
		return ""
	}
}

func filterByContext(shortcuts []Shortcut, ctx HelpContext) []Shortcut {
	return lo.Filter(shortcuts, func(sc Shortcut, _ int) bool {
		return lo.Contains(sc.Context, ctx)
	})
}

package history

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/samber/lo"

	"github.com/justchokingaround/ciphertv/internal/history"
	"github.com/justchokingaround/ciphertv/internal/tui/common"
	"github.com/justchokingaround/ciphertv/internal/tui/styles"
	"github.com/justchokingaround/ciphertv/internal/tui/utils"
)

// Store is the part of the history service the view reads and edits
type Store interface {
	Recent(limit int) ([]history.Item, error)
	DeleteByID(id uint) error
}

// Model represents the history TUI component
type Model struct {
	store Store
	limit int

	items        []history.Item
	currentIndex int
	err          error

	width  int
	height int
	ready  bool

	fuzzySearch *common.FuzzySearch
	keys        KeyMap
}

// KeyMap defines keybindings for history view
type KeyMap struct {
	Up     key.Binding
	Down   key.Binding
	Select key.Binding
	Search key.Binding
	Delete key.Binding
	Back   key.Binding
}

// DefaultKeyMap returns default keybindings
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "down"),
		),
		Select: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "resume"),
		),
		Search: key.NewBinding(
			key.WithKeys("/"),
			key.WithHelp("/", "filter"),
		),
		Delete: key.NewBinding(
			key.WithKeys("x"),
			key.WithHelp("x", "delete"),
		),
		Back: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "back"),
		),
	}
}

// New creates a history view showing at most limit entries
func New(store Store, limit int) Model {
	return Model{
		store:       store,
		limit:       limit,
		fuzzySearch: common.NewFuzzySearch(),
		keys:        DefaultKeyMap(),
	}
}

// SetSize sets the dimensions of the view
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
}

// Init loads the history
func (m Model) Init() tea.Cmd {
	return m.Refresh()
}

// Refresh reloads the history from the store
func (m Model) Refresh() tea.Cmd {
	store, limit := m.store, m.limit
	return func() tea.Msg {
		if store == nil {
			return LoadHistoryMsg{Err: fmt.Errorf("history is disabled")}
		}
		items, err := store.Recent(limit)
		return LoadHistoryMsg{Items: items, Err: err}
	}
}

// IsInputActive reports whether keys are going to the filter input
func (m Model) IsInputActive() bool {
	return m.fuzzySearch.IsActive()
}

// Filtered returns the items matching the filter
func (m Model) Filtered() []history.Item {
	labels := lo.Map(m.items, func(it history.Item, _ int) string { return itemTitle(it) })
	return lo.Map(m.fuzzySearch.Filter(labels), func(i int, _ int) history.Item { return m.items[i] })
}

// Selected returns the highlighted item
func (m Model) Selected() (history.Item, bool) {
	filtered := m.Filtered()
	if m.currentIndex < 0 || m.currentIndex >= len(filtered) {
		return history.Item{}, false
	}
	return filtered[m.currentIndex], true
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case LoadHistoryMsg:
		m.items, m.err = msg.Items, msg.Err
		m.ready = true
		m.currentIndex = min(m.currentIndex, max(len(m.Filtered())-1, 0))
		return m, nil

	case DeleteHistoryItemMsg:
		if msg.Err != nil {
			m.err = msg.Err
			return m, nil
		}
		return m, m.Refresh()

	case tea.WindowSizeMsg:
		m.SetSize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		if m.fuzzySearch.IsActive() {
			switch msg.String() {
			case "esc":
				m.fuzzySearch.Deactivate()
				m.currentIndex = 0
				return m, nil
			case "enter", "up", "down":
			default:
				cmd := m.fuzzySearch.Update(msg)
				m.currentIndex = 0
				return m, cmd
			}
		}

		switch {
		case key.Matches(msg, m.keys.Up):
			if m.currentIndex > 0 {
				m.currentIndex--
			}
		case key.Matches(msg, m.keys.Down):
			if m.currentIndex < len(m.Filtered())-1 {
				m.currentIndex++
			}
		case key.Matches(msg, m.keys.Search):
			return m, m.fuzzySearch.Activate()
		case key.Matches(msg, m.keys.Select):
			if item, ok := m.Selected(); ok {
				return m, func() tea.Msg {
					return common.WatchMsg{AnimeID: item.AnimeID, EpisodeID: item.EpisodeID}
				}
			}
		case key.Matches(msg, m.keys.Delete):
			if item, ok := m.Selected(); ok && m.store != nil {
				store := m.store
				return m, func() tea.Msg {
					return DeleteHistoryItemMsg{ID: item.ID, Err: store.DeleteByID(item.ID)}
				}
			}
		case key.Matches(msg, m.keys.Back):
			return m, func() tea.Msg { return common.GoToPlaybackMsg{} }
		}
	}
	return m, nil
}

// View renders the history list
func (m Model) View() string {
	if !m.ready {
		return "Loading history..."
	}

	var content strings.Builder
	content.WriteString(styles.TitleStyle.Render("Watch History") + "\n")

	if m.err != nil {
		content.WriteString(styles.ErrorStyle.Render(m.err.Error()) + "\n")
	}

	filtered := m.Filtered()
	count := styles.SubtitleStyle.Render(fmt.Sprintf("%d items", len(filtered)))
	if m.fuzzySearch.Query() != "" {
		count += styles.MetadataStyle.Render(" (filtered)")
	}
	content.WriteString(count + "\n")
	if m.fuzzySearch.IsActive() {
		content.WriteString(m.fuzzySearch.View() + "\n")
	}
	content.WriteString("\n")

	if len(filtered) == 0 {
		if m.fuzzySearch.Query() != "" {
			content.WriteString(styles.MetadataStyle.Render("No history items match your search."))
		} else {
			content.WriteString(styles.MetadataStyle.Render("No watch history yet."))
		}
		content.WriteString("\n")
	}

	start, end := m.visibleRange(len(filtered))
	for i := start; i < end; i++ {
		content.WriteString(m.renderItem(filtered[i], i == m.currentIndex) + "\n")
	}

	helpText := "↑/↓ nav • enter resume • / filter • x delete • esc back"
	if m.fuzzySearch.IsActive() {
		helpText = "type to filter • enter resume • esc clear"
	}
	return content.String() + "\n" + styles.HelpStyle.Render(helpText)
}

// visibleRange keeps the cursor on screen, each item taking two lines
func (m Model) visibleRange(total int) (int, int) {
	perPage := total
	if m.height > 0 {
		perPage = max((m.height-8)/2, 1)
	}
	start := 0
	if m.currentIndex >= perPage {
		start = m.currentIndex - perPage + 1
	}
	return start, min(start+perPage, total)
}

func (m Model) renderItem(item history.Item, selected bool) string {
	style := styles.NormalItemStyle
	if selected {
		style = styles.SelectedItemStyle
	}

	title := itemTitle(item)
	if m.width > 8 {
		title = utils.TruncateWithWidth(title, m.width-4)
	}

	var meta []string
	if item.Completed {
		meta = append(meta, "Completed")
	} else {
		meta = append(meta, fmt.Sprintf("%s / %s (%.0f%%)",
			utils.FormatTime(float64(item.ProgressSeconds)),
			utils.FormatTime(float64(item.TotalSeconds)),
			item.ProgressPercent))
	}
	if item.Quality != "" {
		meta = append(meta, item.Quality)
	}
	if item.UsedFallback {
		meta = append(meta, "fallback")
	}
	meta = append(meta, humanize.Time(item.WatchedAt))

	return style.Render(title) + "\n" + style.Render(styles.MetadataStyle.Render(strings.Join(meta, " • ")))
}

func itemTitle(item history.Item) string {
	if item.AnimeTitle != "" {
		return item.AnimeTitle
	}
	if item.Episode > 0 {
		return fmt.Sprintf("%s - Episode %d", item.AnimeID, item.Episode)
	}
	return item.AnimeID
}

package common

import (
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/justchokingaround/ciphertv/internal/tui/styles"
	"github.com/sahilm/fuzzy"
)

// FuzzySearch filters a list view by a typed query
type FuzzySearch struct {
	input  textinput.Model
	active bool
	query  string
}

// NewFuzzySearch creates an inactive filter
func NewFuzzySearch() *FuzzySearch {
	ti := textinput.New()
	ti.Placeholder = "Type to filter..."
	ti.Prompt = ""
	ti.CharLimit = 200
	ti.TextStyle = styles.MetadataStyle
	ti.PlaceholderStyle = styles.HelpStyle

	return &FuzzySearch{input: ti}
}

// Activate enables fuzzy search mode
func (f *FuzzySearch) Activate() tea.Cmd {
	f.active = true
	f.input.SetValue("")
	f.query = ""
	f.input.Focus()
	return textinput.Blink
}

// Deactivate disables fuzzy search mode and clears the query
func (f *FuzzySearch) Deactivate() {
	f.active = false
	f.input.Blur()
	f.input.SetValue("")
	f.query = ""
}

// IsActive returns whether the filter is being edited
func (f *FuzzySearch) IsActive() bool {
	return f.active
}

// Query returns the current search query
func (f *FuzzySearch) Query() string {
	return f.query
}

// Update feeds input to the filter while it is active
func (f *FuzzySearch) Update(msg tea.Msg) tea.Cmd {
	if !f.active {
		return nil
	}
	var cmd tea.Cmd
	f.input, cmd = f.input.Update(msg)
	f.query = f.input.Value()
	return cmd
}

// View renders the filter input
func (f *FuzzySearch) View() string {
	if !f.active {
		return ""
	}
	label := styles.MetadataStyle.Render("Filter: ")
	prompt := styles.SubtitleStyle.Render("┃")
	hint := styles.HelpStyle.Render(" (esc to clear)")
	return label + prompt + " " + f.input.View() + hint
}

// Filter returns the indices of items matching the query, best match first.
// Without a query every index is returned in order.
func (f *FuzzySearch) Filter(items []string) []int {
	if f.query == "" {
		indices := make([]int, len(items))
		for i := range indices {
			indices[i] = i
		}
		return indices
	}

	matches := fuzzy.Find(f.query, items)
	indices := make([]int, len(matches))
	for i, match := range matches {
		indices[i] = match.Index
	}
	return indices
}

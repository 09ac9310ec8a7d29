package playback

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines keybindings for the playback view
type KeyMap struct {
	PlayPause   key.Binding
	SeekBack    key.Binding
	SeekForward key.Binding
	VolumeUp    key.Binding
	VolumeDown  key.Binding
	Mute        key.Binding
	Fullscreen  key.Binding
	Quality     key.Binding
	NextEpisode key.Binding
	PrevEpisode key.Binding
	Share       key.Binding
	Retry       key.Binding
}

// DefaultKeyMap returns default keybindings
func DefaultKeyMap() KeyMap {
	return KeyMap{
		PlayPause: key.NewBinding(
			key.WithKeys(" ", "space"),
			key.WithHelp("space", "play/pause"),
		),
		SeekBack: key.NewBinding(
			key.WithKeys("left"),
			key.WithHelp("←", "-10s"),
		),
		SeekForward: key.NewBinding(
			key.WithKeys("right"),
			key.WithHelp("→", "+10s"),
		),
		VolumeUp: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑", "volume up"),
		),
		VolumeDown: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓", "volume down"),
		),
		Mute: key.NewBinding(
			key.WithKeys("m"),
			key.WithHelp("m", "mute"),
		),
		Fullscreen: key.NewBinding(
			key.WithKeys("f"),
			key.WithHelp("f", "fullscreen"),
		),
		Quality: key.NewBinding(
			key.WithKeys("tab"),
			key.WithHelp("tab", "quality"),
		),
		NextEpisode: key.NewBinding(
			key.WithKeys("n"),
			key.WithHelp("n", "next"),
		),
		PrevEpisode: key.NewBinding(
			key.WithKeys("p"),
			key.WithHelp("p", "previous"),
		),
		Share: key.NewBinding(
			key.WithKeys("s"),
			key.WithHelp("s", "share"),
		),
		Retry: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "retry"),
		),
	}
}

// ShortHelp implements help.KeyMap
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.PlayPause, k.SeekBack, k.SeekForward, k.Quality, k.NextEpisode, k.Share}
}

// FullHelp implements help.KeyMap
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.PlayPause, k.SeekBack, k.SeekForward},
		{k.VolumeUp, k.VolumeDown, k.Mute, k.Fullscreen},
		{k.Quality, k.NextEpisode, k.PrevEpisode, k.Share, k.Retry},
	}
}

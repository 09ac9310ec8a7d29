package history

import (
	"github.com/justchokingaround/ciphertv/internal/history"
)

// LoadHistoryMsg carries the stored history
type LoadHistoryMsg struct {
	Items []history.Item
	Err   error
}

// DeleteHistoryItemMsg reports a finished delete
type DeleteHistoryItemMsg struct {
	ID  uint
	Err error
}

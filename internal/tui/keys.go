package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Up          key.Binding
	Down        key.Binding
	PageUp      key.Binding
	PageDown    key.Binding
	Top         key.Binding
	Bottom      key.Binding
	Open        key.Binding
	Close       key.Binding
	NextTab     key.Binding
	Search      key.Binding
	StatusClass key.Binding
	Protocol    key.Binding
	Widen       key.Binding
	Narrow      key.Binding
	Clear       key.Binding
	Quit        key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		Up:          key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		Down:        key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		PageUp:      key.NewBinding(key.WithKeys("pgup", "ctrl+u"), key.WithHelp("pgup", "page up")),
		PageDown:    key.NewBinding(key.WithKeys("pgdown", "ctrl+d"), key.WithHelp("pgdn", "page down")),
		Top:         key.NewBinding(key.WithKeys("home", "g"), key.WithHelp("g", "newest")),
		Bottom:      key.NewBinding(key.WithKeys("end", "G"), key.WithHelp("G", "oldest")),
		Open:        key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "inspect")),
		Close:       key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "close")),
		NextTab:     key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "raw/pretty/hex")),
		Search:      key.NewBinding(key.WithKeys("/"), key.WithHelp("/", "search")),
		StatusClass: key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "status class")),
		Protocol:    key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "protocol")),
		Widen:       key.NewBinding(key.WithKeys(">"), key.WithHelp(">", "widen url")),
		Narrow:      key.NewBinding(key.WithKeys("<"), key.WithHelp("<", "narrow url")),
		Clear:       key.NewBinding(key.WithKeys("ctrl+x"), key.WithHelp("ctrl+x", "clear history")),
		Quit:        key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Open, k.Search, k.StatusClass, k.Protocol, k.NextTab, k.Clear, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.PageUp, k.PageDown, k.Top, k.Bottom},
		{k.Open, k.Close, k.NextTab},
		{k.Search, k.StatusClass, k.Protocol, k.Widen, k.Narrow, k.Clear, k.Quit},
	}
}

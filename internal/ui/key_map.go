package ui

import "github.com/charmbracelet/bubbles/key"

// keyMap defines the [key.Binding] mapping for the TUI.
//
// The prompt view owns every printable key, so bindings active there use control keys.
type keyMap struct {
	submit  key.Binding
	kind    key.Binding
	history key.Binding
	watch   key.Binding
	cancel  key.Binding
	back    key.Binding
	again   key.Binding
	quit    key.Binding
	exit    key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		submit:  key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "generate")),
		kind:    key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "switch kind")),
		history: key.NewBinding(key.WithKeys("ctrl+r"), key.WithHelp("ctrl+r", "history")),
		watch:   key.NewBinding(key.WithKeys("ctrl+p"), key.WithHelp("ctrl+p", "progress")),
		cancel:  key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "cancel")),
		back:    key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "back")),
		again:   key.NewBinding(key.WithKeys("enter", "n"), key.WithHelp("enter", "new prompt")),
		quit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
		exit:    key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "quit")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.submit, k.kind, k.history, k.watch},
		{k.cancel, k.back, k.again},
		{k.quit},
	}
}

// Package ui implements an interactive terminal interface using bubbletea's Elm architecture.
//
// The TUI drives one [tasks.Generator] per generation kind:
//  1. [PromptView] : Type a prompt and pick image, video or chat with tab
//  2. [ProgressView] : Follow the tracked task, cancel it with c
//  3. [ResultView] : Show result URLs or the joined failure message
//  4. [HistoryView] : Browse recorded generations
//
// The (view) [Model] implements bubbletea/Elm's standard Init/Update/View pattern, receiving messages via the Msg union type.
// Each generator's Updates channel has one long-lived reader command that re-arms itself, so state from a slot keeps
// flowing while another slot is shown. Toasts arrive through a [Notifier] the same way.
package ui

package ui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/genx/internal/models"
	"github.com/desertthunder/genx/internal/tasks"
)

// MsgKind enumerates all message types in the application.
type MsgKind int

// Msg represents all possible messages in the TUI (Elm-style message union).
type Msg struct {
	kind MsgKind
	data any
}

var (
	_ tea.Msg = Msg{}
)

const (
	MsgStateUpdate MsgKind = iota
	MsgGenerateDone
	MsgCancelDone
	MsgHistoryLoaded
	MsgNotice
)

type stateUpdate struct {
	gen   *tasks.Generator
	state tasks.GeneratorState
}

type cancelResult struct {
	refunded int
	err      error
}

type historyResult struct {
	generations []*models.Generation
	err         error
}

// stateUpdateMsg is the constructor for [MsgStateUpdate]
func stateUpdateMsg(g *tasks.Generator, s tasks.GeneratorState) Msg {
	return Msg{kind: MsgStateUpdate, data: stateUpdate{g, s}}
}

// generateDoneMsg is the constructor for [MsgGenerateDone]
func generateDoneMsg(err error) Msg {
	return Msg{kind: MsgGenerateDone, data: err}
}

// cancelDoneMsg is the constructor for [MsgCancelDone]
func cancelDoneMsg(refunded int, err error) Msg {
	return Msg{kind: MsgCancelDone, data: cancelResult{refunded, err}}
}

// historyLoadedMsg is the constructor for [MsgHistoryLoaded]
func historyLoadedMsg(gens []*models.Generation, err error) Msg {
	return Msg{kind: MsgHistoryLoaded, data: historyResult{gens, err}}
}

// noticeMsg is the constructor for [MsgNotice]
func noticeMsg(n Notice) Msg {
	return Msg{kind: MsgNotice, data: n}
}

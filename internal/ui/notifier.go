package ui

import (
	"github.com/desertthunder/genx/internal/tasks"
)

var _ tasks.Notifier = (*Notifier)(nil)

// Level is the severity of a [Notice].
type Level int

const (
	LevelSuccess Level = iota
	LevelError
	LevelWarn
)

// Notice is a toast shown under the active view.
type Notice struct {
	Level   Level
	Message string
}

// Notifier forwards generator messages into the TUI. Notices beyond the buffer are dropped.
type Notifier struct {
	notices chan Notice
}

// NewNotifier creates a [Notifier] buffering up to 16 notices.
func NewNotifier() *Notifier {
	return &Notifier{notices: make(chan Notice, 16)}
}

func (n *Notifier) Success(msg string) { n.send(Notice{LevelSuccess, msg}) }
func (n *Notifier) Error(msg string)   { n.send(Notice{LevelError, msg}) }
func (n *Notifier) Warn(msg string)    { n.send(Notice{LevelWarn, msg}) }

// Notices delivers pending notices.
func (n *Notifier) Notices() <-chan Notice { return n.notices }

func (n *Notifier) send(notice Notice) {
	select {
	case n.notices <- notice:
	default:
	}
}

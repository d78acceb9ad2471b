// Package push implements the process-wide push channel: one authenticated WebSocket
// that carries every task event and notification for the session.
//
// Frames are JSON envelopes, `{"type": ..., "data": ...}`. A [Client] demultiplexes them by
// type to handlers registered with [Client.On], then to handlers registered with [Client.OnAny].
// Malformed frames are dropped.
//
// # Reconnection
//
// States: disconnected, connecting, open and reconnect-scheduled. An unexpected close schedules
// a reconnect after a delay that starts at [DefaultInitialDelay] and doubles up to [DefaultMaxDelay].
// After [DefaultMaxAttempts] scheduled attempts the client gives up silently. A successful open
// resets the attempt counter and delay. [Client.Disconnect] cancels any pending reconnect and is
// terminal until the next [Client.Connect].
//
// Socket errors are not surfaced. Consumers rely on polling to cover gaps.
package push

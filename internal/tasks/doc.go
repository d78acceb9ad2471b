// Package tasks follows backend generation tasks and drives generation slots.
//
// # Tracking
//
// A [Tracker] follows one task id at a time. It merges two sources of [models.TaskProgress] snapshots:
//   - push events (task_progress and generation_complete) from a [Subscriber], filtered by task id
//   - a poll loop over a [Fetcher] that fetches immediately, then every 2s for the first 30s and every 5s after
//
// The first terminal snapshot seals the task: later snapshots from either source are ignored and exactly one
// of [Callbacks.OnComplete] or [Callbacks.OnFailed] fires. Switching to a new task id discards everything
// known about the old one. Poll failures are logged at debug level and the loop keeps its cadence.
//
// # Generation
//
// A [Generator] owns one slot (image, video or chat). [Generator.Generate] checks quota, submits, and hands
// the returned task id to the tracker. A single image is answered inline without tracking. Completion resolves
// storage keys to URLs, records history and refreshes quota; [Generator.Cancel] resets the slot first and then
// asks the backend to cancel. Progress shown to the user never decreases within one generation.
//
// # Progress Reporting
//
// [Generator.Updates] and [ProgressUpdate] channels use select with default so reporting never blocks.
//
// # Downloads
//
// [Downloader] saves result files of finished generations through a rate-limited worker pool and writes a
// manifest summarizing successes and failures.
package tasks

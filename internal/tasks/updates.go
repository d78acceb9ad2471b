package tasks

import (
	"fmt"

	"github.com/desertthunder/genx/internal/models"
)

// ProgressUpdate represents a progress event during a bulk download.
//
// Used to send real-time updates to the CLI or UI layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data for advanced UIs
}

// Operation phase enumeration
type Phase int

const (
	CollectResults Phase = iota
	DownloadResults
	WriteManifest
)

func (p Phase) String() string {
	switch p {
	case CollectResults:
		return "collect_results"
	case DownloadResults:
		return "download_results"
	case WriteManifest:
		return "write_manifest"
	default:
		return ""
	}
}

// sendProgress sends update without blocking; a full or nil channel drops it.
func sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}

func collectUpdate(total, generations int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   CollectResults,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Found %d results across %d generations", total, generations),
	}
}

func downloadedUpdate(step, total int, res models.DownloadResult) ProgressUpdate {
	return ProgressUpdate{
		Phase:   DownloadResults,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✓ %s (%d bytes)", step, total, res.Path, res.Bytes),
		Data:    res,
	}
}

func downloadFailedUpdate(step, total int, res models.DownloadResult) ProgressUpdate {
	return ProgressUpdate{
		Phase:   DownloadResults,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✗ %s: %s", step, total, res.URL, res.Error),
		Data:    res,
	}
}

func manifestUpdate(path string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   WriteManifest,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Manifest written to %s", path),
	}
}

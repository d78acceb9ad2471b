package models

import "time"

// DownloadResult is the outcome of fetching one result URL to disk.
type DownloadResult struct {
	GenerationID string `json:"generation_id"`
	URL          string `json:"url"`
	Path         string `json:"path,omitempty"`
	Bytes        int64  `json:"bytes"`
	Error        string `json:"error,omitempty"`
}

// DownloadManifest summarizes a bulk download of generation results.
type DownloadManifest struct {
	Directory string           `json:"directory"`
	Total     int              `json:"total"`
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
	Results   []DownloadResult `json:"results"`
	CreatedAt time.Time        `json:"created_at"`
}

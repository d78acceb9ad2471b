package tasks

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/genx/internal/formatter"
	"github.com/desertthunder/genx/internal/models"
	"github.com/desertthunder/genx/internal/shared"
	"golang.org/x/time/rate"
)

// ManifestName is the file written alongside downloaded results.
const ManifestName = "download_manifest.json"

// DownloadOpts contains configuration for bulk result downloads.
type DownloadOpts struct {
	OutputDir  string       // Base output directory (default: genx_download_{epoch})
	NumWorkers int          // Concurrent workers (default: 4, max: 10)
	RateLimit  float64      // Requests per second (default: 5)
	Client     *http.Client // Nil uses a client with a 30 second timeout
}

type downloadJob struct {
	generationID string
	url          string
	index        int
}

// Downloader saves the result files of finished generations to disk.
type Downloader struct {
	logger *log.Logger
}

// NewDownloader creates a [Downloader].
func NewDownloader(logger *log.Logger) *Downloader {
	return &Downloader{logger: shared.WithLogger(logger, "component", "downloader")}
}

// Download fetches every result URL of gens concurrently with rate limiting and progress tracking.
//
// Individual failures are recorded in the manifest rather than aborting the run.
// The manifest is written to {OutputDir}/download_manifest.json.
func (d *Downloader) Download(
	ctx context.Context,
	prog chan<- ProgressUpdate,
	gens []*models.Generation,
	opts DownloadOpts,
) (*models.DownloadManifest, error) {
	if opts.OutputDir == "" {
		opts.OutputDir = fmt.Sprintf("genx_download_%d", time.Now().Unix())
	}
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 4
	}
	if opts.NumWorkers > 10 {
		opts.NumWorkers = 10
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 5.0
	}

	var jobs []downloadJob
	for _, g := range gens {
		for i, u := range g.ResultURLs {
			jobs = append(jobs, downloadJob{generationID: g.ID(), url: u, index: i})
		}
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("%w: no results to download", shared.ErrInvalidInput)
	}

	if err := os.MkdirAll(opts.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	manifest := &models.DownloadManifest{
		Directory: opts.OutputDir,
		Total:     len(jobs),
		Results:   make([]models.DownloadResult, 0, len(jobs)),
		CreatedAt: time.Now(),
	}
	sendProgress(prog, collectUpdate(len(jobs), len(gens)))

	limiter := rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	queue := make(chan downloadJob, len(jobs))
	results := make(chan models.DownloadResult, len(jobs))

	var wg sync.WaitGroup
	for range opts.NumWorkers {
		wg.Add(1)
		go d.worker(ctx, &wg, limiter, queue, results, opts)
	}

	for _, j := range jobs {
		queue <- j
	}
	close(queue)

	go func() {
		wg.Wait()
		close(results)
	}()

	completed := 0
	for res := range results {
		completed++
		manifest.Results = append(manifest.Results, res)

		if res.Error == "" {
			manifest.Succeeded++
			sendProgress(prog, downloadedUpdate(completed, len(jobs), res))
		} else {
			manifest.Failed++
			d.logger.Warn("download failed", "url", res.URL, "error", res.Error)
			sendProgress(prog, downloadFailedUpdate(completed, len(jobs), res))
		}
	}

	if err := ctx.Err(); err != nil {
		return manifest, err
	}

	manifestPath := filepath.Join(opts.OutputDir, ManifestName)
	if err := formatter.WriteManifest(manifest, manifestPath); err != nil {
		return manifest, fmt.Errorf("download completed but failed to write manifest: %w", err)
	}
	sendProgress(prog, manifestUpdate(manifestPath))
	return manifest, nil
}

// worker drains queue until it is closed or ctx is done.
func (d *Downloader) worker(
	ctx context.Context,
	wg *sync.WaitGroup,
	limiter *rate.Limiter,
	queue <-chan downloadJob,
	results chan<- models.DownloadResult,
	opts DownloadOpts,
) {
	defer wg.Done()

	for j := range queue {
		if ctx.Err() != nil {
			return
		}
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		results <- d.fetch(ctx, j, opts)
	}
}

func (d *Downloader) fetch(ctx context.Context, j downloadJob, opts DownloadOpts) models.DownloadResult {
	res := models.DownloadResult{GenerationID: j.generationID, URL: j.url}

	data, err := formatter.Download(ctx, opts.Client, j.url)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	target := filepath.Join(opts.OutputDir, fmt.Sprintf("%s_%d%s", j.generationID, j.index+1, extension(j.url)))
	if err := os.WriteFile(target, data, 0644); err != nil {
		res.Error = fmt.Sprintf("failed to write file: %v", err)
		return res
	}

	res.Path = target
	res.Bytes = int64(len(data))
	return res
}

// extension takes the file extension from the URL path, ignoring any query string.
func extension(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ".bin"
	}
	if ext := path.Ext(u.Path); ext != "" && len(ext) <= 6 {
		return ext
	}
	return ".bin"
}

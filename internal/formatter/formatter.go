// package formatter exports generation history to JSON, CSV, Markdown or plain text and writes download manifests
package formatter

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/desertthunder/genx/internal/models"
	"github.com/desertthunder/genx/internal/shared"
)

// Format is a history export format.
type Format string

const (
	FormatJSON     Format = "json"
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "markdown"
	FormatText     Format = "txt"
)

// ParseFormat accepts json, csv, markdown (or md) and txt (or text). Empty means json.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "csv":
		return FormatCSV, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "txt", "text":
		return FormatText, nil
	}
	return "", fmt.Errorf("%w: unknown export format %q", shared.ErrInvalidArgument, s)
}

// Extension returns the file extension used for f.
func (f Format) Extension() string {
	switch f {
	case FormatMarkdown:
		return ".md"
	case FormatText:
		return ".txt"
	case FormatCSV:
		return ".csv"
	default:
		return ".json"
	}
}

// Record is the serialized form of a [models.Generation].
type Record struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Prompt     string    `json:"prompt"`
	Provider   string    `json:"provider,omitempty"`
	Model      string    `json:"model,omitempty"`
	TaskID     string    `json:"task_id,omitempty"`
	Status     string    `json:"status"`
	ResultURLs []string  `json:"result_urls"`
	Errors     []string  `json:"errors,omitempty"`
	Refunded   int       `json:"refunded,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewRecord flattens g into a [Record].
func NewRecord(g *models.Generation) Record {
	urls := g.ResultURLs
	if urls == nil {
		urls = []string{}
	}
	return Record{
		ID:         g.ID(),
		Kind:       string(g.Kind),
		Prompt:     g.Prompt,
		Provider:   g.Provider,
		Model:      g.Model,
		TaskID:     g.TaskID,
		Status:     string(g.Status),
		ResultURLs: urls,
		Errors:     g.Errors,
		Refunded:   g.Refunded,
		CreatedAt:  g.CreatedAt(),
	}
}

// ExportToJSON renders generations as an indented JSON array.
func ExportToJSON(gens []*models.Generation) ([]byte, error) {
	records := make([]Record, 0, len(gens))
	for _, g := range gens {
		records = append(records, NewRecord(g))
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal history: %w", err)
	}
	return append(data, '\n'), nil
}

// ExportToCSV renders generations with columns: ID, Kind, Status, Prompt, Provider, Model, TaskID, Results, Errors, Refunded, CreatedAt.
//
// Multiple result URLs and errors are joined with a space and "; " respectively.
func ExportToCSV(gens []*models.Generation) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"ID", "Kind", "Status", "Prompt", "Provider", "Model", "TaskID", "Results", "Errors", "Refunded", "CreatedAt"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, g := range gens {
		record := []string{
			g.ID(),
			string(g.Kind),
			string(g.Status),
			g.Prompt,
			g.Provider,
			g.Model,
			g.TaskID,
			strings.Join(g.ResultURLs, " "),
			strings.Join(g.Errors, "; "),
			strconv.Itoa(g.Refunded),
			g.CreatedAt().UTC().Format(time.RFC3339),
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// ExportToMarkdown renders one section per generation. Image results are embedded, others linked.
func ExportToMarkdown(gens []*models.Generation) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString("# Generation History\n\n")
	fmt.Fprintf(&buf, "**Generations**: %d\n\n", len(gens))

	for i, g := range gens {
		fmt.Fprintf(&buf, "## %d. %s\n\n", i+1, markdownTitle(g.Prompt))
		fmt.Fprintf(&buf, "- **Kind**: %s\n", g.Kind)
		fmt.Fprintf(&buf, "- **Status**: %s\n", g.Status)
		if g.Provider != "" || g.Model != "" {
			fmt.Fprintf(&buf, "- **Model**: %s\n", strings.Trim(g.Provider+"/"+g.Model, "/"))
		}
		if g.Refunded > 0 {
			fmt.Fprintf(&buf, "- **Refunded**: %d\n", g.Refunded)
		}
		fmt.Fprintf(&buf, "- **Created**: %s\n\n", g.CreatedAt().UTC().Format(time.RFC3339))

		for j, u := range g.ResultURLs {
			if g.Kind == models.KindImage {
				fmt.Fprintf(&buf, "![Result %d](%s)\n", j+1, u)
			} else {
				fmt.Fprintf(&buf, "- [Result %d](%s)\n", j+1, u)
			}
		}
		for _, e := range g.Errors {
			fmt.Fprintf(&buf, "> %s\n", e)
		}
		buf.WriteString("\n")
	}

	return buf.Bytes(), nil
}

// ExportToText renders one line per generation followed by its result URLs.
func ExportToText(gens []*models.Generation) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "Generations: %d\n\n", len(gens))
	for i, g := range gens {
		fmt.Fprintf(&buf, "%d. [%s] %s (%s)\n", i+1, g.Kind, g.Prompt, g.Status)
		for _, u := range g.ResultURLs {
			fmt.Fprintf(&buf, "   %s\n", u)
		}
	}

	return buf.Bytes(), nil
}

// Export renders gens in format f.
func Export(gens []*models.Generation, f Format) ([]byte, error) {
	switch f {
	case FormatCSV:
		return ExportToCSV(gens)
	case FormatMarkdown:
		return ExportToMarkdown(gens)
	case FormatText:
		return ExportToText(gens)
	default:
		return ExportToJSON(gens)
	}
}

// WriteExport writes gens to path in format f and returns the path written.
//
// Defaults to genx_history_{epoch} with the format's extension.
func WriteExport(gens []*models.Generation, f Format, path string) (string, error) {
	if path == "" {
		path = fmt.Sprintf("genx_history_%d%s", time.Now().Unix(), f.Extension())
	}

	data, err := Export(gens, f)
	if err != nil {
		return "", err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("failed to create directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write export file: %w", err)
	}
	return path, nil
}

// WriteManifest writes m as indented JSON to path.
func WriteManifest(m *models.DownloadManifest, path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// Download fetches url and returns the raw bytes. A nil client uses a 30 second timeout.
func Download(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	if url == "" {
		return nil, fmt.Errorf("%w: empty URL provided", shared.ErrInvalidInput)
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return data, nil
}

// WriteTable prints a compact listing of gens, one row each.
func WriteTable(w io.Writer, gens []*models.Generation) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tSTATUS\tRESULTS\tCREATED\tPROMPT")
	for _, g := range gens {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			g.ID(), g.Kind, g.Status, len(g.ResultURLs),
			g.CreatedAt().Local().Format("2006-01-02 15:04"), truncate(g.Prompt, 48))
	}
	return tw.Flush()
}

// FormatGeneration renders every field of g for display.
func FormatGeneration(g *models.Generation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "ID:       %s\n", g.ID())
	fmt.Fprintf(&b, "Kind:     %s\n", g.Kind)
	fmt.Fprintf(&b, "Status:   %s\n", g.Status)
	fmt.Fprintf(&b, "Prompt:   %s\n", g.Prompt)
	if g.Provider != "" {
		fmt.Fprintf(&b, "Provider: %s\n", g.Provider)
	}
	if g.Model != "" {
		fmt.Fprintf(&b, "Model:    %s\n", g.Model)
	}
	if g.TaskID != "" {
		fmt.Fprintf(&b, "Task:     %s\n", g.TaskID)
	}
	if g.Refunded > 0 {
		fmt.Fprintf(&b, "Refunded: %d\n", g.Refunded)
	}
	fmt.Fprintf(&b, "Created:  %s\n", g.CreatedAt().Local().Format(time.RFC1123))
	for i, u := range g.ResultURLs {
		fmt.Fprintf(&b, "Result %d: %s\n", i+1, u)
	}
	for _, e := range g.Errors {
		fmt.Fprintf(&b, "Error:    %s\n", e)
	}
	return b.String()
}

func markdownTitle(prompt string) string {
	return truncate(strings.Join(strings.Fields(prompt), " "), 80)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

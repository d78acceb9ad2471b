package repositories

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/genx/internal/models"
	"github.com/desertthunder/genx/internal/shared"
)

const generationColumns = `id, sequence, kind, prompt, provider, model, task_id, status, result_urls, errors, refunded, created_at, updated_at, deleted_at`

// GenerationRepository implements [models.Repository] for [models.Generation] history.
type GenerationRepository struct {
	db *sql.DB
}

// NewGenerationRepository creates a new [GenerationRepository] with the given database connection
func NewGenerationRepository(db *sql.DB) *GenerationRepository {
	return &GenerationRepository{db: db}
}

// Create inserts a generation with a generated ID and sequence.
func (r *GenerationRepository) Create(g *models.Generation) error {
	sequence, err := NextSequence(r.db, "generations")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}

	g.SetID(shared.GenerateID())
	g.SetSequence(sequence)

	if err := g.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	urls, errs, err := encodeLists(g)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO generations (id, sequence, kind, prompt, provider, model, task_id, status, result_urls, errors, refunded, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.Exec(query,
		g.ID(), sequence, string(g.Kind), g.Prompt, g.Provider, g.Model, g.TaskID, string(g.Status),
		urls, errs, g.Refunded, g.CreatedAt(), g.UpdatedAt(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert generation: %w", err)
	}

	return nil
}

// Get retrieves a generation by ID, excluding soft-deleted rows
func (r *GenerationRepository) Get(id string) (*models.Generation, error) {
	query := `SELECT ` + generationColumns + ` FROM generations WHERE id = ? AND deleted_at IS NULL`

	g, err := scanGeneration(r.db.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", shared.ErrGenerationNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query generation: %w", err)
	}
	return g, nil
}

// GetByTaskID returns the most recent generation recorded for a backend task.
func (r *GenerationRepository) GetByTaskID(taskID string) (*models.Generation, error) {
	query := `SELECT ` + generationColumns + ` FROM generations
		WHERE task_id = ? AND deleted_at IS NULL
		ORDER BY sequence DESC LIMIT 1`

	g, err := scanGeneration(r.db.QueryRow(query, taskID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: task %s", shared.ErrGenerationNotFound, taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query generation: %w", err)
	}
	return g, nil
}

// Update rewrites the mutable fields of an existing generation
func (r *GenerationRepository) Update(g *models.Generation) error {
	if err := g.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	urls, errs, err := encodeLists(g)
	if err != nil {
		return err
	}

	now := time.Now()
	g.SetUpdatedAt(now)

	query := `
		UPDATE generations
		SET status = ?, result_urls = ?, errors = ?, refunded = ?, task_id = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`

	result, err := r.db.Exec(query, string(g.Status), urls, errs, g.Refunded, g.TaskID, now, g.ID())
	if err != nil {
		return fmt.Errorf("failed to update generation: %w", err)
	}
	return expectRow(result, g.ID())
}

// Delete soft-deletes a generation by ID
func (r *GenerationRepository) Delete(id string) error {
	query := `UPDATE generations SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`

	result, err := r.db.Exec(query, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to delete generation: %w", err)
	}
	return expectRow(result, id)
}

// List returns generations newest first, excluding soft-deleted rows.
//
// Supported criteria: "kind" (string or [models.Kind]), "status" (string or [models.TaskStatus]),
// "task_id" (string) and "limit" (int).
func (r *GenerationRepository) List(criteria map[string]any) ([]*models.Generation, error) {
	query := `SELECT ` + generationColumns + ` FROM generations WHERE deleted_at IS NULL`
	args := []any{}

	if kind := criterion[models.Kind](criteria, "kind"); kind != "" {
		query += " AND kind = ?"
		args = append(args, kind)
	}
	if status := criterion[models.TaskStatus](criteria, "status"); status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}
	if taskID, ok := criteria["task_id"].(string); ok && taskID != "" {
		query += " AND task_id = ?"
		args = append(args, taskID)
	}

	query += " ORDER BY sequence DESC"

	if limit, ok := criteria["limit"].(int); ok && limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query generations: %w", err)
	}
	defer rows.Close()

	var gens []*models.Generation
	for rows.Next() {
		g, err := scanGeneration(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan generation: %w", err)
		}
		gens = append(gens, g)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return gens, nil
}

// criterion reads a string-kinded criteria value given either as string or as T.
func criterion[T ~string](criteria map[string]any, key string) T {
	switch v := criteria[key].(type) {
	case string:
		return T(v)
	case T:
		return v
	}
	return ""
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGeneration(row rowScanner) (*models.Generation, error) {
	var (
		id, kind, prompt, provider, model, taskID, status string
		urls, errs                                        string
		sequence, refunded                                int
		createdAt, updatedAt                              time.Time
		deletedAt                                         sql.NullTime
	)

	err := row.Scan(&id, &sequence, &kind, &prompt, &provider, &model, &taskID, &status,
		&urls, &errs, &refunded, &createdAt, &updatedAt, &deletedAt)
	if err != nil {
		return nil, err
	}

	g := models.NewGeneration(models.Kind(kind), prompt)
	g.SetID(id)
	g.SetSequence(sequence)
	g.SetCreatedAt(createdAt)
	g.SetUpdatedAt(updatedAt)
	if deletedAt.Valid {
		g.SetDeletedAt(&deletedAt.Time)
	}
	g.Provider = provider
	g.Model = model
	g.TaskID = taskID
	g.Status = models.TaskStatus(status)
	g.Refunded = refunded

	if err := json.Unmarshal([]byte(urls), &g.ResultURLs); err != nil {
		return nil, fmt.Errorf("invalid result_urls for %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(errs), &g.Errors); err != nil {
		return nil, fmt.Errorf("invalid errors for %s: %w", id, err)
	}
	return g, nil
}

func encodeLists(g *models.Generation) (string, string, error) {
	urls, err := json.Marshal(nonNil(g.ResultURLs))
	if err != nil {
		return "", "", fmt.Errorf("failed to encode result urls: %w", err)
	}
	errs, err := json.Marshal(nonNil(g.Errors))
	if err != nil {
		return "", "", fmt.Errorf("failed to encode errors: %w", err)
	}
	return string(urls), string(errs), nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func expectRow(result sql.Result, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s not found or already deleted", shared.ErrGenerationNotFound, id)
	}
	return nil
}

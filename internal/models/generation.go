package models

import (
	"fmt"
	"time"
)

// Kind names a generation slot.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
	KindChat  Kind = "chat"
)

// ParseKind validates s as a [Kind].
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindImage, KindVideo, KindChat:
		return k, nil
	}
	return "", fmt.Errorf("unknown generation kind %q", s)
}

// Generation is a generation outcome kept in local history.
type Generation struct {
	id        string
	sequence  int
	createdAt time.Time
	updatedAt time.Time
	deletedAt *time.Time

	Kind       Kind
	Prompt     string
	Provider   string
	Model      string
	TaskID     string
	Status     TaskStatus
	ResultURLs []string
	Errors     []string
	Refunded   int
}

// NewGeneration creates a history entry stamped with the current time.
func NewGeneration(kind Kind, prompt string) *Generation {
	now := time.Now()
	return &Generation{Kind: kind, Prompt: prompt, createdAt: now, updatedAt: now}
}

func (g *Generation) ID() string { return g.id }
func (g *Generation) Sequence() int { return g.sequence }
func (g *Generation) CreatedAt() time.Time { return g.createdAt }
func (g *Generation) UpdatedAt() time.Time { return g.updatedAt }
func (g *Generation) DeletedAt() *time.Time { return g.deletedAt }
func (g *Generation) SetID(id string) { g.id = id }
func (g *Generation) SetSequence(seq int) { g.sequence = seq }
func (g *Generation) SetCreatedAt(t time.Time) { g.createdAt = t }
func (g *Generation) SetUpdatedAt(t time.Time) { g.updatedAt = t }
func (g *Generation) SetDeletedAt(t *time.Time) { g.deletedAt = t }

// Validate checks the fields the history table requires.
func (g *Generation) Validate() error {
	if g.id == "" {
		return fmt.Errorf("generation id is required")
	}
	if _, err := ParseKind(string(g.Kind)); err != nil {
		return err
	}
	if g.Prompt == "" {
		return fmt.Errorf("generation prompt is required")
	}
	if g.Status == StatusUnset {
		return fmt.Errorf("generation status is required")
	}
	return nil
}

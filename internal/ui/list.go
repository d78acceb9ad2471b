package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/desertthunder/genx/internal/models"
)

var (
	_ list.Item = generationItem{}
)

// generationItem wraps [models.Generation] to implement [list.Item].
type generationItem struct {
	gen *models.Generation
}

func (i generationItem) FilterValue() string { return i.gen.Prompt }
func (i generationItem) Title() string       { return i.gen.Prompt }
func (i generationItem) Description() string {
	parts := []string{string(i.gen.Kind), string(i.gen.Status)}
	if n := len(i.gen.ResultURLs); n > 0 {
		parts = append(parts, fmt.Sprintf("%d results", n))
	}
	if i.gen.Refunded > 0 {
		parts = append(parts, fmt.Sprintf("%d refunded", i.gen.Refunded))
	}
	parts = append(parts, i.gen.CreatedAt().Format("2006-01-02 15:04"))
	return strings.Join(parts, " • ")
}

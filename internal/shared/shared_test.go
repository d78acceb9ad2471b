package shared

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	tu "github.com/desertthunder/genx/internal/testing"
)

func TestLogger(t *testing.T) {
	t.Run("NewLogger Writes Key Values", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(&buf)
		WithLogger(logger, "component", "tracker").Info("applied snapshot", "task_id", "t1")

		out := buf.String()
		if !strings.Contains(out, "component=tracker") || !strings.Contains(out, "task_id=t1") {
			t.Errorf("expected structured fields in output, got %q", out)
		}
	})

	t.Run("SetLogLevel Filters Debug", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(&buf)
		SetLogLevel(logger, log.InfoLevel)
		logger.Debug("hidden")

		if buf.Len() != 0 {
			t.Errorf("expected debug output to be filtered, got %q", buf.String())
		}
	})

	t.Run("NewFileLogger Creates Directories", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "genx.log")
		logger, err := NewFileLogger(path)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		logger.Info("hello")

		if !strings.Contains(tu.MustReadFile(t, path), "hello") {
			t.Error("expected log line in file")
		}
	})
}

func TestGenerateID(t *testing.T) {
	a, b := GenerateID(), GenerateID()
	if a == b {
		t.Error("expected unique ids")
	}
	if len(a) != 36 {
		t.Errorf("expected uuid string, got %q", a)
	}
}

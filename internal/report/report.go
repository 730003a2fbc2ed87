// Package report writes a JSON summary of one run to the configured sinks: a
// local file, an S3 bucket, or both.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mesh-intelligence/mender/internal/metrics"
	"github.com/mesh-intelligence/mender/pkg/types"
)

// Report summarizes one batch of tasks.
type Report struct {
	Kind       types.Kind           `json:"kind"`
	StartedAt  time.Time            `json:"started_at"`
	FinishedAt time.Time            `json:"finished_at"`
	Tasks      []types.TaskOutcome  `json:"tasks"`
	Steps      []metrics.StepRecord `json:"steps"`
}

// OK reports whether every task completed cleanly.
func (r Report) OK() bool {
	for _, t := range r.Tasks {
		if !t.OK {
			return false
		}
	}
	return true
}

// Marshal renders the report as indented JSON.
func (r Report) Marshal() ([]byte, error) {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}
	return append(b, '\n'), nil
}

// Sink receives finished reports.
type Sink interface {
	Write(ctx context.Context, r Report) error
}

// FileSink writes each report to Path, replacing the previous one.
type FileSink struct {
	Path string
}

func (s FileSink) Write(_ context.Context, r Report) error {
	b, err := r.Marshal()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return fmt.Errorf("create report directory: %w", err)
	}
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write report %s: %w", s.Path, err)
	}
	if err := os.Rename(tmp, s.Path); err != nil {
		return fmt.Errorf("write report %s: %w", s.Path, err)
	}
	return nil
}

// MultiSink fans a report out to every sink. A failing sink is logged and
// skipped; reports never change task results.
type MultiSink struct {
	Sinks  []Sink
	Logger *slog.Logger
}

func (m MultiSink) Write(ctx context.Context, r Report) error {
	logger := m.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	for _, s := range m.Sinks {
		if err := s.Write(ctx, r); err != nil {
			logger.Warn("report sink failed", "sink", fmt.Sprintf("%T", s), "error", err)
		}
	}
	return nil
}

// FromConfig builds the sinks enabled in cfg. With none enabled the result
// has no sinks and writes nothing.
func FromConfig(ctx context.Context, cfg types.ReportConfig, logger *slog.Logger) (MultiSink, error) {
	m := MultiSink{Logger: logger}
	if cfg.File != "" {
		m.Sinks = append(m.Sinks, FileSink{Path: cfg.File})
	}
	if cfg.S3.Bucket != "" {
		s, err := NewS3Sink(ctx, cfg.S3)
		if err != nil {
			return MultiSink{}, err
		}
		m.Sinks = append(m.Sinks, s)
	}
	return m, nil
}

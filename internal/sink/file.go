// Package sink persists the outcome of a successful search.
package sink

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bleepsandbloops/bitflip/internal/search"
	"github.com/bleepsandbloops/bitflip/pkg/debug"
)

// CorrectedSuffix is appended to the source path to name the output file.
const CorrectedSuffix = "_corrected"

// ErrNoCollision is returned when a sink is asked to persist an outcome
// without a collision.
var ErrNoCollision = errors.New("outcome has no collision")

// CorrectedPath returns the output path for source.
func CorrectedPath(source string) string {
	return source + CorrectedSuffix
}

// FileSink writes the corrected buffer to Path.
type FileSink struct {
	Path string
	Mode os.FileMode
}

// NewFileSink returns a FileSink writing next to source.
func NewFileSink(source string) *FileSink {
	return &FileSink{Path: CorrectedPath(source), Mode: 0644}
}

// Persist writes the collision's variant to a temporary file in the target
// directory and renames it into place, so a reader never sees a partial file.
func (s *FileSink) Persist(ctx context.Context, outcome *search.Outcome) error {
	if outcome == nil || outcome.Collision == nil {
		return ErrNoCollision
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	mode := s.Mode
	if mode == 0 {
		mode = 0644
	}

	dir := filepath.Dir(s.Path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.Path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { os.Remove(tmpPath) }

	if _, err := tmp.Write(outcome.Collision.Variant); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write %s: %w", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to sync %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close %s: %w", tmpPath, err)
	}
	if err := os.Chmod(tmpPath, mode); err != nil {
		cleanup()
		return fmt.Errorf("failed to set mode on %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, s.Path); err != nil {
		cleanup()
		return fmt.Errorf("failed to rename %s to %s: %w", tmpPath, s.Path, err)
	}

	debug.Info("Wrote corrected data (%d bytes) to %s", len(outcome.Collision.Variant), s.Path)
	return nil
}

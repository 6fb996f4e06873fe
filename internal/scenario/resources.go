package scenario

import (
	"fmt"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Guard releases resources owned by one probe or scenario, last in first out
type Guard struct {
	release []func() error
}

// Track closes c when the guard is closed
func (g *Guard) Track(c io.Closer) {
	g.release = append(g.release, c.Close)
}

// Remove deletes path when the guard is closed
func (g *Guard) Remove(path string) {
	g.release = append(g.release, func() error {
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("failed to remove %s: %w", path, err)
		}
		return nil
	})
}

// Close runs every release and combines their errors
func (g *Guard) Close() error {
	var err error
	for i := len(g.release) - 1; i >= 0; i-- {
		err = errors.CombineErrors(err, g.release[i]())
	}
	g.release = nil
	return err
}

// TempDir creates the suite directory for generated files
func TempDir(pattern string) (string, func() error, error) {
	dir, err := os.MkdirTemp("", pattern)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	log.Debug().Str("dir", dir).Msg("created suite temp dir")
	return dir, func() error { return os.RemoveAll(dir) }, nil
}

// Shadow hides directories for the duration of a test: each one is renamed
// aside and replaced by an empty directory until Restore.
type Shadow struct {
	moved map[string]string
	order []string
}

// ShadowDirs shadows every existing directory in dirs. Missing ones are
// created empty and removed again on Restore.
func ShadowDirs(dirs ...string) (*Shadow, error) {
	s := &Shadow{moved: make(map[string]string)}
	for _, dir := range dirs {
		aside := ""
		if _, err := os.Stat(dir); err == nil {
			aside = dir + ".shadow-" + uuid.NewString()[:8]
			if err := os.Rename(dir, aside); err != nil {
				return s, errors.CombineErrors(fmt.Errorf("failed to shadow %s: %w", dir, err), s.Restore())
			}
		} else if !os.IsNotExist(err) {
			return s, errors.CombineErrors(fmt.Errorf("failed to stat %s: %w", dir, err), s.Restore())
		}
		s.moved[dir] = aside
		s.order = append(s.order, dir)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return s, errors.CombineErrors(fmt.Errorf("failed to create %s: %w", dir, err), s.Restore())
		}
	}
	return s, nil
}

// Restore removes the stand-in directories and moves the originals back
func (s *Shadow) Restore() error {
	var err error
	for i := len(s.order) - 1; i >= 0; i-- {
		dir := s.order[i]
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			err = errors.CombineErrors(err, fmt.Errorf("failed to remove %s: %w", dir, rmErr))
			continue
		}
		if aside := s.moved[dir]; aside != "" {
			if mvErr := os.Rename(aside, dir); mvErr != nil {
				err = errors.CombineErrors(err, fmt.Errorf("failed to restore %s: %w", dir, mvErr))
			}
		}
	}
	s.order = nil
	s.moved = map[string]string{}
	return err
}

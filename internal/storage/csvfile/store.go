// Package csvfile implements the default durable result store: an
// append-only CSV file with a fixed URL,Score,ReviewCount header.
package csvfile

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/ratingharvest/internal/harvest"
)

// Header is the fixed schema written at the top of a new output file.
var Header = []string{"URL", "Score", "ReviewCount"}

// Store appends results to a CSV file.
type Store struct {
	path   string
	logger *zap.Logger
	mu     sync.Mutex
	sync   func(*os.File) error
}

// New returns a Store for path. Nothing is touched on disk until Prepare.
func New(path string, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("output path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{path: path, logger: logger, sync: (*os.File).Sync}, nil
}

// Path returns the output file location.
func (s *Store) Path() string {
	return s.path
}

// Prepare creates the output file with its header if it does not exist or is
// empty, and drops a partially written last row.
func (s *Store) Prepare(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create output dir %s: %w", dir, err)
		}
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open output %s: %w", s.path, err)
	}
	defer f.Close()
	return s.prepareTail(f)
}

// Seen reads the first column of every parseable row. Malformed rows are
// skipped and logged; a read failure degrades to an empty set. Neither case is
// returned as an error.
func (s *Store) Seen(_ context.Context) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{})
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return seen, nil
	}
	if err != nil {
		s.logger.Warn("cannot read existing output; processing everything",
			zap.String("path", s.path), zap.Error(err))
		return seen, nil
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	skipped := 0
	for row := 0; ; row++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				skipped++
				s.logger.Warn("skipping corrupt output row",
					zap.String("path", s.path), zap.Int("line", parseErr.Line), zap.Error(err))
				continue
			}
			s.logger.Warn("output unreadable; processing everything",
				zap.String("path", s.path), zap.Error(err))
			return make(map[string]struct{}), nil
		}
		if row == 0 && isHeader(rec) {
			continue
		}
		url := ""
		if len(rec) > 0 {
			url = strings.TrimSpace(rec[0])
		}
		if url == "" {
			skipped++
			continue
		}
		if len(rec) != len(Header) {
			s.logger.Warn("output row has unexpected field count",
				zap.String("url", url), zap.Int("fields", len(rec)))
		}
		seen[url] = struct{}{}
	}
	s.logger.Info("loaded already processed URLs",
		zap.Int("count", len(seen)), zap.Int("skipped_rows", skipped))
	return seen, nil
}

// Append writes one row per result and syncs the file. It is all or
// nothing: on any failure the file is cut back to its previous size, so a
// retried batch never leaves a second record for a URL.
func (s *Store) Append(_ context.Context, results []harvest.Result) error {
	if len(results) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open output %s: %w", s.path, err)
	}
	defer f.Close()
	if err := s.prepareTail(f); err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat output: %w", err)
	}
	if err := s.writeRows(f, results); err != nil {
		if truncErr := f.Truncate(info.Size()); truncErr != nil {
			return fmt.Errorf("%w (roll back output: %v)", err, truncErr)
		}
		return err
	}
	return nil
}

func (s *Store) writeRows(f *os.File, results []harvest.Result) error {
	w := csv.NewWriter(f)
	for _, res := range results {
		if err := w.Write([]string{res.URL, res.ScoreText(), res.ReviewCountText()}); err != nil {
			return fmt.Errorf("write row for %s: %w", res.URL, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush rows: %w", err)
	}
	if err := s.sync(f); err != nil {
		return fmt.Errorf("sync output: %w", err)
	}
	return nil
}

// Close implements harvest.ResultStore; files are opened per call.
func (s *Store) Close() error {
	return nil
}

// prepareTail writes the header into an empty file and cuts a partially
// written last row back to the preceding newline. A row without its newline
// was never a completed append, and leaving it would let an open quote swallow
// every row written after it.
func (s *Store) prepareTail(f *os.File) error {
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat output: %w", err)
	}
	size := info.Size()
	if size > 0 {
		keep, err := lastLineEnd(f, size)
		if err != nil {
			return err
		}
		if keep == size {
			return nil
		}
		s.logger.Warn("output ends mid-row; dropping the partial row",
			zap.String("path", s.path), zap.Int64("bytes", size-keep))
		if err := f.Truncate(keep); err != nil {
			return fmt.Errorf("drop partial row: %w", err)
		}
		if keep > 0 {
			return nil
		}
	}
	w := csv.NewWriter(f)
	if err := w.Write(Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := s.sync(f); err != nil {
		return fmt.Errorf("sync output: %w", err)
	}
	return nil
}

// lastLineEnd returns the offset just past the last '\n' in the first size
// bytes of f, or 0 when there is none.
func lastLineEnd(f *os.File, size int64) (int64, error) {
	const chunk = 4096
	buf := make([]byte, chunk)
	for end := size; end > 0; {
		start := max(end-chunk, 0)
		n, err := f.ReadAt(buf[:end-start], start)
		if err != nil && !errors.Is(err, io.EOF) {
			return 0, fmt.Errorf("read output tail: %w", err)
		}
		if i := bytes.LastIndexByte(buf[:n], '\n'); i >= 0 {
			return start + int64(i) + 1, nil
		}
		end = start
	}
	return 0, nil
}

func isHeader(rec []string) bool {
	return len(rec) > 0 && strings.EqualFold(strings.TrimSpace(strings.TrimPrefix(rec[0], "\ufeff")), Header[0])
}

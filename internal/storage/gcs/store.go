// Package gcs keeps run results in a Google Cloud Storage bucket. Every
// checkpoint batch becomes one immutable CSV object under a common prefix, so
// a run never rewrites data it already committed.
package gcs

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync/atomic"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/JakeFAU/ratingharvest/internal/harvest"
	"github.com/JakeFAU/ratingharvest/internal/storage/csvfile"
)

// Config captures the parameters required to reach the bucket.
type Config struct {
	Bucket string
	Prefix string
}

type bucket interface {
	Check(ctx context.Context) error
	List(ctx context.Context, prefix string) ([]string, error)
	Read(ctx context.Context, name string) ([]byte, error)
	Create(ctx context.Context, name string, data []byte) error
}

// Store implements harvest.ResultStore on a GCS prefix.
type Store struct {
	bucket bucket
	prefix string
	logger *zap.Logger
	now    func() time.Time
	seq    atomic.Uint64
	closer func() error
}

// New creates a client using Application Default Credentials.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("gcs.bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	s := NewWithClient(client, cfg, logger)
	s.closer = client.Close
	return s, nil
}

// NewWithClient wraps an existing client. The caller keeps ownership of it.
func NewWithClient(client *storage.Client, cfg Config, logger *zap.Logger) *Store {
	return newStore(&gcsBucket{handle: client.Bucket(cfg.Bucket)}, cfg.Prefix, logger)
}

func newStore(b bucket, prefix string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = "ratings"
	}
	return &Store{bucket: b, prefix: prefix, logger: logger, now: time.Now}
}

// Prepare fails fast when the bucket is missing or not accessible.
func (s *Store) Prepare(ctx context.Context) error {
	if err := s.bucket.Check(ctx); err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	return nil
}

// Seen reads the URL column of every batch object under the prefix. Corrupt
// rows and unreadable objects are skipped; a listing failure degrades to an
// empty set.
func (s *Store) Seen(ctx context.Context) (map[string]struct{}, error) {
	seen := make(map[string]struct{})
	names, err := s.bucket.List(ctx, s.prefix+"/")
	if err != nil {
		s.logger.Warn("cannot list existing results; processing everything",
			zap.String("prefix", s.prefix), zap.Error(err))
		return seen, nil
	}
	for _, name := range names {
		data, err := s.bucket.Read(ctx, name)
		if err != nil {
			s.logger.Warn("skipping unreadable result object", zap.String("object", name), zap.Error(err))
			continue
		}
		s.collect(name, data, seen)
	}
	s.logger.Info("loaded already processed URLs",
		zap.Int("count", len(seen)), zap.Int("objects", len(names)))
	return seen, nil
}

func (s *Store) collect(name string, data []byte, seen map[string]struct{}) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	for row := 0; ; row++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				s.logger.Warn("skipping corrupt result row", zap.String("object", name), zap.Error(err))
				continue
			}
			return
		}
		if row == 0 && len(rec) > 0 && rec[0] == csvfile.Header[0] {
			continue
		}
		if len(rec) > 0 {
			if u := strings.TrimSpace(rec[0]); u != "" {
				seen[u] = struct{}{}
			}
		}
	}
}

// Append uploads the batch as a new object.
func (s *Store) Append(ctx context.Context, results []harvest.Result) error {
	if len(results) == 0 {
		return nil
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvfile.Header); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	for _, res := range results {
		if err := w.Write([]string{res.URL, res.ScoreText(), res.ReviewCountText()}); err != nil {
			return fmt.Errorf("encode row for %s: %w", res.URL, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}

	name := s.objectName()
	if err := s.bucket.Create(ctx, name, buf.Bytes()); err != nil {
		return fmt.Errorf("upload %s: %w", name, err)
	}
	s.logger.Debug("uploaded result batch", zap.String("object", name), zap.Int("rows", len(results)))
	return nil
}

// Close releases the client when the store created it.
func (s *Store) Close() error {
	if s.closer == nil {
		return nil
	}
	if err := s.closer(); err != nil {
		return fmt.Errorf("close gcs client: %w", err)
	}
	return nil
}

// objectName sorts lexically in write order within a process.
func (s *Store) objectName() string {
	stamp := s.now().UTC().Format("20060102T150405.000000000Z")
	return path.Join(s.prefix, fmt.Sprintf("%s-%06d.csv", stamp, s.seq.Add(1)))
}

type gcsBucket struct {
	handle *storage.BucketHandle
}

func (b *gcsBucket) Check(ctx context.Context) error {
	_, err := b.handle.Attrs(ctx)
	return err
}

func (b *gcsBucket) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	it := b.handle.Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return names, nil
		}
		if err != nil {
			return nil, err
		}
		names = append(names, attrs.Name)
	}
}

func (b *gcsBucket) Read(ctx context.Context, name string) ([]byte, error) {
	r, err := b.handle.Object(name).NewReader(ctx)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// Create refuses to overwrite an existing object.
func (b *gcsBucket) Create(ctx context.Context, name string, data []byte) error {
	w := b.handle.Object(name).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = "text/csv"
	if _, err := w.Write(data); err != nil {
		if closeErr := w.Close(); closeErr != nil {
			return fmt.Errorf("write object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("write object: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}

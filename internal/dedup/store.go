// Package dedup answers "has this alert content been delivered before?" by
// hashing payloads and comparing against an archive of delivered alerts.
package dedup

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"

	"alertstream/internal/fsutil"
	"alertstream/internal/types"
)

const (
	extYAML = ".yaml"
	extYML  = ".yml"
	extZstd = ".zst"

	unarchivedPrefix = "unarchived:"
)

// Options configures a Store.
type Options struct {
	ArchiveDir string
	// Compress writes new archive entries as <name>.yaml.zst.
	Compress bool
	// Index defaults to a MemoryIndex.
	Index  Index
	Logger types.Logger
}

// Store is the archive-backed deduplication store. IsDuplicate is read-only;
// Record is the only writer.
type Store struct {
	dir      string
	compress bool
	index    Index
	logger   types.Logger

	// scanMu guards scanned and serializes Refresh and Record.
	scanMu  sync.Mutex
	scanned map[string]bool

	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewStore creates the archive directory if needed and returns a Store.
// Call Refresh to index existing entries.
func NewStore(opts Options) (*Store, error) {
	if opts.ArchiveDir == "" {
		return nil, fmt.Errorf("archive directory is required")
	}
	if opts.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if err := fsutil.EnsureDirs(opts.ArchiveDir); err != nil {
		return nil, types.NewAppError(types.ErrCodeIOArchiveFailed, "creating archive directory", err)
	}
	idx := opts.Index
	if idx == nil {
		idx = NewMemoryIndex()
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}

	return &Store{
		dir:      opts.ArchiveDir,
		compress: opts.Compress,
		index:    idx,
		logger:   opts.Logger.With("component", "dedup"),
		scanned:  make(map[string]bool),
		encoder:  enc,
		decoder:  dec,
	}, nil
}

// Refresh indexes archive entries not seen by earlier scans and returns how
// many were added. An unreadable entry is logged and skipped: it degrades
// recall for that one alert but never fails the scan.
func (s *Store) Refresh(ctx context.Context) (int, error) {
	s.scanMu.Lock()
	defer s.scanMu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeIOReadFailed, "listing archive", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() && isArchiveName(e.Name()) && !s.scanned[e.Name()] {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	added := 0
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return added, err
		}
		payload, err := s.readEntry(filepath.Join(s.dir, name))
		if err != nil {
			s.logger.Warn("Skipping unreadable archive entry", "file", name, "error", err)
			s.scanned[name] = true
			continue
		}
		hash, err := ContentHash(payload)
		if err != nil {
			s.logger.Warn("Skipping unhashable archive entry", "file", name, "error", err)
			s.scanned[name] = true
			continue
		}
		if err := s.index.Add(ctx, hash, name); err != nil {
			return added, err
		}
		s.scanned[name] = true
		added++
	}
	if added > 0 {
		s.logger.Debug("Archive indexed", "added", added)
	}
	return added, nil
}

// IsDuplicate reports whether alert's content has already been archived.
// It uses alert.ContentHash when set and never mutates the alert.
func (s *Store) IsDuplicate(ctx context.Context, alert *types.Alert) (bool, error) {
	hash := alert.ContentHash
	if hash == "" {
		var err error
		if hash, err = ContentHash(alert.Payload); err != nil {
			return false, types.NewAppError(types.ErrCodeParseInvalidAlert, "hashing payload", err)
		}
	}
	_, found, err := s.index.Lookup(ctx, hash)
	return found, err
}

// Record writes alert's payload into the archive and indexes its hash. It
// must complete before the alert's terminal move. Returns the archive entry
// name.
//
// When the archive write fails the hash is still indexed under an
// "unarchived:" reference, so the content stays a duplicate for the life of
// the index even though the entry will not survive a rebuild.
func (s *Store) Record(ctx context.Context, alert *types.Alert) (string, error) {
	hash := alert.ContentHash
	if hash == "" {
		var err error
		if hash, err = ContentHash(alert.Payload); err != nil {
			return "", types.NewAppError(types.ErrCodeParseInvalidAlert, "hashing payload", err)
		}
	}
	stem := archiveStem(alert.ID)

	data, err := yaml.Marshal(alert.Payload)
	if err != nil {
		return "", s.indexUnarchived(ctx, hash, stem, types.NewAppError(types.ErrCodeIOArchiveFailed, "encoding archive entry", err))
	}
	ext := extYAML
	if s.compress {
		data = s.encoder.EncodeAll(data, nil)
		ext += extZstd
	}

	s.scanMu.Lock()
	defer s.scanMu.Unlock()

	path := fsutil.UniquePath(filepath.Join(s.dir, stem+ext), ext)
	if err := fsutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return "", s.indexUnarchived(ctx, hash, stem, types.NewAppError(types.ErrCodeIOArchiveFailed, "writing archive entry", err))
	}
	name := filepath.Base(path)
	s.scanned[name] = true

	if err := s.index.Add(ctx, hash, name); err != nil {
		return name, types.NewAppError(types.ErrCodeIOArchiveFailed, "indexing archive entry", err)
	}
	return name, nil
}

func (s *Store) indexUnarchived(ctx context.Context, hash, stem string, cause error) error {
	if err := s.index.Add(ctx, hash, unarchivedPrefix+stem); err != nil {
		s.logger.Error("Indexing unarchived hash failed", "alert", stem, "error", err)
	}
	return cause
}

// Len returns the number of indexed hashes.
func (s *Store) Len(ctx context.Context) (int, error) {
	return s.index.Len(ctx)
}

// Close releases the index and codecs.
func (s *Store) Close() error {
	s.decoder.Close()
	_ = s.encoder.Close()
	return s.index.Close()
}

func (s *Store) readEntry(path string) (map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, extZstd) {
		raw, err := io.ReadAll(f)
		if err != nil {
			return nil, err
		}
		plain, err := s.decoder.DecodeAll(raw, nil)
		if err != nil {
			return nil, fmt.Errorf("decompressing: %w", err)
		}
		r = bytes.NewReader(plain)
	}

	var payload map[string]any
	if err := yaml.NewDecoder(r).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding yaml: %w", err)
	}
	if payload == nil {
		return nil, fmt.Errorf("empty archive entry")
	}
	return payload, nil
}

func isArchiveName(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	name = strings.TrimSuffix(name, extZstd)
	return strings.HasSuffix(name, extYAML) || strings.HasSuffix(name, extYML)
}

// archiveStem strips claim and format suffixes from an alert ID.
func archiveStem(id string) string {
	stem := filepath.Base(id)
	for _, ext := range []string{extZstd, extYAML, extYML} {
		stem = strings.TrimSuffix(stem, ext)
	}
	if stem == "" || stem == "." {
		stem = "alert"
	}
	return stem
}

package seqnode

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// recordSize is the fixed 24-byte on-disk record: key(16) + seqnum(8).
const recordSize = 16 + 8

// segmentSizeCap is the size at which a segment is compacted.
const segmentSizeCap = 48 * 1024 * 1024

// Record is one durable sequence-number assignment.
type Record struct {
	Key    Key
	SeqNum uint64
}

func (r Record) marshal() []byte {
	buf := make([]byte, recordSize)
	binary.BigEndian.PutUint64(buf[0:8], r.Key.Hi)
	binary.BigEndian.PutUint64(buf[8:16], r.Key.Lo)
	binary.BigEndian.PutUint64(buf[16:24], r.SeqNum)
	return buf
}

func unmarshalRecord(buf []byte) Record {
	return Record{
		Key:    Key{Hi: binary.BigEndian.Uint64(buf[0:8]), Lo: binary.BigEndian.Uint64(buf[8:16])},
		SeqNum: binary.BigEndian.Uint64(buf[16:24]),
	}
}

// Store owns one shard's append-only segment file plus its compaction
// logic. Writes are serialized per shard by
// the mutex below, matching the single-writer-per-shard discipline; no
// fsync is issued per append, only the rename that publishes a compacted
// segment is made durable first — the same "kernel-durable" acceptance
// the message log's own rotation settles for.
type Store struct {
	dir     string
	shardID int

	mu   sync.Mutex
	file *os.File
	size int64
}

// OpenStore opens (creating if absent) the active segment file for
// shardID under dir.
func OpenStore(dir string, shardID int) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("seqnode: mkdir %s: %w", dir, err)
	}
	s := &Store{dir: dir, shardID: shardID}
	if err := s.openActive(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) activePath() string {
	return filepath.Join(s.dir, fmt.Sprintf("shard-%04d.active.log", s.shardID))
}

func (s *Store) openActive() error {
	f, err := os.OpenFile(s.activePath(), os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("seqnode: open active segment: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	s.file = f
	s.size = info.Size()
	return nil
}

// Append writes rec to the active segment, compacting first if the
// segment has crossed segmentSizeCap.
func (s *Store) Append(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.size >= segmentSizeCap {
		if err := s.compactLocked(); err != nil {
			return err
		}
	}

	buf := rec.marshal()
	n, err := s.file.Write(buf)
	if err != nil {
		return fmt.Errorf("seqnode: append: %w", err)
	}
	s.size += int64(n)
	return nil
}

// compactLocked keeps only the latest seqnum per key, writes a fresh
// segment, and atomically replaces the active one. Caller must hold s.mu.
func (s *Store) compactLocked() error {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	latest, err := scanLatest(s.file)
	if err != nil {
		return err
	}
	if err := s.file.Close(); err != nil {
		return err
	}

	tmpPath := filepath.Join(s.dir, fmt.Sprintf("shard-%04d.compact.tmp", s.shardID))
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("seqnode: open compaction tmp: %w", err)
	}
	var written int64
	for key, seq := range latest {
		buf := Record{Key: key, SeqNum: seq}.marshal()
		n, err := tmp.Write(buf)
		if err != nil {
			tmp.Close()
			return err
		}
		written += int64(n)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("seqnode: sync compacted segment: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	// The old segment is unlinked only after the new one is durable.
	if err := os.Rename(tmpPath, s.activePath()); err != nil {
		return fmt.Errorf("seqnode: publish compacted segment: %w", err)
	}

	s.size = written
	return s.openActive()
}

// scanLatest reads 24-byte records from r until EOF, returning the max
// seqnum seen per key. Order-independent: taking the max across every
// record yields the same result as a newest-first scan that stops at the
// first occurrence of each key, without needing reverse iteration.
func scanLatest(r io.Reader) (map[Key]uint64, error) {
	latest := make(map[Key]uint64)
	buf := make([]byte, recordSize)
	for {
		_, err := io.ReadFull(r, buf)
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			break // trailing partial record from a torn write; ignore it
		}
		if err != nil {
			return nil, err
		}
		rec := unmarshalRecord(buf)
		if cur, ok := latest[rec.Key]; !ok || rec.SeqNum > cur {
			latest[rec.Key] = rec.SeqNum
		}
	}
	return latest, nil
}

// Recover scans every segment belonging to shardID (the active one, plus
// any leftover compaction artifacts from a crash mid-compaction) and
// returns the max seqnum observed per key.
func (s *Store) Recover() (map[Key]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	paths, err := s.segmentPaths()
	if err != nil {
		return nil, err
	}

	merged := make(map[Key]uint64)
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			continue // a segment disappearing mid-scan is not fatal
		}
		latest, err := scanLatest(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("seqnode: recover %s: %w", p, err)
		}
		for k, v := range latest {
			if cur, ok := merged[k]; !ok || v > cur {
				merged[k] = v
			}
		}
	}
	return merged, nil
}

func (s *Store) segmentPaths() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	prefix := fmt.Sprintf("shard-%04d.", s.shardID)
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if len(e.Name()) >= len(prefix) && e.Name()[:len(prefix)] == prefix {
			paths = append(paths, filepath.Join(s.dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// Close releases the active segment's file handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

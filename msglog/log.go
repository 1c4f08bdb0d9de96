package msglog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const dateLayout = "2006-01-02"

// clock lets tests substitute a fixed time instead of time.Now.
type clock func() time.Time

// Log owns one shard's daily-rotated append-only file set.
type Log struct {
	dir     string
	shardID int
	now     clock

	mu      sync.Mutex
	day     string
	file    *os.File
}

// NewLog opens (creating dir if absent) the log for shardID, rotating to
// today's file immediately.
func NewLog(dir string, shardID int) (*Log, error) {
	return newLogWithClock(dir, shardID, time.Now)
}

func newLogWithClock(dir string, shardID int, now clock) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("msglog: mkdir %s: %w", dir, err)
	}
	l := &Log{dir: dir, shardID: shardID, now: now}
	if err := l.rotateIfNeeded(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Log) pathFor(day string) string {
	return filepath.Join(l.dir, fmt.Sprintf("%s-shard%04d.log", day, l.shardID))
}

// rotateIfNeeded opens today's file if the day has turned over since the
// last write (or this is the first write). Caller need not hold l.mu;
// it's acquired here.
func (l *Log) rotateIfNeeded() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rotateIfNeededLocked()
}

func (l *Log) rotateIfNeededLocked() error {
	today := l.now().UTC().Format(dateLayout)
	if today == l.day && l.file != nil {
		return nil
	}
	if l.file != nil {
		if err := l.file.Close(); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(l.pathFor(today), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("msglog: open %s: %w", l.pathFor(today), err)
	}
	l.file = f
	l.day = today
	return nil
}

// AppendRaw writes one already-encoded envelope frame to today's file,
// rotating first if the day has turned over.
func (l *Log) AppendRaw(raw []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.rotateIfNeededLocked(); err != nil {
		return err
	}
	if _, err := l.file.Write(raw); err != nil {
		return fmt.Errorf("msglog: append: %w", err)
	}
	return nil
}

// Close releases today's file handle.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// SweepRetention deletes every log file under dir for this shard whose
// embedded date is older than retention, relative to now.
func (l *Log) SweepRetention(retention time.Duration) error {
	cutoff := l.now().UTC().Add(-retention)
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return err
	}
	suffix := fmt.Sprintf("-shard%04d.log", l.shardID)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, suffix) {
			continue
		}
		day := strings.TrimSuffix(name, suffix)
		t, err := time.Parse(dateLayout, day)
		if err != nil {
			continue // not one of ours
		}
		if t.Before(cutoff) {
			if err := os.Remove(filepath.Join(l.dir, name)); err != nil {
				return fmt.Errorf("msglog: remove expired %s: %w", name, err)
			}
		}
	}
	return nil
}

// RunRetentionSweeper runs SweepRetention once per interval until stop is
// closed, logging nothing itself — callers decide how to surface errors.
// Modeled on the signal-driven drain loop used for this process's own
// graceful shutdown: a ticker plus a select over a stop channel.
func (l *Log) RunRetentionSweeper(interval, retention time.Duration, stop <-chan struct{}, onErr func(error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := l.SweepRetention(retention); err != nil && onErr != nil {
				onErr(err)
			}
		}
	}
}

// segmentDays returns the sorted list of dates with a file on disk for
// this shard, used by tests to verify rotation/retention behavior.
func (l *Log) segmentDays() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, err
	}
	suffix := fmt.Sprintf("-shard%04d.log", l.shardID)
	var days []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), suffix) {
			days = append(days, strings.TrimSuffix(e.Name(), suffix))
		}
	}
	sort.Strings(days)
	return days, nil
}

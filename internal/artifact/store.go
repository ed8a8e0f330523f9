// Package artifact manages the lifecycle of temporary document files:
// allocation inside a process-scoped working directory, idempotent
// release, age-based sweeping and capacity-based eviction.
package artifact

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Usage is a read-only accounting snapshot of the working directory.
type Usage struct {
	TotalBytes int64
	FileCount  int
}

// Store owns one working directory. Files inside it belong to the store
// until they are released or swept; callers must not retain paths across
// a release.
type Store struct {
	dir string

	// mu serializes mutations and the accounting walks that follow
	// them; the directory is shared by every conversation.
	mu sync.Mutex

	// onChange receives a usage snapshot after every mutation so the
	// metrics layer can track gauges without polling.
	onChange func(Usage)
}

// NewStore creates the working directory. An empty dir requests a fresh
// directory under the system temp root.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		d, err := os.MkdirTemp("", "pdfmate-")
		if err != nil {
			return nil, fmt.Errorf("create working dir: %w", err)
		}
		dir = d
	} else {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create working dir: %w", err)
		}
	}
	return &Store{dir: dir}, nil
}

// SetChangeHook registers a callback invoked with a fresh usage snapshot
// after each mutation. Must be called before the store is shared.
func (s *Store) SetChangeHook(hook func(Usage)) {
	s.onChange = hook
}

func (s *Store) Dir() string { return s.dir }

// Allocate reserves a uniquely named path with the given suffix. No file
// is created; the caller writes it.
func (s *Store) Allocate(suffix string) string {
	return filepath.Join(s.dir, uuid.NewString()+suffix)
}

// WriteFile allocates a path and writes data to it.
func (s *Store) WriteFile(suffix string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	path := s.Allocate(suffix)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	s.notify()
	return path, nil
}

// Release deletes the file at path if present. It is idempotent and
// never fails on a missing file. Paths outside the working directory are
// ignored.
func (s *Store) Release(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if filepath.Dir(path) != s.dir {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Printf("artifact release %s: %v", path, err)
		return
	}
	s.notify()
}

// SweepOlderThan deletes every artifact whose modification time precedes
// now minus maxAge. Returns the number of files removed.
func (s *Store) SweepOlderThan(maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range s.list() {
		if e.modTime.Before(cutoff) {
			if os.Remove(e.path) == nil {
				removed++
			}
		}
	}
	if removed > 0 {
		s.notify()
	}
	return removed
}

// EnforceCapacity deletes artifacts oldest-first until both the byte and
// file-count limits are satisfied. A non-positive limit is unbounded.
// Returns the number of files evicted.
func (s *Store) EnforceCapacity(maxTotalBytes int64, maxFileCount int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.list()
	sort.Slice(entries, func(i, j int) bool { return entries[i].modTime.Before(entries[j].modTime) })

	var total int64
	for _, e := range entries {
		total += e.size
	}
	count := len(entries)

	evicted := 0
	for _, e := range entries {
		overBytes := maxTotalBytes > 0 && total > maxTotalBytes
		overCount := maxFileCount > 0 && count > maxFileCount
		if !overBytes && !overCount {
			break
		}
		if os.Remove(e.path) == nil {
			total -= e.size
			count--
			evicted++
		}
	}
	if evicted > 0 {
		s.notify()
	}
	return evicted
}

// Usage reports the current accounting snapshot.
func (s *Store) Usage() Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usageLocked()
}

func (s *Store) usageLocked() Usage {
	var u Usage
	for _, e := range s.list() {
		u.TotalBytes += e.size
		u.FileCount++
	}
	return u
}

// StartJanitor runs the routine sweep and capacity enforcement on a
// background timer, independent of request handling, until ctx is done.
func (s *Store) StartJanitor(ctx context.Context, interval, maxAge time.Duration, maxTotalBytes int64, maxFileCount int) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				swept := s.SweepOlderThan(maxAge)
				evicted := s.EnforceCapacity(maxTotalBytes, maxFileCount)
				if swept > 0 || evicted > 0 {
					log.Printf("artifact janitor: swept=%d evicted=%d", swept, evicted)
				}
			}
		}
	}()
}

// Close removes the working directory and everything in it.
func (s *Store) Close() error {
	return os.RemoveAll(s.dir)
}

type entry struct {
	path    string
	size    int64
	modTime time.Time
}

func (s *Store) list() []entry {
	dirents, err := os.ReadDir(s.dir)
	if err != nil {
		return nil
	}
	out := make([]entry, 0, len(dirents))
	for _, d := range dirents {
		if d.IsDir() {
			continue
		}
		info, err := d.Info()
		if err != nil {
			continue
		}
		out = append(out, entry{
			path:    filepath.Join(s.dir, d.Name()),
			size:    info.Size(),
			modTime: info.ModTime(),
		})
	}
	return out
}

// notify is called with mu held.
func (s *Store) notify() {
	if s.onChange != nil {
		s.onChange(s.usageLocked())
	}
}

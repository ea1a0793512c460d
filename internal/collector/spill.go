package collector

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/EvanL1/VoltageEMS-sub007/internal/point"
)

const (
	spillDirPerm  = 0750
	spillFilePerm = 0600
	spillPattern  = "spill-*.wal"
)

// spillStore journals undeliverable batches as JSON lines, one file per
// spilled batch. File names carry a nanosecond timestamp so replay
// preserves spill order.
type spillStore struct {
	dir string
}

func newSpillStore(dir string) (*spillStore, error) {
	if dir == "" {
		return &spillStore{}, nil
	}
	if err := os.MkdirAll(dir, spillDirPerm); err != nil {
		return nil, fmt.Errorf("collector: creating spill directory: %w", err)
	}
	return &spillStore{dir: dir}, nil
}

// Write journals a batch and returns the number of points persisted.
// With no spill directory configured it reports success without
// persisting, so callers degrade to best-effort delivery.
func (s *spillStore) Write(points []point.DataPoint) (int, error) {
	if s.dir == "" {
		return 0, nil
	}

	name := fmt.Sprintf("spill-%d.wal", time.Now().UnixNano())
	tmp := filepath.Join(s.dir, name+".tmp")

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, spillFilePerm)
	if err != nil {
		return 0, fmt.Errorf("collector: creating spill file: %w", err)
	}

	w := bufio.NewWriter(f)
	for _, p := range points {
		line, err := json.Marshal(p)
		if err != nil {
			f.Close()
			os.Remove(tmp)
			return 0, fmt.Errorf("collector: encoding spill record: %w", err)
		}
		w.Write(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return 0, fmt.Errorf("collector: writing spill file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return 0, fmt.Errorf("collector: syncing spill file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("collector: closing spill file: %w", err)
	}

	// Rename last so a partial file never looks like a valid journal.
	final := filepath.Join(s.dir, name)
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("collector: finalizing spill file: %w", err)
	}
	return len(points), nil
}

// Replay feeds each journaled batch to deliver in spill order, removing
// files whose contents were accepted. Lines that fail to decode are
// skipped; a delivery error stops the replay so remaining files survive
// for the next attempt.
func (s *spillStore) Replay(deliver func([]point.DataPoint) error) error {
	if s.dir == "" {
		return nil
	}

	files, err := filepath.Glob(filepath.Join(s.dir, spillPattern))
	if err != nil {
		return fmt.Errorf("collector: listing spill files: %w", err)
	}
	sort.Strings(files)

	for _, file := range files {
		points, err := s.readFile(file)
		if err != nil {
			return err
		}
		if len(points) > 0 {
			if err := deliver(points); err != nil {
				return fmt.Errorf("collector: replaying %s: %w", filepath.Base(file), err)
			}
		}
		if err := os.Remove(file); err != nil {
			return fmt.Errorf("collector: removing replayed spill file: %w", err)
		}
	}
	return nil
}

func (s *spillStore) readFile(path string) ([]point.DataPoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("collector: opening spill file: %w", err)
	}
	defer f.Close()

	var points []point.DataPoint
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var p point.DataPoint
		if err := json.Unmarshal(line, &p); err != nil {
			// Corrupt line (torn write); skip it rather than lose the file.
			continue
		}
		points = append(points, p)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("collector: reading spill file: %w", err)
	}
	return points, nil
}

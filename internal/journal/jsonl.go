package journal

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrClosed is returned by a store after Close.
var ErrClosed = errors.New("journal closed")

// JSONLStore appends events as JSON lines and answers queries by scanning the file.
type JSONLStore struct {
	mu   sync.Mutex
	path string
	file *os.File
	enc  *json.Encoder
}

// NewJSONLStore creates/opens the target file.
func NewJSONLStore(path string) (*JSONLStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return &JSONLStore{path: path, file: file, enc: json.NewEncoder(file)}, nil
}

// Path returns the backing file.
func (s *JSONLStore) Path() string { return s.path }

// Append writes a single event as one line.
func (s *JSONLStore) Append(_ context.Context, ev TradeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return ErrClosed
	}
	if err := s.enc.Encode(ev); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// Query scans the file and returns matching events newest first.
func (s *JSONLStore) Query(_ context.Context, f Filter) ([]TradeEvent, error) {
	events, _, err := s.readAll()
	if err != nil {
		return nil, err
	}
	return newestFirst(events, f.Normalized()), nil
}

// Stats counts every line. Lines that fail to decode count toward Total only.
func (s *JSONLStore) Stats(context.Context) (Stats, error) {
	events, skipped, err := s.readAll()
	if err != nil {
		return Stats{}, err
	}
	stats := newStats()
	for _, ev := range events {
		stats.add(ev)
	}
	stats.Total += skipped
	return stats, nil
}

func (s *JSONLStore) readAll() ([]TradeEvent, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("open journal: %w", err)
	}
	defer file.Close()

	var (
		events  []TradeEvent
		skipped int
	)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev TradeEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			skipped++
			continue
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("scan journal: %w", err)
	}
	return events, skipped, nil
}

// Close flushes and closes the file handle.
func (s *JSONLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

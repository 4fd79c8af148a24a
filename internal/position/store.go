package position

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Store persists per-symbol states across restarts.
type Store interface {
	Load(ctx context.Context, symbol string) (State, error)
	Save(ctx context.Context, st State) error
}

// MemoryStore keeps states in a map.
type MemoryStore struct {
	mu     sync.Mutex
	states map[string]State
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]State)}
}

// Load returns the stored state or FLAT defaults.
func (m *MemoryStore) Load(_ context.Context, symbol string) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.states[symbol]; ok {
		return st.Clone(), nil
	}
	return NewState(symbol), nil
}

// Save overwrites the state for st.Symbol.
func (m *MemoryStore) Save(_ context.Context, st State) error {
	m.mu.Lock()
	m.states[st.Symbol] = st.Clone()
	m.mu.Unlock()
	return nil
}

// FileStore keeps every symbol in one JSON document, rewritten atomically on Save.
type FileStore struct {
	mu     sync.Mutex
	path   string
	states map[string]State
}

type fileDocument struct {
	Symbols []State `json:"symbols"`
}

// OpenFileStore loads path when present. A missing file starts empty; a corrupt
// one falls back to the .bak copy written by the previous Save.
func OpenFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	fs := &FileStore{path: path, states: make(map[string]State)}
	doc, err := readDocument(path)
	if err != nil {
		var backupErr error
		doc, backupErr = readDocument(path + ".bak")
		if backupErr != nil {
			return nil, fmt.Errorf("load state: %w", err)
		}
	}
	for _, st := range doc.Symbols {
		if st.Symbol == "" {
			continue
		}
		fs.states[st.Symbol] = st
	}
	return fs, nil
}

func readDocument(path string) (fileDocument, error) {
	var doc fileDocument
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return doc, nil
		}
		return doc, err
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return doc, err
	}
	return doc, nil
}

// Load returns the stored state or FLAT defaults.
func (f *FileStore) Load(_ context.Context, symbol string) (State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if st, ok := f.states[symbol]; ok {
		return st.Clone(), nil
	}
	return NewState(symbol), nil
}

// Save updates the symbol and rewrites the document.
func (f *FileStore) Save(_ context.Context, st State) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	prev, had := f.states[st.Symbol]
	f.states[st.Symbol] = st.Clone()

	doc := fileDocument{Symbols: make([]State, 0, len(f.states))}
	for _, s := range f.states {
		doc.Symbols = append(doc.Symbols, s)
	}
	sort.Slice(doc.Symbols, func(i, j int) bool { return doc.Symbols[i].Symbol < doc.Symbols[j].Symbol })

	b, err := json.MarshalIndent(doc, "", "  ")
	if err == nil {
		// best-effort .bak
		_ = os.WriteFile(f.path+".bak", b, 0o600)
		err = writeFileAtomic(f.path, b, 0o600)
	}
	if err != nil {
		if had {
			f.states[st.Symbol] = prev
		} else {
			delete(f.states, st.Symbol)
		}
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// writeFileAtomic writes data to path via tmp file + fsync + rename.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

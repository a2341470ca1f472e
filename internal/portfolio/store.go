package portfolio

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// Store persists ledger state for crash recovery. Load reports ok=false
// when nothing has been saved yet.
type Store interface {
	Save(State) error
	Load() (state State, ok bool, err error)
}

// FileStore writes the state atomically to a single file. Files ending in
// .msgpack or .mp are encoded with MessagePack, everything else as JSON.
type FileStore struct {
	path    string
	msgpack bool
}

func NewFileStore(path string) *FileStore {
	ext := strings.ToLower(filepath.Ext(path))
	return &FileStore{path: path, msgpack: ext == ".msgpack" || ext == ".mp"}
}

func (f *FileStore) Path() string { return f.path }

func (f *FileStore) Save(s State) error {
	data, err := f.encode(s)
	if err != nil {
		return fmt.Errorf("failed to encode ledger state: %w", err)
	}
	if dir := filepath.Dir(f.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create state dir: %w", err)
		}
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temp ledger state: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename ledger state: %w", err)
	}
	return nil
}

func (f *FileStore) Load() (State, bool, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, false, nil
		}
		return State{}, false, fmt.Errorf("failed to read ledger state: %w", err)
	}
	var s State
	if f.msgpack {
		err = msgpack.Unmarshal(data, &s)
	} else {
		err = json.Unmarshal(data, &s)
	}
	if err != nil {
		return State{}, false, fmt.Errorf("failed to decode ledger state: %w", err)
	}
	return s, true, nil
}

func (f *FileStore) encode(s State) ([]byte, error) {
	if f.msgpack {
		return msgpack.Marshal(s)
	}
	return json.MarshalIndent(s, "", "  ")
}

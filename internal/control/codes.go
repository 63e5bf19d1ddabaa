package control

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/festivetech/carolsync/internal/syncer"
)

// CodeList persists previously used sync codes for reconnect convenience.
// It is plain local state, not part of the sync protocol.
type CodeList struct {
	path string
}

// NewCodeList stores codes at the given file path.
func NewCodeList(path string) *CodeList {
	return &CodeList{path: path}
}

// DefaultCodeList stores codes under the user config directory.
func DefaultCodeList() (*CodeList, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return nil, err
	}
	return NewCodeList(filepath.Join(dir, "carolsync", "codes.json")), nil
}

// Load returns the saved codes, sorted. A missing file is an empty list.
func (c *CodeList) Load() ([]string, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var codes []string
	if err := json.Unmarshal(data, &codes); err != nil {
		return nil, err
	}
	sort.Strings(codes)
	return codes, nil
}

// Add normalises, validates and saves a code. Adding a known code is a
// no-op.
func (c *CodeList) Add(raw string) error {
	code := syncer.NormalizeCode(raw)
	if err := syncer.ValidateCode(code); err != nil {
		return err
	}
	codes, err := c.Load()
	if err != nil {
		return err
	}
	for _, existing := range codes {
		if existing == code {
			return nil
		}
	}
	return c.save(append(codes, code))
}

// Remove drops a code if present.
func (c *CodeList) Remove(raw string) error {
	code := syncer.NormalizeCode(raw)
	codes, err := c.Load()
	if err != nil {
		return err
	}
	kept := codes[:0]
	for _, existing := range codes {
		if existing != code {
			kept = append(kept, existing)
		}
	}
	return c.save(kept)
}

func (c *CodeList) save(codes []string) error {
	sort.Strings(codes)
	data, err := json.MarshalIndent(codes, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0o644)
}

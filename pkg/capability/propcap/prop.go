// Package propcap implements capability.PropertyStore backed by a flat
// KEY=VALUE file - the same shape as a module's system.prop - parsed with
// joho/godotenv the way module props are loaded (spec.md §4.8
// "load each module's system.prop").
package propcap

import (
	"fmt"
	"os"
	"sync"

	"github.com/joho/godotenv"

	"github.com/overlaycore/magicmount/internal/log"
	"github.com/overlaycore/magicmount/pkg/capability"
)

// File implements capability.PropertyStore against a props file on disk.
type File struct {
	path string
	mu   sync.Mutex
}

var _ capability.PropertyStore = &File{}

// New returns a File-backed property store rooted at path. Nothing is
// created on disk until the first Set or LoadFile writes the file.
func New(path string) *File {
	return &File{path: path}
}

// Get returns the current value of name, or "" if unset.
func (f *File) Get(name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	props, err := godotenv.Read(f.path)
	if err != nil {
		return ""
	}
	return props[name]
}

// Set persists name=value, creating the backing file if needed.
func (f *File) Set(name, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	props, err := godotenv.Read(f.path)
	if err != nil {
		props = map[string]string{}
	}
	props[name] = value
	if err := godotenv.Write(props, f.path); err != nil {
		return fmt.Errorf("write props %s: %w", f.path, err)
	}
	return nil
}

// LoadFile merges every KEY=VALUE pair in src into the store, used to load
// a module's system.prop (spec.md §4.8).
func (f *File) LoadFile(src string) error {
	if _, err := os.Stat(src); err != nil {
		return nil
	}
	incoming, err := godotenv.Read(src)
	if err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	props, err := godotenv.Read(f.path)
	if err != nil {
		props = map[string]string{}
	}
	for k, v := range incoming {
		props[k] = v
	}
	if err := godotenv.Write(props, f.path); err != nil {
		return fmt.Errorf("write props %s: %w", f.path, err)
	}
	log.Log.Debug().Str("file", src).Int("count", len(incoming)).Msg("loaded system.prop")
	return nil
}

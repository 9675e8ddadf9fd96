package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/signalrunner/signalrunner/internal/models"
)

// Disk stores snapshots as <root>/<strategy>/<symbol>.pending and
// .scheduled JSON files, each atomically replaced on write.
type Disk struct {
	root string

	mu    sync.Mutex
	locks map[Key]*sync.Mutex
}

// Ensure Disk implements Interface at compile time.
var _ Interface = (*Disk)(nil)

// NewDisk creates a disk store rooted at dir, creating it if needed.
func NewDisk(dir string) (*Disk, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating store root: %w", err)
	}
	return &Disk{root: dir, locks: make(map[Key]*sync.Mutex)}, nil
}

// keyLock returns the per-key mutex, serializing writes for one
// (strategy, symbol) without blocking other keys.
func (d *Disk) keyLock(key Key) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.locks[key]
	if !ok {
		l = &sync.Mutex{}
		d.locks[key] = l
	}
	return l
}

func (d *Disk) path(key Key, slot Slot) string {
	return filepath.Join(d.root, key.StrategyName, key.Symbol+"."+string(slot))
}

func (d *Disk) read(key Key, slot Slot) (*models.Signal, error) {
	l := d.keyLock(key)
	l.Lock()
	defer l.Unlock()

	data, err := os.ReadFile(d.path(key, slot)) // #nosec G304 -- path is derived from store root
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s slot for %s/%s: %w", slot, key.StrategyName, key.Symbol, err)
	}

	var signal models.Signal
	if err := json.Unmarshal(data, &signal); err != nil {
		return nil, fmt.Errorf("decoding %s slot for %s/%s: %w", slot, key.StrategyName, key.Symbol, err)
	}
	return &signal, nil
}

func (d *Disk) write(key Key, slot Slot, signal *models.Signal) error {
	l := d.keyLock(key)
	l.Lock()
	defer l.Unlock()

	path := d.path(key, slot)
	if signal == nil {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("clearing %s slot for %s/%s: %w", slot, key.StrategyName, key.Symbol, err)
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating strategy dir: %w", err)
	}

	data, err := json.MarshalIndent(signal, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s slot for %s/%s: %w", slot, key.StrategyName, key.Symbol, err)
	}

	// Write to temp file first, then atomic rename.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing %s slot for %s/%s: %w", slot, key.StrategyName, key.Symbol, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing %s slot for %s/%s: %w", slot, key.StrategyName, key.Symbol, err)
	}
	return nil
}

// ReadPending returns the pending slot, nil when empty.
func (d *Disk) ReadPending(key Key) (*models.Signal, error) {
	return d.read(key, SlotPending)
}

// ReadScheduled returns the scheduled slot, nil when empty.
func (d *Disk) ReadScheduled(key Key) (*models.Signal, error) {
	return d.read(key, SlotScheduled)
}

// WritePending replaces the pending slot; nil clears it.
func (d *Disk) WritePending(key Key, signal *models.Signal) error {
	return d.write(key, SlotPending, signal)
}

// WriteScheduled replaces the scheduled slot; nil clears it.
func (d *Disk) WriteScheduled(key Key, signal *models.Signal) error {
	return d.write(key, SlotScheduled, signal)
}

// Clear removes both slots for the key.
func (d *Disk) Clear(key Key) error {
	if err := d.write(key, SlotPending, nil); err != nil {
		return err
	}
	return d.write(key, SlotScheduled, nil)
}

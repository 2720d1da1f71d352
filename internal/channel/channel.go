// Package channel manages the registry of downstream consumers.
//
// A channel is registered once with a numeric id and an optional label. When
// its consumer is decommissioned the channel is first marked as offboarding;
// the marks are collected at the next session change, at which point the host
// retires the queue and the record is dropped.
//
// The registry is persisted to a JSON file in the server's data directory so it
// survives restarts. All methods are safe for concurrent use.
package channel

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/sneh-joshi/dmq/internal/types"
)

// labelRe validates channel labels: empty, or 1–64 chars of lowercase
// letters/digits/hyphens starting with a letter or digit.
var labelRe = regexp.MustCompile(`^([a-z0-9][a-z0-9\-]{0,63})?$`)

// ErrNotFound is returned when a channel that isn't registered is requested.
var ErrNotFound = errors.New("channel: not found")

// ErrAlreadyExists is returned when Register is called for a registered id.
var ErrAlreadyExists = errors.New("channel: already registered")

// ErrInvalidLabel is returned when a label fails validation.
var ErrInvalidLabel = errors.New("channel: invalid label")

// ErrOffboarding is returned when a channel is already marked for offboarding.
var ErrOffboarding = errors.New("channel: offboarding")

// Channel is the metadata stored for each registered channel.
type Channel struct {
	ID           types.ChannelID `json:"id"`
	Label        string          `json:"label,omitempty"`
	RegisteredAt int64           `json:"registered_at"` // UTC milliseconds
	// OffboardingAt is set when the channel was marked; 0 while active.
	OffboardingAt int64 `json:"offboarding_at,omitempty"`
}

// Offboarding reports whether c is marked for retirement.
func (c Channel) Offboarding() bool { return c.OffboardingAt != 0 }

// Registry is the in-memory + on-disk store for all channel records.
type Registry struct {
	mu       sync.RWMutex
	channels map[types.ChannelID]*Channel
	filePath string
}

// New creates a Registry and loads any previously persisted channels from
// dataDir/channels.json. If the file doesn't exist the registry starts empty.
func New(dataDir string) (*Registry, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("channel: create data dir: %w", err)
	}

	r := &Registry{
		channels: make(map[types.ChannelID]*Channel),
		filePath: filepath.Join(dataDir, "channels.json"),
	}

	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

// Register adds a channel.
// Returns ErrAlreadyExists if id is already registered, ErrInvalidLabel if the
// label is not valid.
func (r *Registry) Register(id types.ChannelID, label string) (*Channel, error) {
	if !labelRe.MatchString(label) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidLabel, label)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.channels[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, id)
	}

	c := &Channel{ID: id, Label: label, RegisteredAt: time.Now().UnixMilli()}
	r.channels[id] = c
	if err := r.save(); err != nil {
		delete(r.channels, id)
		return nil, err
	}
	cp := *c
	return &cp, nil
}

// MarkOffboarding flags id for retirement at the next session change.
func (r *Registry) MarkOffboarding(id types.ChannelID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.channels[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if c.Offboarding() {
		return fmt.Errorf("%w: %s", ErrOffboarding, id)
	}
	c.OffboardingAt = time.Now().UnixMilli()
	if err := r.save(); err != nil {
		c.OffboardingAt = 0
		return err
	}
	return nil
}

// Offboarding returns the ids marked for retirement, in ascending order.
func (r *Registry) Offboarding() []types.ChannelID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []types.ChannelID
	for id, c := range r.channels {
		if c.Offboarding() {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Remove drops the given channels from the registry. Unknown ids are ignored.
func (r *Registry) Remove(ids ...types.ChannelID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range ids {
		delete(r.channels, id)
	}
	return r.save()
}

// Active reports whether id is registered and not offboarding.
func (r *Registry) Active(id types.ChannelID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.channels[id]
	return ok && !c.Offboarding()
}

// Get returns the Channel record, or ErrNotFound.
func (r *Registry) Get(id types.ChannelID) (*Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.channels[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	// Return a copy to avoid mutation of internal state.
	cp := *c
	return &cp, nil
}

// List returns all registered channels sorted by id.
func (r *Registry) List() []*Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Channel, 0, len(r.channels))
	for _, c := range r.channels {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ─── Persistence ──────────────────────────────────────────────────────────────

// fileModel is the on-disk JSON structure.
type fileModel struct {
	Channels []*Channel `json:"channels"`
}

// load reads channels.json. If the file does not exist it is a no-op.
// Must be called before mu is held (called only from New).
func (r *Registry) load() error {
	data, err := os.ReadFile(r.filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil // nothing to load
		}
		return fmt.Errorf("channel: read %s: %w", r.filePath, err)
	}

	var m fileModel
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("channel: parse %s: %w", r.filePath, err)
	}

	for _, c := range m.Channels {
		r.channels[c.ID] = c
	}
	return nil
}

// save writes the current registry to disk atomically (write to temp file,
// rename). Must be called with mu held.
func (r *Registry) save() error {
	list := make([]*Channel, 0, len(r.channels))
	for _, c := range r.channels {
		list = append(list, c)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })

	data, err := json.MarshalIndent(fileModel{Channels: list}, "", "  ")
	if err != nil {
		return fmt.Errorf("channel: marshal: %w", err)
	}

	tmp := r.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return fmt.Errorf("channel: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, r.filePath); err != nil {
		return fmt.Errorf("channel: rename to %s: %w", r.filePath, err)
	}
	return nil
}

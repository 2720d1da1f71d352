// Package node holds the identity of a dmq server.
//
// A node is named by a ULID kept in <data_dir>/node_id, so the name survives
// restarts and follows the queue store when the directory is moved. The name
// is reported by /health and stamped on every trace span. The same generator
// names subscriptions and WebSocket watchers; it is monotonic, so IDs minted
// by one process sort in creation order.
package node

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// IDFile is the name of the identity file inside the data directory.
const IDFile = "node_id"

// AutoID asks New to load or create the persisted identity.
const AutoID = "auto"

// ErrInvalidID is returned for anything that is not a canonical ULID.
var ErrInvalidID = errors.New("node: invalid id")

// ID is the ULID string naming a dmq server.
type ID string

func (id ID) String() string { return string(id) }

// Time returns the moment the ID was minted.
func (id ID) Time() time.Time {
	u, err := ulid.ParseStrict(string(id))
	if err != nil {
		return time.Time{}
	}
	return ulid.Time(u.Time())
}

// ParseID validates s as a ULID.
func ParseID(s string) (ID, error) {
	if _, err := ulid.ParseStrict(s); err != nil {
		return "", fmt.Errorf("%w %q: %v", ErrInvalidID, s, err)
	}
	return ID(s), nil
}

// CheckOverride validates the node.id setting: empty or AutoID, or a ULID.
func CheckOverride(s string) error {
	if s == "" || s == AutoID {
		return nil
	}
	_, err := ParseID(s)
	return err
}

// Node is the identity of this server plus the data directory it lives in.
type Node struct {
	id      ID
	dataDir string
}

// New returns the node for dataDir, creating the directory when needed.
// A ULID override wins over the persisted identity and is not written.
// Otherwise the identity is read from IDFile, or minted and saved on first
// start.
func New(dataDir, override string) (*Node, error) {
	if dataDir == "" {
		return nil, errors.New("node: data dir must not be empty")
	}
	if err := CheckOverride(override); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("node: create data dir: %w", err)
	}

	if override != "" && override != AutoID {
		return &Node{id: ID(override), dataDir: dataDir}, nil
	}
	id, err := loadOrCreate(filepath.Join(dataDir, IDFile))
	if err != nil {
		return nil, err
	}
	return &Node{id: id, dataDir: dataDir}, nil
}

func (n *Node) ID() ID          { return n.id }
func (n *Node) DataDir() string { return n.dataDir }

func loadOrCreate(path string) (ID, error) {
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		id, err := ParseID(strings.TrimSpace(string(data)))
		if err != nil {
			return "", fmt.Errorf("node: %s: %w", path, err)
		}
		return id, nil
	case !errors.Is(err, os.ErrNotExist):
		return "", fmt.Errorf("node: read %s: %w", path, err)
	}

	id, err := NewID()
	if err != nil {
		return "", fmt.Errorf("node: mint id: %w", err)
	}
	// Write then rename, so a crash never leaves a half-written identity.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(id+"\n"), 0o640); err != nil {
		return "", fmt.Errorf("node: persist id: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("node: persist id: %w", err)
	}
	return ID(id), nil
}

// ─── ID generation ────────────────────────────────────────────────────────────

var (
	entropyMu sync.Mutex
	entropy   io.Reader = ulid.Monotonic(rand.Reader, 0)
)

// NewID mints a ULID. IDs minted by one process are strictly increasing, even
// within the same millisecond and across goroutines.
func NewID() (string, error) {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// MustNewID is NewID for callers that cannot handle an exhausted entropy
// source.
func MustNewID() string {
	id, err := NewID()
	if err != nil {
		panic(fmt.Sprintf("node: %v", err))
	}
	return id
}

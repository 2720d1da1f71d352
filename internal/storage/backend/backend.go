// Package backend opens the storage.Store selected by configuration.
package backend

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sneh-joshi/dmq/internal/config"
	"github.com/sneh-joshi/dmq/internal/storage"
	"github.com/sneh-joshi/dmq/internal/storage/badgerdb"
	"github.com/sneh-joshi/dmq/internal/storage/bolt"
	"github.com/sneh-joshi/dmq/internal/storage/memory"
	"github.com/sneh-joshi/dmq/internal/storage/pebbledb"
)

// Open opens the configured backend under dataDir/queue (or dataDir/queue.db
// for bolt).
func Open(cfg config.StorageConfig, dataDir string) (storage.Store, error) {
	sync := cfg.Fsync != config.FsyncNever

	if cfg.Backend != config.BackendMemory && !cfg.InMemory {
		if err := os.MkdirAll(dataDir, 0o750); err != nil {
			return nil, fmt.Errorf("backend: create data dir %s: %w", dataDir, err)
		}
	}

	switch cfg.Backend {
	case config.BackendBolt, "":
		return bolt.Open(filepath.Join(dataDir, "queue.db"), bolt.Options{NoSync: !sync})
	case config.BackendBadger:
		return badgerdb.Open(filepath.Join(dataDir, "queue"), badgerdb.Options{InMemory: cfg.InMemory, SyncWrites: sync})
	case config.BackendPebble:
		return pebbledb.Open(filepath.Join(dataDir, "queue"), pebbledb.Options{InMemory: cfg.InMemory, Sync: sync})
	case config.BackendMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("backend: unknown storage backend %q", cfg.Backend)
	}
}

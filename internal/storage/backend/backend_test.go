package backend_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sneh-joshi/dmq/internal/config"
	"github.com/sneh-joshi/dmq/internal/storage"
	"github.com/sneh-joshi/dmq/internal/storage/backend"
)

func TestOpen_EveryBackend(t *testing.T) {
	for _, b := range []config.Backend{config.BackendBolt, config.BackendBadger, config.BackendPebble, config.BackendMemory} {
		t.Run(string(b), func(t *testing.T) {
			s, err := backend.Open(config.StorageConfig{Backend: b, Fsync: config.FsyncNever}, t.TempDir())
			require.NoError(t, err)
			defer s.Close()

			require.NoError(t, s.Update(func(tx storage.Tx) error {
				return tx.Put(storage.BucketHeads, []byte("k"), []byte("v"))
			}))
			require.NoError(t, s.View(func(tx storage.Tx) error {
				v, err := tx.Get(storage.BucketHeads, []byte("k"))
				assert.Equal(t, "v", string(v))
				return err
			}))
		})
	}
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := backend.Open(config.StorageConfig{Backend: "leveldb"}, t.TempDir())
	assert.Error(t, err)
}

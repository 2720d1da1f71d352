// Package storetest holds the conformance suite every storage.Store backend
// must pass. Backend packages call Run from their own tests.
package storetest

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sneh-joshi/dmq/internal/storage"
)

// Opener returns a fresh, empty store. It should register its own cleanup.
type Opener func(t *testing.T) storage.Store

// Run executes the conformance suite against stores produced by open.
func Run(t *testing.T, open Opener) {
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, open(t)) })
	t.Run("PutGetDelete", func(t *testing.T) { testPutGetDelete(t, open(t)) })
	t.Run("BucketsIsolated", func(t *testing.T) { testBucketsIsolated(t, open(t)) })
	t.Run("RollbackOnError", func(t *testing.T) { testRollbackOnError(t, open(t)) })
	t.Run("ReadYourWrites", func(t *testing.T) { testReadYourWrites(t, open(t)) })
	t.Run("ViewIsReadOnly", func(t *testing.T) { testViewIsReadOnly(t, open(t)) })
	t.Run("ForEachOrdered", func(t *testing.T) { testForEachOrdered(t, open(t)) })
	t.Run("GetReturnsCopy", func(t *testing.T) { testGetReturnsCopy(t, open(t)) })
}

func put(t *testing.T, s storage.Store, b storage.Bucket, k, v string) {
	t.Helper()
	require.NoError(t, s.Update(func(tx storage.Tx) error {
		return tx.Put(b, []byte(k), []byte(v))
	}))
}

func get(t *testing.T, s storage.Store, b storage.Bucket, k string) (string, error) {
	t.Helper()
	var out []byte
	err := s.View(func(tx storage.Tx) error {
		v, err := tx.Get(b, []byte(k))
		out = v
		return err
	})
	return string(out), err
}

func testGetMissing(t *testing.T, s storage.Store) {
	_, err := get(t, s, storage.BucketPages, "nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testPutGetDelete(t *testing.T, s storage.Store) {
	put(t, s, storage.BucketHeads, "k", "v1")
	v, err := get(t, s, storage.BucketHeads, "k")
	require.NoError(t, err)
	assert.Equal(t, "v1", v)

	put(t, s, storage.BucketHeads, "k", "v2")
	v, err = get(t, s, storage.BucketHeads, "k")
	require.NoError(t, err)
	assert.Equal(t, "v2", v)

	require.NoError(t, s.Update(func(tx storage.Tx) error {
		if err := tx.Delete(storage.BucketHeads, []byte("k")); err != nil {
			return err
		}
		// Deleting a missing key is fine.
		return tx.Delete(storage.BucketHeads, []byte("never-there"))
	}))
	_, err = get(t, s, storage.BucketHeads, "k")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testBucketsIsolated(t *testing.T, s storage.Store) {
	put(t, s, storage.BucketPages, "k", "page")
	put(t, s, storage.BucketHeadsByID, "k", "head")

	v, err := get(t, s, storage.BucketPages, "k")
	require.NoError(t, err)
	assert.Equal(t, "page", v)

	v, err = get(t, s, storage.BucketHeadsByID, "k")
	require.NoError(t, err)
	assert.Equal(t, "head", v)

	_, err = get(t, s, storage.BucketQueueState, "k")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testRollbackOnError(t *testing.T, s storage.Store) {
	put(t, s, storage.BucketQueueState, "keep", "old")

	boom := errors.New("boom")
	err := s.Update(func(tx storage.Tx) error {
		if err := tx.Put(storage.BucketQueueState, []byte("keep"), []byte("new")); err != nil {
			return err
		}
		if err := tx.Put(storage.BucketQueueState, []byte("fresh"), []byte("x")); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	v, err := get(t, s, storage.BucketQueueState, "keep")
	require.NoError(t, err)
	assert.Equal(t, "old", v)
	_, err = get(t, s, storage.BucketQueueState, "fresh")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testReadYourWrites(t *testing.T, s storage.Store) {
	put(t, s, storage.BucketPages, "gone", "x")

	require.NoError(t, s.Update(func(tx storage.Tx) error {
		require.NoError(t, tx.Put(storage.BucketPages, []byte("a"), []byte("1")))
		require.NoError(t, tx.Delete(storage.BucketPages, []byte("gone")))

		v, err := tx.Get(storage.BucketPages, []byte("a"))
		require.NoError(t, err)
		assert.Equal(t, "1", string(v))

		_, err = tx.Get(storage.BucketPages, []byte("gone"))
		assert.ErrorIs(t, err, storage.ErrNotFound)

		var keys []string
		require.NoError(t, tx.ForEach(storage.BucketPages, func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		}))
		assert.Equal(t, []string{"a"}, keys)
		return nil
	}))
}

func testViewIsReadOnly(t *testing.T, s storage.Store) {
	err := s.View(func(tx storage.Tx) error {
		return tx.Put(storage.BucketPages, []byte("k"), []byte("v"))
	})
	assert.ErrorIs(t, err, storage.ErrReadOnly)

	err = s.View(func(tx storage.Tx) error {
		return tx.Delete(storage.BucketPages, []byte("k"))
	})
	assert.ErrorIs(t, err, storage.ErrReadOnly)
}

func testForEachOrdered(t *testing.T, s storage.Store) {
	require.NoError(t, s.Update(func(tx storage.Tx) error {
		for _, k := range []string{"c", "a", "b"} {
			if err := tx.Put(storage.BucketHeadsByID, []byte(k), []byte("v"+k)); err != nil {
				return err
			}
		}
		// A key in another bucket must not leak into the iteration.
		return tx.Put(storage.BucketHeads, []byte("z"), []byte("other"))
	}))

	var keys, vals []string
	require.NoError(t, s.View(func(tx storage.Tx) error {
		return tx.ForEach(storage.BucketHeadsByID, func(k, v []byte) error {
			keys = append(keys, string(k))
			vals = append(vals, string(v))
			return nil
		})
	}))
	assert.Equal(t, []string{"a", "b", "c"}, keys)
	assert.Equal(t, []string{"va", "vb", "vc"}, vals)

	stop := errors.New("stop")
	n := 0
	err := s.View(func(tx storage.Tx) error {
		return tx.ForEach(storage.BucketHeadsByID, func(_, _ []byte) error {
			n++
			return stop
		})
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, n)
}

func testGetReturnsCopy(t *testing.T, s storage.Store) {
	put(t, s, storage.BucketPages, "k", "abc")

	var first []byte
	require.NoError(t, s.View(func(tx storage.Tx) error {
		v, err := tx.Get(storage.BucketPages, []byte("k"))
		first = v
		return err
	}))
	first[0] = 'X'

	v, err := get(t, s, storage.BucketPages, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", v)
}

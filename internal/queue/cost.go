package queue

import "github.com/sneh-joshi/dmq/internal/storage"

// Cost counts the storage reads and writes one engine operation performed.
// The host turns it into a scalar with Weight to charge the caller.
type Cost struct {
	Reads  uint64 `json:"reads"`
	Writes uint64 `json:"writes"`
}

// Add returns the sum of c and o.
func (c Cost) Add(o Cost) Cost {
	return Cost{Reads: c.Reads + o.Reads, Writes: c.Writes + o.Writes}
}

// Weights prices a single read and a single write.
type Weights struct {
	Read  uint64
	Write uint64
}

// Weight converts c into a scalar under w.
func (c Cost) Weight(w Weights) uint64 {
	return c.Reads*w.Read + c.Writes*w.Write
}

// meteredTx counts every storage access made through it.
type meteredTx struct {
	tx   storage.Tx
	cost *Cost
}

func meter(tx storage.Tx, cost *Cost) storage.Tx {
	return &meteredTx{tx: tx, cost: cost}
}

func (m *meteredTx) Get(b storage.Bucket, key []byte) ([]byte, error) {
	m.cost.Reads++
	return m.tx.Get(b, key)
}

func (m *meteredTx) Put(b storage.Bucket, key, value []byte) error {
	m.cost.Writes++
	return m.tx.Put(b, key, value)
}

func (m *meteredTx) Delete(b storage.Bucket, key []byte) error {
	m.cost.Writes++
	return m.tx.Delete(b, key)
}

func (m *meteredTx) ForEach(b storage.Bucket, fn func(key, value []byte) error) error {
	return m.tx.ForEach(b, func(k, v []byte) error {
		m.cost.Reads++
		return fn(k, v)
	})
}

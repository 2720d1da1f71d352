package storage

// Flat key-value backends (badger, pebble) have no native buckets. They store
// every entry under [bucket name][0x00][key]; since bucket names never contain
// 0x00, each bucket occupies the half-open range [prefix, UpperBound(prefix)).

// BucketPrefix returns the key prefix of bucket b in a flat keyspace.
func BucketPrefix(b Bucket) []byte {
	p := make([]byte, 0, len(b)+1)
	p = append(p, b...)
	return append(p, 0x00)
}

// FlatKey returns the flat-keyspace key of key in bucket b.
func FlatKey(b Bucket, key []byte) []byte {
	k := make([]byte, 0, len(b)+1+len(key))
	k = append(k, b...)
	k = append(k, 0x00)
	return append(k, key...)
}

// UpperBound returns the exclusive upper bound of bucket b in a flat keyspace.
func UpperBound(b Bucket) []byte {
	p := make([]byte, 0, len(b)+1)
	p = append(p, b...)
	return append(p, 0x01)
}

package machine

import "context"

// StoredRecord is one durable record as held by a Store. Err is set when the
// backend could enumerate the record but not read it.
type StoredRecord struct {
	Key  string
	Data []byte
	Err  error
}

// Store is the durable side of the registry: one record per machine id.
type Store interface {
	// Put writes the record for key, overwriting any previous record.
	Put(ctx context.Context, key string, data []byte) error
	// List enumerates every record.
	List(ctx context.Context) ([]StoredRecord, error)
	// ReplaceAll swaps the whole population for records. On failure the
	// previous population must still be intact.
	ReplaceAll(ctx context.Context, records []StoredRecord) error
}

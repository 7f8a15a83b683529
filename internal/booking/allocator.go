package booking

import "context"

// SequenceAllocator hands out per-slot sequence numbers. Numbers are dense
// because the increment only survives when the surrounding transaction commits.
type SequenceAllocator struct{}

// ReserveNext increments the slot counter inside tx and returns the new value.
// Must only be called inside Store.WithinTx.
func (SequenceAllocator) ReserveNext(ctx context.Context, tx Tx, key SlotKey) (int, error) {
	counter, err := tx.EnsureCounter(ctx, key)
	if err != nil {
		return 0, err
	}

	next := counter.Count + 1
	if err := tx.SetCounter(ctx, key, next); err != nil {
		return 0, err
	}
	return next, nil
}

package booking

import "context"

// AvailabilityTracker owns the per-slot acceptingBookings flag. The flag is only
// written inside the booking transaction that moves the counter.
type AvailabilityTracker struct {
	store Store
}

func NewAvailabilityTracker(store Store) AvailabilityTracker {
	return AvailabilityTracker{store: store}
}

// Get returns the committed flag. A slot that was never booked is accepting.
func (t AvailabilityTracker) Get(ctx context.Context, key SlotKey) (bool, error) {
	rec, found, err := t.store.ReadAvailability(ctx, key)
	if err != nil {
		return false, classify("read availability", err)
	}
	if !found {
		return true, nil
	}
	return rec.AcceptingBookings, nil
}

func (t AvailabilityTracker) materialize(ctx context.Context, tx Tx, key SlotKey) (AvailabilityRecord, error) {
	return tx.EnsureAvailability(ctx, key)
}

func (t AvailabilityTracker) markExhausted(ctx context.Context, tx Tx, key SlotKey) error {
	return tx.SetAvailability(ctx, key, false)
}

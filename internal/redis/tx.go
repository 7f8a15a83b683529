package redisclient

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/slot-booking/internal/booking"
)

// redisTx buffers writes until EXEC. Reads see the buffer first, then Redis.
type redisTx struct {
	rtx     *redis.Tx
	watched map[string]struct{}

	writes map[string]string
	order  []string
	appts  []string
	slots  map[string]struct{}
}

func newRedisTx(rtx *redis.Tx) *redisTx {
	return &redisTx{
		rtx:     rtx,
		watched: make(map[string]struct{}),
		writes:  make(map[string]string),
		slots:   make(map[string]struct{}),
	}
}

// get WATCHes key before reading it.
func (t *redisTx) get(ctx context.Context, key string) (string, bool, error) {
	if v, ok := t.writes[key]; ok {
		return v, true, nil
	}
	if _, ok := t.watched[key]; !ok {
		if err := t.rtx.Watch(ctx, key).Err(); err != nil {
			return "", false, classifyRedisError("watch "+key, err)
		}
		t.watched[key] = struct{}{}
	}

	v, err := t.rtx.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, classifyRedisError("get "+key, err)
	}
	return v, true, nil
}

func (t *redisTx) set(key, value string) {
	if _, ok := t.writes[key]; !ok {
		t.order = append(t.order, key)
	}
	t.writes[key] = value
}

func (t *redisTx) flush(ctx context.Context, pipe redis.Pipeliner) {
	for _, k := range t.order {
		pipe.Set(ctx, k, t.writes[k], 0)
	}
	if len(t.appts) > 0 {
		members := make([]any, len(t.appts))
		for i, k := range t.appts {
			members[i] = k
		}
		pipe.SAdd(ctx, apptIndexKey, members...)
	}
	if len(t.slots) > 0 {
		members := make([]any, 0, len(t.slots))
		for k := range t.slots {
			members = append(members, k)
		}
		pipe.SAdd(ctx, slotIndexKey, members...)
	}
}

func (t *redisTx) FindAppointment(ctx context.Context, key booking.AppointmentKey) (*booking.Appointment, error) {
	raw, found, err := t.get(ctx, appointmentKey(key))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, booking.ErrAppointmentNotFound
	}

	var rec appointmentRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, booking.StoreFailure("decode appointment", err)
	}
	a, err := rec.toDomain()
	if err != nil {
		return nil, booking.StoreFailure("decode appointment", err)
	}
	return a, nil
}

func (t *redisTx) EnsureAvailability(ctx context.Context, key booking.SlotKey) (booking.AvailabilityRecord, error) {
	k := availabilityKey(key)
	v, found, err := t.get(ctx, k)
	if err != nil {
		return booking.AvailabilityRecord{}, err
	}
	if !found {
		v = "1"
		t.set(k, v)
		t.slots[key.String()] = struct{}{}
	}
	return booking.AvailabilityRecord{Key: key, AcceptingBookings: v == "1"}, nil
}

func (t *redisTx) SetAvailability(_ context.Context, key booking.SlotKey, accepting bool) error {
	v := "0"
	if accepting {
		v = "1"
	}
	t.set(availabilityKey(key), v)
	t.slots[key.String()] = struct{}{}
	return nil
}

func (t *redisTx) EnsureCounter(ctx context.Context, key booking.SlotKey) (booking.SequenceCounter, error) {
	k := counterKey(key)
	v, found, err := t.get(ctx, k)
	if err != nil {
		return booking.SequenceCounter{}, err
	}
	c := booking.SequenceCounter{Key: key}
	if !found {
		t.set(k, "0")
		t.slots[key.String()] = struct{}{}
		return c, nil
	}
	if c.Count, err = strconv.Atoi(v); err != nil {
		return booking.SequenceCounter{}, booking.StoreFailure("decode counter", err)
	}
	return c, nil
}

func (t *redisTx) SetCounter(_ context.Context, key booking.SlotKey, count int) error {
	t.set(counterKey(key), strconv.Itoa(count))
	t.slots[key.String()] = struct{}{}
	return nil
}

func (t *redisTx) InsertAppointment(ctx context.Context, a *booking.Appointment) error {
	if _, err := t.FindAppointment(ctx, a.Key); err == nil {
		return booking.Duplicate(a.Key)
	} else if !errors.Is(err, booking.ErrAppointmentNotFound) {
		return err
	}

	raw, err := json.Marshal(newAppointmentRecord(a))
	if err != nil {
		return booking.StoreFailure("encode appointment", err)
	}
	k := appointmentKey(a.Key)
	t.set(k, string(raw))
	t.appts = append(t.appts, k)
	return nil
}

package redisclient

import (
	"context"
	"encoding/json"
	"slices"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/slot-booking/internal/booking"
)

// Store is a booking store on Redis using optimistic transactions. Every key a
// booking reads is WATCHed first and all writes go out in one MULTI/EXEC, so a
// concurrent commit on the same slot aborts the later EXEC and nothing of it
// is applied.
type Store struct {
	client *redis.Client
	retry  booking.RetryPolicy
	log    *zap.Logger
}

// NewStore wraps client. Aborted transactions are rerun under retry; once it
// gives up the caller sees a TransactionConflict.
func NewStore(client *redis.Client, retry booking.RetryPolicy, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{client: client, retry: retry, log: log}
}

func classifyRedisError(op string, err error) error {
	if err == nil {
		return nil
	}
	var classified *booking.Error
	switch {
	case errors.As(err, &classified):
		return err
	case errors.Is(err, redis.TxFailedErr), errors.Is(err, context.DeadlineExceeded):
		return booking.Conflict(op, err)
	default:
		return booking.StoreFailure(op, err)
	}
}

// Directory

func (s *Store) FindDoctor(ctx context.Context, id uuid.UUID) (*booking.Doctor, error) {
	raw, err := s.client.Get(ctx, doctorKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, booking.ErrDoctorNotFound
		}
		return nil, classifyRedisError("find doctor", err)
	}
	var rec doctorRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, booking.StoreFailure("decode doctor", err)
	}
	return rec.toDomain(), nil
}

func (s *Store) FindPatient(ctx context.Context, id uuid.UUID) (*booking.Patient, error) {
	raw, err := s.client.Get(ctx, patientKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, booking.ErrPatientNotFound
		}
		return nil, classifyRedisError("find patient", err)
	}
	var rec patientRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, booking.StoreFailure("decode patient", err)
	}
	return &booking.Patient{ID: rec.ID, Name: rec.Name, Phone: rec.Phone}, nil
}

func (s *Store) SaveDoctor(ctx context.Context, d *booking.Doctor) error {
	schedule, err := booking.NormalizeSchedule(d.Schedule)
	if err != nil {
		return err
	}
	cp := *d
	cp.Schedule = schedule

	raw, err := json.Marshal(newDoctorRecord(&cp))
	if err != nil {
		return booking.StoreFailure("encode doctor", err)
	}
	return classifyRedisError("save doctor", s.client.Set(ctx, doctorKey(d.ID), raw, 0).Err())
}

func (s *Store) SavePatient(ctx context.Context, p *booking.Patient) error {
	raw, err := json.Marshal(patientRecord{ID: p.ID, Name: p.Name, Phone: p.Phone})
	if err != nil {
		return booking.StoreFailure("encode patient", err)
	}
	return classifyRedisError("save patient", s.client.Set(ctx, patientKey(p.ID), raw, 0).Err())
}

// Store

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx booking.Tx) error) error {
	return s.retry.Run(ctx, func(ctx context.Context) error {
		return s.runOnce(ctx, fn)
	})
}

func (s *Store) runOnce(ctx context.Context, fn func(ctx context.Context, tx booking.Tx) error) error {
	var fnErr error

	err := s.client.Watch(ctx, func(rtx *redis.Tx) error {
		tx := newRedisTx(rtx)
		if err := fn(ctx, tx); err != nil {
			fnErr = err
			return err
		}
		_, err := rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			tx.flush(ctx, pipe)
			return nil
		})
		return err
	})
	if fnErr != nil {
		return fnErr
	}
	if err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			s.log.Debug("booking transaction aborted by concurrent commit")
		}
		return classifyRedisError("commit", err)
	}
	return nil
}

func (s *Store) ReadAvailability(ctx context.Context, key booking.SlotKey) (booking.AvailabilityRecord, bool, error) {
	rec := booking.AvailabilityRecord{Key: key}
	v, err := s.client.Get(ctx, availabilityKey(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return rec, false, nil
		}
		return rec, false, classifyRedisError("read availability", err)
	}
	rec.AcceptingBookings = v == "1"
	return rec, true, nil
}

func (s *Store) ReadCounter(ctx context.Context, key booking.SlotKey) (booking.SequenceCounter, bool, error) {
	c := booking.SequenceCounter{Key: key}
	n, err := s.client.Get(ctx, counterKey(key)).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return c, false, nil
		}
		return c, false, classifyRedisError("read counter", err)
	}
	c.Count = n
	return c, true, nil
}

// Searcher

// SearchAppointments loads every appointment and filters in process. Redis has
// no secondary indexes here; the listing is an operator tool, not a hot path.
func (s *Store) SearchAppointments(ctx context.Context, f booking.SearchFilter) ([]booking.AppointmentSummary, error) {
	keys, err := s.client.SMembers(ctx, apptIndexKey).Result()
	if err != nil {
		return nil, classifyRedisError("list appointments", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, classifyRedisError("load appointments", err)
	}
	appts, err := decodeAppointments(vals)
	if err != nil {
		return nil, err
	}

	doctors := make(map[uuid.UUID]*booking.Doctor)
	patients := make(map[uuid.UUID]*booking.Patient)

	var result []booking.AppointmentSummary
	for _, a := range appts {
		d, ok := doctors[a.Key.DoctorID]
		if !ok {
			if d, err = s.FindDoctor(ctx, a.Key.DoctorID); err != nil && !errors.Is(err, booking.ErrDoctorNotFound) {
				return nil, err
			}
			doctors[a.Key.DoctorID] = d
		}
		p, ok := patients[a.Key.PatientID]
		if !ok {
			if p, err = s.FindPatient(ctx, a.Key.PatientID); err != nil && !errors.Is(err, booking.ErrPatientNotFound) {
				return nil, err
			}
			patients[a.Key.PatientID] = p
		}

		sum := booking.AppointmentSummary{
			DoctorID:     a.Key.DoctorID,
			PatientID:    a.Key.PatientID,
			Date:         a.Key.Date,
			StartTime:    a.Key.StartTime,
			SeqNumber:    a.SeqNumber,
			RegisteredAt: a.RegisteredAt,
			Canceled:     a.Canceled,
		}
		if d != nil {
			sum.DoctorName = d.Name
		}
		if p != nil {
			sum.PatientName = p.Name
			sum.PatientPhone = p.Phone
		}
		if f.Matches(sum) {
			result = append(result, sum)
		}
	}
	booking.SortSummaries(result)
	return result, nil
}

// SlotStateLister

// ListSlotStates reads all slot records and appointments inside one MULTI while
// watching both index sets, so the result is a single committed snapshot.
func (s *Store) ListSlotStates(ctx context.Context) ([]booking.SlotState, error) {
	var states []booking.SlotState

	read := func(rtx *redis.Tx) error {
		slotKeys, err := rtx.SMembers(ctx, slotIndexKey).Result()
		if err != nil {
			return err
		}
		apptKeys, err := rtx.SMembers(ctx, apptIndexKey).Result()
		if err != nil {
			return err
		}

		states = states[:0]
		if len(slotKeys) == 0 && len(apptKeys) == 0 {
			return nil
		}

		var counters, avails, appts *redis.SliceCmd
		_, err = rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(slotKeys) > 0 {
				ck := make([]string, len(slotKeys))
				ak := make([]string, len(slotKeys))
				for i, sk := range slotKeys {
					ck[i] = keyPrefix + "seq:" + sk
					ak[i] = keyPrefix + "avail:" + sk
				}
				counters = pipe.MGet(ctx, ck...)
				avails = pipe.MGet(ctx, ak...)
			}
			if len(apptKeys) > 0 {
				appts = pipe.MGet(ctx, apptKeys...)
			}
			return nil
		})
		if err != nil {
			return err
		}

		byKey := make(map[string]*booking.SlotState, len(slotKeys))
		order := make([]string, 0, len(slotKeys))
		for i, sk := range slotKeys {
			key, err := booking.ParseSlotKey(sk)
			if err != nil {
				return err
			}
			st := &booking.SlotState{Key: key}
			if v, ok := counters.Val()[i].(string); ok {
				if st.Count, err = strconv.Atoi(v); err != nil {
					return err
				}
			}
			if v, ok := avails.Val()[i].(string); ok {
				st.HasAvailability = true
				st.AcceptingBookings = v == "1"
			}
			byKey[sk] = st
			order = append(order, sk)
		}

		if appts != nil {
			list, err := decodeAppointments(appts.Val())
			if err != nil {
				return err
			}
			for _, a := range list {
				sk := a.Key.SlotKey.String()
				st, ok := byKey[sk]
				if !ok {
					st = &booking.SlotState{Key: a.Key.SlotKey}
					byKey[sk] = st
					order = append(order, sk)
				}
				st.SeqNumbers = append(st.SeqNumbers, a.SeqNumber)
			}
		}

		for _, sk := range order {
			st := byKey[sk]
			slices.Sort(st.SeqNumbers)
			states = append(states, *st)
		}
		return nil
	}

	err := s.retry.Run(ctx, func(ctx context.Context) error {
		return classifyRedisError("list slot states", s.client.Watch(ctx, read, slotIndexKey, apptIndexKey))
	})
	if err != nil {
		return nil, err
	}
	return states, nil
}

func decodeAppointments(vals []any) ([]*booking.Appointment, error) {
	out := make([]*booking.Appointment, 0, len(vals))
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var rec appointmentRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, booking.StoreFailure("decode appointment", err)
		}
		a, err := rec.toDomain()
		if err != nil {
			return nil, booking.StoreFailure("decode appointment", err)
		}
		out = append(out, a)
	}
	return out, nil
}

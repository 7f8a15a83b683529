package booking

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is a process-local Store, Directory and Searcher. Each key
// a transaction touches is locked until commit or rollback, writes are
// buffered and applied atomically on commit.
type MemoryRepository struct {
	mu           sync.RWMutex
	doctors      map[uuid.UUID]Doctor
	patients     map[uuid.UUID]Patient
	appointments map[string]Appointment
	availability map[string]AvailabilityRecord
	counters     map[string]SequenceCounter

	locksMu     sync.Mutex
	locks       map[string]chan struct{}
	lockTimeout time.Duration
}

func NewMemoryRepository(lockTimeout time.Duration) *MemoryRepository {
	return &MemoryRepository{
		doctors:      make(map[uuid.UUID]Doctor),
		patients:     make(map[uuid.UUID]Patient),
		appointments: make(map[string]Appointment),
		availability: make(map[string]AvailabilityRecord),
		counters:     make(map[string]SequenceCounter),
		locks:        make(map[string]chan struct{}),
		lockTimeout:  lockTimeout,
	}
}

// Directory

func (r *MemoryRepository) FindDoctor(_ context.Context, id uuid.UUID) (*Doctor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	d.Schedule = append([]ScheduleSlot(nil), d.Schedule...)
	return &d, nil
}

func (r *MemoryRepository) FindPatient(_ context.Context, id uuid.UUID) (*Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (r *MemoryRepository) SaveDoctor(_ context.Context, d *Doctor) error {
	schedule, err := NormalizeSchedule(d.Schedule)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *d
	cp.Schedule = schedule
	r.doctors[d.ID] = cp
	return nil
}

func (r *MemoryRepository) SavePatient(_ context.Context, p *Patient) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.patients[p.ID] = *p
	return nil
}

// Store

func (r *MemoryRepository) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx := &memTx{
		repo:         r,
		held:         make(map[string]chan struct{}),
		appointments: make(map[string]Appointment),
		availability: make(map[string]AvailabilityRecord),
		counters:     make(map[string]SequenceCounter),
	}
	defer tx.release()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (r *MemoryRepository) ReadAvailability(_ context.Context, key SlotKey) (AvailabilityRecord, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.availability[key.String()]
	return rec, ok, nil
}

func (r *MemoryRepository) ReadCounter(_ context.Context, key SlotKey) (SequenceCounter, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.counters[key.String()]
	if !ok {
		return SequenceCounter{Key: key}, false, nil
	}
	return c, true, nil
}

// Searcher

func (r *MemoryRepository) SearchAppointments(_ context.Context, f SearchFilter) ([]AppointmentSummary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []AppointmentSummary
	for _, a := range r.appointments {
		d := r.doctors[a.Key.DoctorID]
		p := r.patients[a.Key.PatientID]
		s := AppointmentSummary{
			DoctorID:     a.Key.DoctorID,
			DoctorName:   d.Name,
			PatientID:    a.Key.PatientID,
			PatientName:  p.Name,
			PatientPhone: p.Phone,
			Date:         a.Key.Date,
			StartTime:    a.Key.StartTime,
			SeqNumber:    a.SeqNumber,
			RegisteredAt: a.RegisteredAt,
			Canceled:     a.Canceled,
		}
		if f.Matches(s) {
			result = append(result, s)
		}
	}
	SortSummaries(result)
	return result, nil
}

// SlotStateLister

func (r *MemoryRepository) ListSlotStates(_ context.Context) ([]SlotState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	states := make(map[string]*SlotState, len(r.counters))
	for k, c := range r.counters {
		states[k] = &SlotState{Key: c.Key, Count: c.Count}
	}
	for k, a := range r.availability {
		st, ok := states[k]
		if !ok {
			st = &SlotState{Key: a.Key}
			states[k] = st
		}
		st.HasAvailability = true
		st.AcceptingBookings = a.AcceptingBookings
	}
	for _, a := range r.appointments {
		k := a.Key.SlotKey.String()
		st, ok := states[k]
		if !ok {
			st = &SlotState{Key: a.Key.SlotKey}
			states[k] = st
		}
		st.SeqNumbers = append(st.SeqNumbers, a.SeqNumber)
	}

	result := make([]SlotState, 0, len(states))
	for _, st := range states {
		sort.Ints(st.SeqNumbers)
		result = append(result, *st)
	}
	return result, nil
}

func (r *MemoryRepository) lockFor(name string) chan struct{} {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()

	l, ok := r.locks[name]
	if !ok {
		l = make(chan struct{}, 1)
		r.locks[name] = l
	}
	return l
}

type memTx struct {
	repo *MemoryRepository
	held map[string]chan struct{}

	appointments map[string]Appointment
	availability map[string]AvailabilityRecord
	counters     map[string]SequenceCounter
}

// lock takes the named key lock for the rest of the transaction.
func (t *memTx) lock(ctx context.Context, name string) error {
	if _, ok := t.held[name]; ok {
		return nil
	}
	l := t.repo.lockFor(name)

	var timeout <-chan time.Time
	if t.repo.lockTimeout > 0 {
		timer := time.NewTimer(t.repo.lockTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case l <- struct{}{}:
		t.held[name] = l
		return nil
	case <-timeout:
		return Conflict("lock "+name, context.DeadlineExceeded)
	case <-ctx.Done():
		return Conflict("lock "+name, ctx.Err())
	}
}

func (t *memTx) release() {
	for name, l := range t.held {
		<-l
		delete(t.held, name)
	}
}

func (t *memTx) commit() {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()

	for k, a := range t.appointments {
		t.repo.appointments[k] = a
	}
	for k, a := range t.availability {
		t.repo.availability[k] = a
	}
	for k, c := range t.counters {
		t.repo.counters[k] = c
	}
}

func (t *memTx) FindAppointment(ctx context.Context, key AppointmentKey) (*Appointment, error) {
	k := key.String()
	if err := t.lock(ctx, "appt:"+k); err != nil {
		return nil, err
	}
	if a, ok := t.appointments[k]; ok {
		return &a, nil
	}

	t.repo.mu.RLock()
	a, ok := t.repo.appointments[k]
	t.repo.mu.RUnlock()
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (t *memTx) EnsureAvailability(ctx context.Context, key SlotKey) (AvailabilityRecord, error) {
	k := key.String()
	if err := t.lock(ctx, "avail:"+k); err != nil {
		return AvailabilityRecord{}, err
	}
	if rec, ok := t.availability[k]; ok {
		return rec, nil
	}

	t.repo.mu.RLock()
	rec, ok := t.repo.availability[k]
	t.repo.mu.RUnlock()
	if !ok {
		rec = AvailabilityRecord{Key: key, AcceptingBookings: true}
		t.availability[k] = rec
	}
	return rec, nil
}

func (t *memTx) SetAvailability(ctx context.Context, key SlotKey, accepting bool) error {
	k := key.String()
	if err := t.lock(ctx, "avail:"+k); err != nil {
		return err
	}
	t.availability[k] = AvailabilityRecord{Key: key, AcceptingBookings: accepting}
	return nil
}

func (t *memTx) EnsureCounter(ctx context.Context, key SlotKey) (SequenceCounter, error) {
	k := key.String()
	if err := t.lock(ctx, "seq:"+k); err != nil {
		return SequenceCounter{}, err
	}
	if c, ok := t.counters[k]; ok {
		return c, nil
	}

	t.repo.mu.RLock()
	c, ok := t.repo.counters[k]
	t.repo.mu.RUnlock()
	if !ok {
		c = SequenceCounter{Key: key}
		t.counters[k] = c
	}
	return c, nil
}

func (t *memTx) SetCounter(ctx context.Context, key SlotKey, count int) error {
	k := key.String()
	if err := t.lock(ctx, "seq:"+k); err != nil {
		return err
	}
	t.counters[k] = SequenceCounter{Key: key, Count: count}
	return nil
}

func (t *memTx) InsertAppointment(ctx context.Context, a *Appointment) error {
	if _, err := t.FindAppointment(ctx, a.Key); err == nil {
		return Duplicate(a.Key)
	}
	t.appointments[a.Key.String()] = *a
	return nil
}

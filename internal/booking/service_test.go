package booking_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/slot-booking/internal/booking"
	"github.com/hackgods/slot-booking/internal/booking/bookingtest"
	"github.com/hackgods/slot-booking/internal/clock"
	"github.com/hackgods/slot-booking/internal/metrics"
)

// -- Fault injection --

type spyStore struct {
	*booking.MemoryRepository
	calls      atomic.Int32
	counterErr error
}

func (s *spyStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx booking.Tx) error) error {
	s.calls.Add(1)
	return s.MemoryRepository.WithinTx(ctx, func(ctx context.Context, tx booking.Tx) error {
		return fn(ctx, &faultyTx{Tx: tx, counterErr: s.counterErr})
	})
}

type faultyTx struct {
	booking.Tx
	counterErr error
}

func (t *faultyTx) SetCounter(ctx context.Context, key booking.SlotKey, count int) error {
	if t.counterErr != nil {
		return t.counterErr
	}
	return t.Tx.SetCounter(ctx, key, count)
}

type fixture struct {
	repo   *booking.MemoryRepository
	store  *spyStore
	clock  *clock.Fixed
	doctor *booking.Doctor
	monday time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := booking.NewMemoryRepository(time.Second)
	f := &fixture{
		repo:   repo,
		store:  &spyStore{MemoryRepository: repo},
		clock:  clock.NewFixed(bookingtest.Today),
		monday: bookingtest.NextWeekday(bookingtest.Today, time.Monday),
	}
	f.doctor = bookingtest.NewDoctor(t, repo,
		booking.ScheduleSlot{DayOfWeek: time.Monday, StartTime: "16:00", MaxCapacity: 2},
		booking.ScheduleSlot{DayOfWeek: time.Friday, StartTime: "11:00", MaxCapacity: 3},
	)
	return f
}

func (f *fixture) service(opts ...booking.Option) *booking.Service {
	return booking.NewService(f.repo, f.store, f.clock, zap.NewNop(), opts...)
}

func (f *fixture) request(t *testing.T) booking.BookingRequest {
	return booking.BookingRequest{
		DoctorID:  f.doctor.ID,
		Date:      f.monday,
		StartTime: "16:00",
		PatientID: bookingtest.NewPatient(t, f.repo).ID,
		Reason:    "check-up",
	}
}

func TestService_Create_ValidationHappensBeforeTransaction(t *testing.T) {
	f := newFixture(t)
	svc := f.service()

	tests := []struct {
		name    string
		mutate  func(r *booking.BookingRequest)
		message string
	}{
		{"missing date", func(r *booking.BookingRequest) { r.Date = time.Time{} }, "Please select appointment date."},
		{"yesterday", func(r *booking.BookingRequest) { r.Date = bookingtest.Today.AddDate(0, 0, -1) }, "Please select today or future date for appointment date."},
		{"missing start time", func(r *booking.BookingRequest) { r.StartTime = "  " }, "Please select start time."},
		{"malformed start time", func(r *booking.BookingRequest) { r.StartTime = "25:99" }, `Invalid start time "25:99".`},
		{"missing doctor", func(r *booking.BookingRequest) { r.DoctorID = uuid.Nil }, "Please select a doctor."},
		{"missing patient", func(r *booking.BookingRequest) { r.PatientID = uuid.Nil }, "Please select a patient."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := f.request(t)
			tt.mutate(&req)

			got, err := svc.Create(context.Background(), req)
			require.ErrorIs(t, err, booking.ErrInvalidRequest)
			assert.Nil(t, got)
			assert.Equal(t, tt.message, err.Error())
		})
	}
	assert.Zero(t, f.store.calls.Load())
}

func TestService_Create_TodayIsBookable(t *testing.T) {
	f := newFixture(t)
	req := f.request(t)
	req.Date = bookingtest.Today
	req.StartTime = "11:00"

	got, err := f.service().Create(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, got.SeqNumber)
	assert.Equal(t, booking.DateOf(bookingtest.Today), got.Key.Date)
}

func TestService_Create_TodayFollowsClockLocation(t *testing.T) {
	f := newFixture(t)
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	// 23:30 UTC on Friday is already Saturday morning in Tokyo.
	f.clock.Set(time.Date(2026, 10, 16, 23, 30, 0, 0, time.UTC).In(tokyo))

	req := f.request(t)
	req.Date = bookingtest.Today
	req.StartTime = "11:00"

	_, err = f.service().Create(context.Background(), req)
	assert.ErrorIs(t, err, booking.ErrInvalidRequest)
}

func TestService_Create_StoreErrorsAreClassified(t *testing.T) {
	tests := []struct {
		name      string
		injected  error
		kind      error
		retryable bool
	}{
		{"driver failure", errors.New("connection reset by peer"), booking.ErrStoreFailure, false},
		{"write conflict", booking.Conflict("update counter", errors.New("serialization failure")), booking.ErrTransactionConflict, true},
		{"deadline", context.DeadlineExceeded, booking.ErrTransactionConflict, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.store.counterErr = tt.injected
			req := f.request(t)

			_, err := f.service().Create(context.Background(), req)
			require.ErrorIs(t, err, tt.kind)
			assert.Equal(t, tt.retryable, booking.IsRetryable(err))

			_, found, err := f.repo.ReadCounter(context.Background(), booking.NewSlotKey(req.DoctorID, req.Date, req.StartTime))
			require.NoError(t, err)
			assert.False(t, found, "nothing may survive a failed transaction")
		})
	}
}

func TestService_Create_TxTimeoutIsConflict(t *testing.T) {
	repo := booking.NewMemoryRepository(0)
	doctor := bookingtest.NewDoctor(t, repo, booking.ScheduleSlot{DayOfWeek: time.Monday, StartTime: "16:00", MaxCapacity: 2})
	patient := bookingtest.NewPatient(t, repo)
	monday := bookingtest.NextWeekday(bookingtest.Today, time.Monday)
	key := booking.NewSlotKey(doctor.ID, monday, "16:00")
	ctx := context.Background()

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = repo.WithinTx(ctx, func(ctx context.Context, tx booking.Tx) error {
			if _, err := tx.EnsureAvailability(ctx, key); err != nil {
				return err
			}
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	svc := booking.NewService(repo, repo, clock.NewFixed(bookingtest.Today), zap.NewNop(),
		booking.WithTxTimeout(50*time.Millisecond))
	_, err := svc.Create(ctx, booking.BookingRequest{
		DoctorID:  doctor.ID,
		Date:      monday,
		StartTime: "16:00",
		PatientID: patient.ID,
	})
	require.ErrorIs(t, err, booking.ErrTransactionConflict)
	assert.Equal(t, "the slot is busy, please retry", err.Error())
}

func TestService_Create_RecordsMetrics(t *testing.T) {
	f := newFixture(t)
	m := metrics.NewCollector("test")
	svc := f.service(booking.WithMetrics(m))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = svc.Create(ctx, f.request(t))
	}
	req := f.request(t)
	req.StartTime = "09:00"
	_, _ = svc.Create(ctx, req)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.BookingAttempts.WithLabelValues(metrics.OutcomeBooked)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BookingAttempts.WithLabelValues(metrics.OutcomeSlotFull)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BookingAttempts.WithLabelValues(metrics.OutcomeNoSchedule)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SlotsExhausted))
}

func TestService_SlotStatus(t *testing.T) {
	f := newFixture(t)
	svc := f.service()
	ctx := context.Background()
	key := booking.NewSlotKey(f.doctor.ID, f.monday, "16:00")

	status, err := svc.SlotStatus(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 0, status.Booked)
	assert.Equal(t, 2, status.MaxCapacity)
	assert.True(t, status.AcceptingBookings)

	_, err = svc.Create(ctx, f.request(t))
	require.NoError(t, err)

	status, err = svc.SlotStatus(ctx, booking.NewSlotKey(f.doctor.ID, f.monday, "16:00"))
	require.NoError(t, err)
	assert.Equal(t, 1, status.Booked)
	assert.True(t, status.AcceptingBookings)

	_, err = svc.SlotStatus(ctx, booking.NewSlotKey(f.doctor.ID, f.monday, "10:00"))
	assert.ErrorIs(t, err, booking.ErrNoScheduleForSlot)

	_, err = svc.SlotStatus(ctx, booking.NewSlotKey(uuid.New(), f.monday, "16:00"))
	assert.ErrorIs(t, err, booking.ErrDoctorNotFound)
}
